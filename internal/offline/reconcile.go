package offline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alexjbarnes/fieldsync/internal/cache"
	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
)

// ReconcileReport summarises one reconcile pass.
type ReconcileReport struct {
	Attempted int  `yaml:"attempted"`
	Synced    int  `yaml:"synced"`
	Failed    int  `yaml:"failed"`
	Skipped   bool `yaml:"skipped,omitempty"`

	// AuthFailed is set when a push was rejected for the session. The
	// remaining rows are still attempted.
	AuthFailed bool `yaml:"auth_failed,omitempty"`
}

// QueueSubmission stores a new pending submission and, when connectivity
// is usable, pushes it immediately. The local write must succeed; a failed
// push leaves the row queued for the next reconcile pass.
func (o *Orchestrator) QueueSubmission(ctx context.Context, inspectionID, contentID, payload string) (models.Submission, error) {
	now := o.now().UTC()

	s := models.Submission{
		SubmissionID: o.newID(),
		InspectionID: inspectionID,
		ContentID:    contentID,
		Payload:      payload,
		Status:       models.SubmissionPending,
		CreatedAt:    now,
		ModifiedAt:   &now,
	}

	if err := o.submissions.Upsert(ctx, s); err != nil {
		return models.Submission{}, fmt.Errorf("queueing submission: %w", err)
	}

	o.logger.Info("submission queued",
		slog.String("submission", s.SubmissionID),
		slog.String("inspection", inspectionID),
	)

	if !o.conn.Usable() {
		return s, nil
	}

	pushed, err := o.push(ctx, s)
	if err != nil {
		o.logger.Warn("immediate push failed, left queued",
			slog.String("submission", s.SubmissionID),
			slog.String("error", err.Error()),
		)
	}

	return pushed, nil
}

// Reconcile pushes every unsynced submission, oldest first. Each row is
// independent: a failure is recorded on the row and the pass moves on.
// A pass that starts while another is running is skipped.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	if !o.reconciling.CompareAndSwap(false, true) {
		return ReconcileReport{Skipped: true}, nil
	}
	defer o.reconciling.Store(false)

	o.setMode(DomainSubmissions, ModeReconcile)
	defer func() {
		if o.conn.Usable() {
			o.setMode(DomainSubmissions, ModeOnlineRead)
		} else {
			o.setMode(DomainSubmissions, ModeOfflineRead)
		}
	}()

	pending := o.submissions.QueryAll(ctx, cache.Eq("synced", false))
	slices.SortStableFunc(pending, func(a, b models.Submission) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var report ReconcileReport

	for _, s := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		report.Attempted++

		if _, err := o.push(ctx, s); err != nil {
			report.Failed++

			if apperrors.IsAuth(err) {
				report.AuthFailed = true
			}

			continue
		}

		report.Synced++
	}

	if report.Attempted > 0 {
		o.logger.Info("reconcile pass complete",
			slog.Int("attempted", report.Attempted),
			slog.Int("synced", report.Synced),
			slog.Int("failed", report.Failed),
		)
	}

	return report, nil
}

// push sends one submission and records the outcome on its row. The row
// is marked synced only after the server acknowledges it.
func (o *Orchestrator) push(ctx context.Context, s models.Submission) (models.Submission, error) {
	pushErr := o.api.SubmitInspection(ctx, s)

	now := o.now().UTC()
	s.Attempts++
	s.ModifiedAt = &now

	if pushErr != nil {
		s.Status = models.SubmissionFailed
		s.LastError = pushErr.Error()
		o.sink.RecordError(failureLabel("offline.push", pushErr), pushErr)
	} else {
		s.Status = models.SubmissionSynced
		s.Synced = true
		s.SyncedAt = &now
		s.LastError = ""
	}

	if err := o.submissions.Upsert(ctx, s); err != nil {
		o.logger.Error("recording push outcome failed",
			slog.String("submission", s.SubmissionID),
			slog.String("error", err.Error()),
		)
		o.sink.RecordError("offline.push.record", err)

		if pushErr == nil {
			return s, err
		}
	}

	return s, pushErr
}

// HandleConnectivity records the latest usable signal and runs a
// reconcile pass on an unusable to usable transition.
func (o *Orchestrator) HandleConnectivity(ctx context.Context, usable bool) {
	o.mu.Lock()
	prev := o.lastUsable
	o.lastUsable = usable
	o.mu.Unlock()

	if prev || !usable {
		return
	}

	if _, err := o.Reconcile(ctx); err != nil {
		o.logger.Warn("reconcile interrupted", slog.String("error", err.Error()))
	}
}

// Refresh is the manual pull-to-refresh trigger. It reconciles when
// connectivity is usable and reports a skipped pass otherwise.
func (o *Orchestrator) Refresh(ctx context.Context) (ReconcileReport, error) {
	if !o.conn.Usable() {
		return ReconcileReport{Skipped: true}, nil
	}

	return o.Reconcile(ctx)
}

// Watch feeds connectivity changes from sub into HandleConnectivity until
// ctx is done. The state at subscription counts as a transition, so rows
// left queued by a previous run are pushed on start when usable.
func (o *Orchestrator) Watch(ctx context.Context, sub Subscriber) {
	events := make(chan bool, 16)

	current, cancel := sub.Subscribe(func(usable bool) {
		select {
		case events <- usable:
		default:
			o.logger.Warn("connectivity event dropped, watcher busy")
		}
	})
	defer cancel()

	o.HandleConnectivity(ctx, current)

	for {
		select {
		case <-ctx.Done():
			return
		case usable := <-events:
			o.HandleConnectivity(ctx, usable)
		}
	}
}
