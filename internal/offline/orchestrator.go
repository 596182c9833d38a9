// Package offline decides, per call, whether a read or write goes to the
// remote API or the local cache.
//
// Reads go remote while the connectivity signal is usable and are written
// through to the cache; when the signal is unusable, or the remote call
// fails, the same call is answered from the cache instead. Submissions are
// written locally first and pushed by a reconcile pass whenever
// connectivity comes back.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/cache"
	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
	"github.com/alexjbarnes/fieldsync/internal/remote"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

//go:generate mockgen -source=orchestrator.go -destination=mock_orchestrator_test.go -package=offline

// DefaultOfflineDelay is the pause before serving cached list data, so a
// loader does not flicker on an instant local read.
const DefaultOfflineDelay = 300 * time.Millisecond

// API is the remote surface the orchestrator reads from and pushes to.
type API interface {
	ListInspections(ctx context.Context, q models.ListQuery) ([]models.Inspection, error)
	ListSubmissions(ctx context.Context, q models.ListQuery) ([]models.Submission, error)
	ListFolder(ctx context.Context, folderID string) ([]models.DocumentNode, error)
	SubmitInspection(ctx context.Context, s models.Submission) error
}

// Connectivity reports the debounced usable signal.
type Connectivity interface {
	Usable() bool
}

// Subscriber delivers connectivity changes. reachability.Monitor
// implements it.
type Subscriber interface {
	Subscribe(fn func(usable bool)) (current bool, cancel func())
}

// Mode is the state of one data domain.
type Mode int

// Domain modes.
const (
	ModeOnlineRead Mode = iota
	ModeOfflineRead
	ModeReconcile
)

func (m Mode) String() string {
	switch m {
	case ModeOnlineRead:
		return "online_read"
	case ModeOfflineRead:
		return "offline_read"
	case ModeReconcile:
		return "reconcile"
	}

	return fmt.Sprintf("mode(%d)", int(m))
}

// Domain is an independent data area with its own mode.
type Domain string

// Data domains.
const (
	DomainInspections Domain = "inspections"
	DomainSubmissions Domain = "submissions"
	DomainDocuments   Domain = "documents"
)

// Source says where a Page came from.
type Source string

// Page sources.
const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// Page is the answer to one read.
type Page[T any] struct {
	Items  []T
	Source Source

	// Fallback is the remote failure that caused a cache answer while the
	// connectivity signal was usable. Nil otherwise.
	Fallback error
}

// Options tunes an Orchestrator.
type Options struct {
	// OfflineDelay is waited before every cache-served list. Zero
	// disables it; negative selects DefaultOfflineDelay.
	OfflineDelay time.Duration
	Sink         telemetry.Sink
	Now          func() time.Time
	NewID        func() string
}

// Orchestrator routes reads and writes for the three data domains.
type Orchestrator struct {
	api         API
	conn        Connectivity
	inspections *cache.Table[models.Inspection]
	submissions *cache.Table[models.Submission]
	documents   *cache.Table[models.DocumentNode]
	logger      *slog.Logger
	sink        telemetry.Sink
	delay       time.Duration
	now         func() time.Time
	newID       func() string

	mu         sync.Mutex
	modes      map[Domain]Mode
	lastUsable bool

	reconciling atomic.Bool
}

// New creates an Orchestrator over the given cache.
func New(api API, conn Connectivity, c *cache.Cache, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.OfflineDelay < 0 {
		opts.OfflineDelay = DefaultOfflineDelay
	}

	if opts.Sink == nil {
		opts.Sink = telemetry.Nop()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Orchestrator{
		api:         api,
		conn:        conn,
		inspections: cache.Inspections(c),
		submissions: cache.Submissions(c),
		documents:   cache.Documents(c),
		logger:      logger,
		sink:        opts.Sink,
		delay:       opts.OfflineDelay,
		now:         opts.Now,
		newID:       opts.NewID,
		modes: map[Domain]Mode{
			DomainInspections: ModeOnlineRead,
			DomainSubmissions: ModeOnlineRead,
			DomainDocuments:   ModeOnlineRead,
		},
	}
}

// Mode returns the current mode of d.
func (o *Orchestrator) Mode(d Domain) Mode {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.modes[d]
}

func (o *Orchestrator) setMode(d Domain, m Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.modes[d] = m
}

// Inspections returns one page of inspections.
func (o *Orchestrator) Inspections(ctx context.Context, q models.ListQuery) (Page[models.Inspection], error) {
	return read(ctx, o, DomainInspections, o.inspections,
		func(ctx context.Context) ([]models.Inspection, error) {
			return o.api.ListInspections(ctx, q)
		},
		func(ctx context.Context) []models.Inspection {
			var pred *cache.Predicate
			if q.AssignedTo != "" {
				pred = cache.Eq("assigned_to", q.AssignedTo)
			}

			rows := o.inspections.QueryAll(ctx, pred)
			rows = filterSearch(rows, q.Search, func(i models.Inspection) []string {
				return []string{i.Title, i.CaseNumber, i.InspectionID}
			})

			return window(rows, q)
		})
}

// Submissions returns one page of submissions, including ones still
// queued locally when served from the cache.
func (o *Orchestrator) Submissions(ctx context.Context, q models.ListQuery) (Page[models.Submission], error) {
	return read(ctx, o, DomainSubmissions, o.submissions,
		func(ctx context.Context) ([]models.Submission, error) {
			return o.api.ListSubmissions(ctx, q)
		},
		func(ctx context.Context) []models.Submission {
			return window(o.submissions.QueryAll(ctx, nil), q)
		})
}

// Folder returns the direct children of a folder.
func (o *Orchestrator) Folder(ctx context.Context, folderID string) (Page[models.DocumentNode], error) {
	return read(ctx, o, DomainDocuments, o.documents,
		func(ctx context.Context) ([]models.DocumentNode, error) {
			return o.api.ListFolder(ctx, folderID)
		},
		func(ctx context.Context) []models.DocumentNode {
			return o.documents.QueryAll(ctx, cache.Eq("parent_id", folderID))
		})
}

// read answers from the remote API when usable, writing the result
// through to table, and from local otherwise or on remote failure.
// Authentication failures are returned so the caller can prompt.
// failureLabel appends ".transient" to label when err is worth retrying,
// so retryable failures can be told apart from rejections.
func failureLabel(label string, err error) string {
	if remote.IsTransient(err) {
		return label + ".transient"
	}
	return label
}

func read[T models.Entity](
	ctx context.Context,
	o *Orchestrator,
	d Domain,
	table *cache.Table[T],
	fetch func(context.Context) ([]T, error),
	local func(context.Context) []T,
) (Page[T], error) {
	if !o.conn.Usable() {
		o.setMode(d, ModeOfflineRead)
		return fromCache(ctx, o, local, nil)
	}

	o.setMode(d, ModeOnlineRead)

	items, err := fetch(ctx)
	if err != nil {
		if apperrors.IsAuth(err) {
			return Page[T]{}, err
		}

		if ctx.Err() != nil {
			return Page[T]{}, ctx.Err()
		}

		o.logger.Warn("remote read failed, serving cache",
			slog.String("domain", string(d)),
			slog.String("error", err.Error()),
		)
		o.sink.RecordError(failureLabel("offline.read."+string(d), err), err)
		o.setMode(d, ModeOfflineRead)

		return fromCache(ctx, o, local, err)
	}

	if err := table.UpsertMany(ctx, items); err != nil {
		o.logger.Warn("read-through cache write failed",
			slog.String("domain", string(d)),
			slog.String("error", err.Error()),
		)
		o.sink.RecordError("offline.cache."+string(d), err)
	}

	if items == nil {
		items = []T{}
	}

	return Page[T]{Items: items, Source: SourceRemote}, nil
}

func fromCache[T any](ctx context.Context, o *Orchestrator, local func(context.Context) []T, fallback error) (Page[T], error) {
	if err := o.wait(ctx); err != nil {
		return Page[T]{}, err
	}

	return Page[T]{Items: local(ctx), Source: SourceCache, Fallback: fallback}, nil
}

// wait sleeps for the offline delay or until ctx is done.
func (o *Orchestrator) wait(ctx context.Context) error {
	if o.delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(o.delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// window sorts rows newest first and returns every row up to the end of
// the page q selects. Cache pages are cumulative: rows the remote already
// delivered sort in among the cached ones, so a disjoint slice could skip a
// cached row that lands in an earlier page. The reconciler drops the
// duplicates and stops once a page adds nothing. A non-positive page size
// returns everything.
func window[T models.Entity](rows []T, q models.ListQuery) []T {
	models.SortByModified(rows)

	page := max(q.Page, 1)

	if q.PageSize <= 0 {
		return rows
	}

	end := min(page*q.PageSize, len(rows))

	return rows[:end]
}

// filterSearch keeps rows where any field contains the search text,
// compared case-insensitively after NFKC normalisation.
func filterSearch[T any](rows []T, search string, fields func(T) []string) []T {
	needle := fold(search)
	if needle == "" {
		return rows
	}

	out := rows[:0]

	for _, r := range rows {
		for _, f := range fields(r) {
			if strings.Contains(fold(f), needle) {
				out = append(out, r)
				break
			}
		}
	}

	return out
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
