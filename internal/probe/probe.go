// Package probe checks whether a usable connection is also fast enough to
// be worth a live fetch. Its answer is advisory: it gates secondary
// behaviour such as update prompts and never feeds the reachability
// signal.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAttempts is the number of round trips tried before giving up.
	DefaultAttempts = 3

	// DefaultTimeout bounds each attempt.
	DefaultTimeout = 3 * time.Second
)

// Quality is the probe verdict.
type Quality int

// Probe verdicts.
const (
	QualityPoor Quality = iota
	QualityGood
)

func (q Quality) String() string {
	if q == QualityGood {
		return "good"
	}

	return "poor"
}

// Connectivity reports the debounced usable signal.
type Connectivity interface {
	Usable() bool
}

// Options tunes a Prober.
type Options struct {
	Attempts   int
	Timeout    time.Duration
	HTTPClient *http.Client
	Sink       telemetry.Sink
}

// Prober sends HEAD requests to a known-good URL.
type Prober struct {
	url      string
	conn     Connectivity
	client   *http.Client
	attempts int
	timeout  time.Duration
	logger   *slog.Logger
	sink     telemetry.Sink
	group    singleflight.Group
}

// New creates a Prober for url. conn may be nil to always probe.
func New(url string, conn Connectivity, logger *slog.Logger, opts Options) *Prober {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	if opts.Sink == nil {
		opts.Sink = telemetry.Nop()
	}

	return &Prober{
		url:      url,
		conn:     conn,
		client:   opts.HTTPClient,
		attempts: opts.Attempts,
		timeout:  opts.Timeout,
		logger:   logger,
		sink:     opts.Sink,
	}
}

// Check returns QualityGood as soon as one attempt gets any response
// within the timeout, and QualityPoor after every attempt failed or when
// connectivity is already unusable. It never returns an error; a
// cancelled ctx yields QualityPoor.
//
// Concurrent calls share one probe. The shared probe runs detached from
// the caller that started it and is bounded by attempts times timeout, so
// one caller giving up does not turn the answer poor for the others.
func (p *Prober) Check(ctx context.Context) Quality {
	if p.conn != nil && !p.conn.Usable() {
		return QualityPoor
	}

	if ctx.Err() != nil {
		return QualityPoor
	}

	ch := p.group.DoChan("check", func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(p.attempts)*p.timeout)
		defer cancel()

		return p.check(shared), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Quality)
	case <-ctx.Done():
		return QualityPoor
	}
}

func (p *Prober) check(ctx context.Context) Quality {
	var lastErr error

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if ctx.Err() != nil {
			return QualityPoor
		}

		err := p.attempt(ctx)
		if err == nil {
			return QualityGood
		}

		lastErr = err

		p.logger.Debug("probe attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("connection quality poor", slog.Int("attempts", p.attempts))
	p.sink.RecordError("probe.check", fmt.Errorf("%d attempts failed: %w", p.attempts, lastErr))

	return QualityPoor
}

func (p *Prober) attempt(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}

	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}
