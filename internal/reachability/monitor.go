// Package reachability turns raw link and reachability observations into a
// single debounced "usable" signal.
//
// Raw observations arrive in bursts (interface flaps, resolver rewrites,
// explicit Notify calls). The Monitor coalesces them with a trailing
// debounce and only tells subscribers when the usable value actually
// changes. Returning to the foreground skips the debounce so the first
// screen after resume sees a fresh answer.
package reachability

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/debounce"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
)

const (
	// DefaultDebounce is the quiet window applied to raw observations.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultMinBackoff is the first re-probe delay while unusable.
	DefaultMinBackoff = 5 * time.Second

	// DefaultMaxBackoff caps the re-probe delay.
	DefaultMaxBackoff = 5 * time.Minute

	backoffMultiplier = 2

	// jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2
)

// Status is one raw observation of the network.
type Status struct {
	Connected         bool
	Reachable         bool
	ReachabilityKnown bool
}

// Usable is Connected && Reachable. When reachability could not be
// determined the link state alone decides.
func (s Status) Usable() bool {
	if !s.Connected {
		return false
	}

	if !s.ReachabilityKnown {
		return true
	}

	return s.Reachable
}

// Prober takes a raw observation.
type Prober interface {
	Probe(ctx context.Context) (Status, error)
}

// AppState is the host application lifecycle state.
type AppState int

// Lifecycle states.
const (
	StateActive AppState = iota
	StateInactive
	StateBackground
)

func (s AppState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Options tunes a Monitor. Zero values select the defaults.
type Options struct {
	Debounce   time.Duration
	After      debounce.AfterFunc
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Sink       telemetry.Sink
}

// Monitor owns the usable signal.
type Monitor struct {
	prober Prober
	logger *slog.Logger
	sink   telemetry.Sink
	deb    *debounce.Debouncer

	minBackoff time.Duration
	maxBackoff time.Duration

	// applyMu serializes applies so a change and its fan-out complete
	// before the next change is decided. Subscribers therefore see changes
	// in the order the monitor made them.
	applyMu sync.Mutex

	mu       sync.Mutex
	usable   bool
	last     Status
	appState AppState
	subs     map[uint64]func(bool)
	nextSub  uint64

	// changed is signalled after every emitted change so Run can reset
	// its backoff without polling.
	changed chan struct{}
}

// New creates a Monitor. The initial state is unusable until the first
// observation is applied.
func New(prober Prober, logger *slog.Logger, opts Options) *Monitor {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}

	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}

	if opts.Sink == nil {
		opts.Sink = telemetry.Nop()
	}

	return &Monitor{
		prober:     prober,
		logger:     logger,
		sink:       opts.Sink,
		deb:        debounce.New(opts.Debounce, opts.After),
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		subs:       make(map[uint64]func(bool)),
		changed:    make(chan struct{}, 1),
	}
}

// Usable returns the last emitted value.
func (m *Monitor) Usable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.usable
}

// Last returns the most recently applied raw observation.
func (m *Monitor) Last() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last
}

// Subscribe registers fn for changes and returns the current value.
// Callbacks run on the goroutine that applied the change, one change at a
// time, and must not call Observe, Notify or Refresh synchronously.
func (m *Monitor) Subscribe(fn func(bool)) (bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	var once sync.Once

	return m.usable, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Observe feeds one raw observation through the debounce.
func (m *Monitor) Observe(st Status) {
	m.deb.Trigger(func() {
		m.apply(st, "debounced")
	})
}

// Notify probes and feeds the result through the debounce. A probe error
// is observed as unusable.
func (m *Monitor) Notify(ctx context.Context) {
	m.Observe(m.probe(ctx))
}

// Refresh probes and applies the result immediately, cancelling any
// pending debounced observation.
func (m *Monitor) Refresh(ctx context.Context) bool {
	st := m.probe(ctx)

	m.deb.Stop()
	m.apply(st, "immediate")

	return st.Usable()
}

// SetAppState records a lifecycle change. Coming back to active from
// background or inactive re-probes at once.
func (m *Monitor) SetAppState(ctx context.Context, state AppState) {
	m.mu.Lock()
	prev := m.appState
	m.appState = state
	m.mu.Unlock()

	if prev != StateActive && state == StateActive {
		m.logger.Debug("foreground, re-probing",
			slog.String("from", prev.String()),
		)
		m.Refresh(ctx)
	}
}

// Run takes an initial observation and then, while unusable, re-probes
// with exponential backoff until usable again. It blocks until ctx is
// done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Refresh(ctx)

	backoff := m.minBackoff

	for {
		if m.Usable() {
			backoff = m.minBackoff

			select {
			case <-ctx.Done():
				m.deb.Stop()
				return ctx.Err()
			case <-m.changed:
			}

			continue
		}

		jitter := time.Duration(rand.Int63n(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: reprobe jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.deb.Stop()

			return ctx.Err()
		case <-m.changed:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if m.Refresh(ctx) {
			continue
		}

		m.logger.Debug("still unusable",
			slog.Duration("backoff", backoff),
		)
		backoff = min(backoff*backoffMultiplier, m.maxBackoff)
	}
}

// Close cancels any pending debounced observation.
func (m *Monitor) Close() {
	m.deb.Stop()
}

func (m *Monitor) probe(ctx context.Context) Status {
	st, err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.Warn("reachability probe failed",
			slog.String("error", err.Error()),
		)
		m.sink.RecordError("reachability.probe", err)

		return Status{}
	}

	return st
}

func (m *Monitor) apply(st Status, how string) {
	usable := st.Usable()

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	m.last = st

	if usable == m.usable {
		m.mu.Unlock()
		return
	}

	m.usable = usable

	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		slog.Bool("usable", usable),
		slog.Bool("connected", st.Connected),
		slog.Bool("reachable", st.Reachable),
		slog.String("via", how),
	)

	for _, fn := range subs {
		fn(usable)
	}

	select {
	case m.changed <- struct{}{}:
	default:
	}
}
