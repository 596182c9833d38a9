package pagination

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/debounce"
	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
)

// Loader loads one page for a query.
type Loader[T any] func(ctx context.Context, q models.ListQuery) ([]T, error)

// ViewOptions tunes a View.
type ViewOptions struct {
	SearchDelay time.Duration
	After       debounce.AfterFunc
	Logger      *slog.Logger

	// OnSearchLoaded, if set, receives the outcome of each load started
	// by a settled search.
	OnSearchLoaded func(err error)
}

// View is one list screen's state: a base query, debounced search text
// and the reconciled pages.
type View[T models.Entity] struct {
	rec    *Reconciler[T]
	search *Search
	ctx    context.Context
	logger *slog.Logger
	onLoad func(error)

	mu    sync.Mutex
	query models.ListQuery
}

// NewView creates a View. ctx scopes loads started by search input.
func NewView[T models.Entity](ctx context.Context, base models.ListQuery, load Loader[T], opts ViewOptions) *View[T] {
	if opts.SearchDelay <= 0 {
		opts.SearchDelay = DefaultSearchDebounce
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	v := &View[T]{
		ctx:    ctx,
		logger: opts.Logger,
		onLoad: opts.OnSearchLoaded,
		query:  base,
	}

	v.rec = New(func(ctx context.Context, page int) ([]T, error) {
		v.mu.Lock()
		q := v.query
		v.mu.Unlock()

		q.Page = page

		return load(ctx, q)
	})

	v.search = NewSearch(opts.SearchDelay, opts.After, v.applySearch)

	return v
}

func (v *View[T]) applySearch(text string) {
	v.mu.Lock()
	v.query.Search = text
	v.mu.Unlock()

	err := v.rec.LoadPage(v.ctx, true)
	if err != nil && !errors.Is(err, apperrors.ErrSuperseded) {
		v.logger.Warn("search load failed", slog.String("error", err.Error()))
	}

	if v.onLoad != nil {
		v.onLoad(err)
	}
}

// Search feeds search input through the debouncer.
func (v *View[T]) Search(text string) {
	v.search.Input(text)
}

// SetFilter changes the assignee filter and reloads from page 1. The
// search text is kept.
func (v *View[T]) SetFilter(ctx context.Context, assignedTo string) error {
	v.mu.Lock()
	v.query.AssignedTo = assignedTo
	v.mu.Unlock()

	return v.rec.LoadPage(ctx, true)
}

// Refresh reloads from page 1.
func (v *View[T]) Refresh(ctx context.Context) error {
	return v.rec.LoadPage(ctx, true)
}

// More loads the next page.
func (v *View[T]) More(ctx context.Context) error {
	return v.rec.LoadPage(ctx, false)
}

// Items returns the accumulated list.
func (v *View[T]) Items() []T {
	return v.rec.Items()
}

// Cursor returns the pagination cursor.
func (v *View[T]) Cursor() Cursor {
	return v.rec.Cursor()
}

// Query returns the query the next load will use, minus the page.
func (v *View[T]) Query() models.ListQuery {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.query
}

// Close cancels pending search input.
func (v *View[T]) Close() {
	v.search.Stop()
}
