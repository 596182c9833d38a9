// Package pagination accumulates successive pages of a list into one
// deduplicated working set, sorted newest first.
package pagination

import (
	"context"
	"sync"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
	mapset "github.com/deckarep/golang-set/v2"
)

// Cursor is the pagination position of one list.
type Cursor struct {
	PageNumber int  `yaml:"page_number"`
	HasMore    bool `yaml:"has_more"`
}

// FetchFunc loads one page. The page may come from the network or the
// cache; the reconciler does not care.
type FetchFunc[T any] func(ctx context.Context, page int) ([]T, error)

// Reconciler holds a Cursor and the accumulated list.
//
// Every reset bumps a generation counter; a response whose generation is
// no longer current is discarded with ErrSuperseded. A non-reset load
// while another load is in flight does nothing, so page N+1 is never
// requested before page N has been applied.
type Reconciler[T models.Entity] struct {
	fetch FetchFunc[T]

	mu      sync.Mutex
	cursor  Cursor
	items   []T
	seen    mapset.Set[string]
	gen     uint64
	loading bool
}

// New creates a Reconciler positioned at page 1.
func New[T models.Entity](fetch FetchFunc[T]) *Reconciler[T] {
	return &Reconciler[T]{
		fetch:  fetch,
		cursor: Cursor{PageNumber: 1, HasMore: true},
		seen:   mapset.NewThreadUnsafeSet[string](),
	}
}

// LoadPage fetches the page under the cursor and applies it.
//
// With reset the cursor returns to {1, true} and the list is replaced.
// A page that brings no new items ends the list: HasMore becomes false
// and the cursor stays put. Otherwise new items are appended, first seen
// wins on duplicate keys, and the cursor advances.
func (r *Reconciler[T]) LoadPage(ctx context.Context, reset bool) error {
	r.mu.Lock()

	if reset {
		r.gen++
		r.cursor = Cursor{PageNumber: 1, HasMore: true}
		r.items = nil
		r.seen.Clear()
	} else if r.loading || !r.cursor.HasMore {
		r.mu.Unlock()
		return nil
	}

	r.loading = true
	gen := r.gen
	page := r.cursor.PageNumber
	r.mu.Unlock()

	fetched, err := r.fetch(ctx, page)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		return apperrors.ErrSuperseded
	}

	r.loading = false

	if err != nil {
		return err
	}

	added := 0

	for _, item := range fetched {
		if r.seen.Add(item.BusinessKey()) {
			r.items = append(r.items, item)
			added++
		}
	}

	if added == 0 {
		r.cursor.HasMore = false
	} else {
		r.cursor.PageNumber++
	}

	models.SortByModified(r.items)

	return nil
}

// Items returns a copy of the accumulated list.
func (r *Reconciler[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.items))
	copy(out, r.items)

	return out
}

// Cursor returns the current cursor.
func (r *Reconciler[T]) Cursor() Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cursor
}

// Loading reports whether a load is in flight.
func (r *Reconciler[T]) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loading
}
