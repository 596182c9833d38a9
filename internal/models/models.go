// Package models defines the entities shared across internal packages:
// the records cached locally and exchanged with the remote API.
package models

import (
	"slices"
	"time"
)

// Entity is a locally cached record addressed by a business identifier.
type Entity interface {
	BusinessKey() string
	LastModified() time.Time
}

// ListQuery selects one page of a remote list.
type ListQuery struct {
	Page       int
	PageSize   int
	Search     string
	AssignedTo string
}

// modified returns t, or the zero epoch when t is missing, so records
// without a timestamp order after every dated record.
func modified(t *time.Time) time.Time {
	if t == nil {
		return time.Unix(0, 0).UTC()
	}

	return *t
}

// SortByModified stably sorts items by last-modified time, newest first.
// Items without a timestamp sort after every dated item and keep their
// relative order.
func SortByModified[T Entity](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		return b.LastModified().Compare(a.LastModified())
	})
}
