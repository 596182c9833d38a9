package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
	"gorm.io/gorm"
)

// Predicate is an equality filter on one indexed column.
type Predicate struct {
	Column string
	Value  any
}

// Eq builds a Predicate.
func Eq(column string, value any) *Predicate {
	return &Predicate{Column: column, Value: value}
}

// Table is the typed view of one entity table.
type Table[T models.Entity] struct {
	c         *Cache
	keyColumn string
	queryable map[string]struct{}
}

// NewTable creates a table view. keyColumn holds the business key;
// queryable lists the columns QueryAll accepts in a Predicate.
func NewTable[T models.Entity](c *Cache, keyColumn string, queryable ...string) *Table[T] {
	cols := make(map[string]struct{}, len(queryable)+1)
	cols[keyColumn] = struct{}{}

	for _, q := range queryable {
		cols[q] = struct{}{}
	}

	return &Table[T]{c: c, keyColumn: keyColumn, queryable: cols}
}

// Upsert inserts e, or replaces every column of the existing row with the
// same business key. Zero values overwrite.
func (t *Table[T]) Upsert(ctx context.Context, e T) error {
	err := t.c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return t.upsert(tx, e)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrCacheWrite, e.BusinessKey(), err)
	}

	return nil
}

// UpsertMany upserts all entities in one transaction. Either every row is
// written or none is.
func (t *Table[T]) UpsertMany(ctx context.Context, es []T) error {
	if len(es) == 0 {
		return nil
	}

	err := t.c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range es {
			if err := t.upsert(tx, e); err != nil {
				return fmt.Errorf("%s: %w", e.BusinessKey(), err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCacheWrite, err)
	}

	return nil
}

func (t *Table[T]) upsert(tx *gorm.DB, e T) error {
	key := e.BusinessKey()
	if key == "" {
		return errors.New("empty business key")
	}

	var n int64
	if err := tx.Model(new(T)).Where(t.keyColumn+" = ?", key).Count(&n).Error; err != nil {
		return err
	}

	if n == 0 {
		return tx.Create(&e).Error
	}

	return tx.Model(&e).Select("*").Updates(&e).Error
}

// QueryAll returns every row, or the rows matching pred. It never fails:
// an unknown column or a database error is logged, recorded and yields an
// empty result.
func (t *Table[T]) QueryAll(ctx context.Context, pred *Predicate) []T {
	q := t.c.db.WithContext(ctx).Model(new(T))

	if pred != nil {
		if _, ok := t.queryable[pred.Column]; !ok {
			err := fmt.Errorf("%w: %q", apperrors.ErrUnknownColumn, pred.Column)
			t.c.logger.Warn("rejected cache query", slog.String("error", err.Error()))
			t.c.sink.RecordError("cache.query", err)

			return []T{}
		}

		q = q.Where(pred.Column+" = ?", pred.Value)
	}

	var out []T
	if err := q.Find(&out).Error; err != nil {
		t.c.logger.Warn("cache query failed", slog.String("error", err.Error()))
		t.c.sink.RecordError("cache.query", err)

		return []T{}
	}

	return out
}

// Get returns the row with the given business key and whether it exists.
func (t *Table[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var out T

	err := t.c.db.WithContext(ctx).Where(t.keyColumn+" = ?", key).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, false, nil
	}

	if err != nil {
		t.c.sink.RecordError("cache.get", err)
		return out, false, fmt.Errorf("reading %s: %w", key, err)
	}

	return out, true, nil
}

// Count returns the number of rows, or zero on error.
func (t *Table[T]) Count(ctx context.Context) int64 {
	var n int64
	if err := t.c.db.WithContext(ctx).Model(new(T)).Count(&n).Error; err != nil {
		t.c.sink.RecordError("cache.count", err)
		return 0
	}

	return n
}
