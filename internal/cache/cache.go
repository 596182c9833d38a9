// Package cache is the local durable cache: a sqlite database holding
// denormalized copies of server entities for offline reads. Rows are only
// ever inserted or fully replaced; the cache never deletes on its own.
package cache

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alexjbarnes/fieldsync/internal/models"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const cacheDirPerm = fs.FileMode(0o700)

// Cache owns the database handle shared by every Table.
type Cache struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *slog.Logger
	sink   telemetry.Sink
}

// Open opens (creating if needed) the cache database at path and migrates
// the entity tables.
func Open(path string, logger *slog.Logger, sink telemetry.Sink) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting cache connection: %w", err)
	}

	// sqlite serializes writers anyway; one connection keeps every
	// statement on the same handle.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Inspection{}, &models.DocumentNode{}, &models.Submission{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating cache db: %w", err)
	}

	if sink == nil {
		sink = telemetry.Nop()
	}

	return &Cache{db: db, sqlDB: sqlDB, logger: logger, sink: sink}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.sqlDB.Close()
}

// Inspections returns the inspections table, queryable by assignee,
// status and content id.
func Inspections(c *Cache) *Table[models.Inspection] {
	return NewTable[models.Inspection](c, "inspection_id", "assigned_to", "status", "content_id")
}

// Documents returns the folder listing table, queryable by parent and kind.
func Documents(c *Cache) *Table[models.DocumentNode] {
	return NewTable[models.DocumentNode](c, "node_id", "parent_id", "kind")
}

// Submissions returns the queued submissions table, queryable by
// inspection, sync flag and status.
func Submissions(c *Cache) *Table[models.Submission] {
	return NewTable[models.Submission](c, "submission_id", "inspection_id", "synced", "status")
}
