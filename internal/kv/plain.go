package kv

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/result"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
	bolt "go.etcd.io/bbolt"
)

// Flag names a non-sensitive value held in the PlainStore.
type Flag string

// Well-known flags. NavigationContinue holds the folder path browsed last,
// joined with "/".
const (
	LastUpdateCheck        Flag = "last_update_check"
	LastKnownOnline        Flag = "last_known_online"
	NavigationContinue     Flag = "navigation_continue"
	OptionalUpdateDeferred Flag = "optional_update_deferred"
)

var flagsBucket = []byte("flags")

// PlainStore is an unencrypted key/value store for app flags.
type PlainStore struct {
	db     *bolt.DB
	logger *slog.Logger
	sink   telemetry.Sink
}

// OpenPlainStore opens the store at path, creating it if it does not exist.
func OpenPlainStore(path string, logger *slog.Logger, sink telemetry.Sink) (*PlainStore, error) {
	db, err := openBolt(path, flagsBucket)
	if err != nil {
		return nil, err
	}

	if sink == nil {
		sink = telemetry.Nop()
	}

	return &PlainStore{db: db, logger: logger, sink: sink}, nil
}

// Close closes the database.
func (s *PlainStore) Close() error {
	return s.db.Close()
}

// Get returns the raw value of flag, or an empty Ok result when unset.
func (s *PlainStore) Get(flag Flag) result.Result[string] {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(flagsBucket).Get([]byte(flag)); v != nil {
			value = string(v)
		}

		return nil
	})
	if err != nil {
		s.sink.RecordError("plainstore.get", err)
		return result.Err[string](err)
	}

	return result.Ok(value)
}

// Set stores value under flag. Failures are logged and recorded.
func (s *PlainStore) Set(flag Flag, value string) result.Result[struct{}] {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(flagsBucket).Put([]byte(flag), []byte(value))
	})
	if err != nil {
		s.logger.Warn("plain store write failed", slog.String("flag", string(flag)), slog.String("error", err.Error()))
		s.sink.RecordError("plainstore.set", err)

		return result.Err[struct{}](fmt.Errorf("writing %s: %w", flag, err))
	}

	return result.Done()
}

// Delete removes flag.
func (s *PlainStore) Delete(flag Flag) result.Result[struct{}] {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(flagsBucket).Delete([]byte(flag))
	})
	if err != nil {
		s.sink.RecordError("plainstore.delete", err)
		return result.Err[struct{}](err)
	}

	return result.Done()
}

// Bool returns the flag as a boolean. Unset or unparsable values are false.
func (s *PlainStore) Bool(flag Flag) bool {
	b, err := strconv.ParseBool(s.Get(flag).OrElse(""))
	if err != nil {
		return false
	}

	return b
}

// SetBool stores a boolean flag.
func (s *PlainStore) SetBool(flag Flag, v bool) result.Result[struct{}] {
	return s.Set(flag, strconv.FormatBool(v))
}

// Time returns the flag as a timestamp and whether it was set.
func (s *PlainStore) Time(flag Flag) (time.Time, bool) {
	raw := s.Get(flag).OrElse("")
	if raw == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// SetTime stores a timestamp flag.
func (s *PlainStore) SetTime(flag Flag, t time.Time) result.Result[struct{}] {
	return s.Set(flag, t.UTC().Format(time.RFC3339Nano))
}
