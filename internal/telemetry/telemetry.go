// Package telemetry defines the error sink every caught failure in the
// data access core is reported to. Recording never blocks the caller.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives caught errors with a short label naming where they
// happened (for example "securestore.set").
type Sink interface {
	RecordError(label string, err error)
}

// Nop returns a sink that discards everything.
func Nop() Sink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) RecordError(string, error) {}

// LogSink writes each recorded error to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs at warn level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// RecordError logs the error with its label.
func (s *LogSink) RecordError(label string, err error) {
	if err == nil {
		return
	}

	s.logger.Warn("recorded error",
		slog.String("label", label),
		slog.String("error", err.Error()),
	)
}

const (
	// asyncSinkBuffer is the number of records queued for the
	// background writer before new records are dropped.
	asyncSinkBuffer = 128
)

type record struct {
	label string
	err   error
}

// AsyncSink forwards records to another sink from a background goroutine.
// When the buffer is full the record is dropped and counted, so a slow
// backend can never stall a read or write path.
type AsyncSink struct {
	next    Sink
	ch      chan record
	done    chan struct{}
	dropped atomic.Int64
	once    sync.Once
}

// NewAsyncSink starts the forwarding goroutine. Call Close to flush and
// stop it.
func NewAsyncSink(next Sink) *AsyncSink {
	s := &AsyncSink{
		next: next,
		ch:   make(chan record, asyncSinkBuffer),
		done: make(chan struct{}),
	}

	go s.loop()

	return s
}

func (s *AsyncSink) loop() {
	defer close(s.done)

	for r := range s.ch {
		s.next.RecordError(r.label, r.err)
	}
}

// RecordError enqueues the record without blocking.
func (s *AsyncSink) RecordError(label string, err error) {
	if err == nil {
		return
	}

	select {
	case s.ch <- record{label: label, err: err}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of records discarded because the buffer
// was full.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains queued records and stops the goroutine. RecordError must
// not be called after Close.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
}
