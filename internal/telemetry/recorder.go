package telemetry

import "sync"

// Record is one error captured by a Recorder.
type Record struct {
	Label string
	Err   error
}

// Recorder keeps every recorded error in memory. Tests across packages
// use it to assert that a swallowed failure was still reported.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordError stores the record.
func (r *Recorder) RecordError(label string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, Record{Label: label, Err: err})
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)

	return out
}

// Labels returns the labels of all records in order.
func (r *Recorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Label)
	}

	return out
}
