// Package result carries the outcome of best-effort operations. Store
// reads and fire-and-forget writes return a Result instead of panicking
// or forcing every UI call site to handle an error it cannot act on; the
// failure has already been logged and recorded by the time the caller
// sees it.
package result

// Result is either a value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps a failure. The value is the zero value of T.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Done is the successful Result of an operation with no value.
func Done() Result[struct{}] {
	return Result[struct{}]{}
}

// IsOk reports whether the operation succeeded.
func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Err returns the recorded failure, or nil.
func (r Result[T]) Err() error {
	return r.err
}

// Value returns the value, which is the zero value on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Unwrap returns the value and error as a conventional Go pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

// OrElse returns the value, or def when the operation failed.
func (r Result[T]) OrElse(def T) T {
	if r.err != nil {
		return def
	}

	return r.value
}
