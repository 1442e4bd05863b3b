package types

// Result carries either a value or a failure reason. Store and network
// layers return it instead of collapsing "no data" and "operation failed"
// into one fallback value; callers that only want the old fallback behavior
// use OrElse.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Err wraps a failure reason.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// Value returns the value and whether it is present.
func (r Result[T]) Value() (T, bool) { return r.value, r.ok }

// Err returns the failure reason, nil on success.
func (r Result[T]) Err() error { return r.err }

// OrElse returns the value, or fallback when the result is a failure.
// This is the default-path behavior of the pre-Result code.
func (r Result[T]) OrElse(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Unwrap returns the value and error in the conventional Go shape.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }
