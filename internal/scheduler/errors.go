package scheduler

import "errors"

// Outcome taxonomy for every scheduler entry point. Blocking calls return
// exactly one of: nil (success), ErrStopped (cooperative cancellation, not a
// failure) or one of the failures below. Callers discriminate with
// errors.Is.
var (
	// ErrNotFound is returned for an unknown handle, stream or network name.
	ErrNotFound = errors.New("scheduler: unknown handle, stream or network")

	// ErrInvalidArgument is returned for malformed registration or
	// configuration input.
	ErrInvalidArgument = errors.New("scheduler: invalid argument")

	// ErrStopped is the aborted outcome of a wait on a stop-requested
	// stream. It is not a failure; the caller must stop issuing transfers
	// on the stream and must not retry the same wait.
	ErrStopped = errors.New("scheduler: stream stopped")

	// ErrResourceExhausted is returned when the handle space is used up.
	ErrResourceExhausted = errors.New("scheduler: handle space exhausted")

	// ErrInternal signals an invariant violation inside the scheduler.
	// State is not silently repaired; the error is logged and surfaced.
	ErrInternal = errors.New("scheduler: internal failure")
)
