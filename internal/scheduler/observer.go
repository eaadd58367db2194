package scheduler

import "time"

// Observer receives scheduler lifecycle events. Hooks are invoked with the
// scheduler lock held and must return quickly without calling back into the
// scheduler. A nil observer disables all hooks.
type Observer interface {
	GroupActivated(handle Handle, group string)
	GroupDeactivated(handle Handle, group string, residency time.Duration)
	TimeoutFired(handle Handle, group string)
	FrameWritten(handle Handle, group, stream string)
	FrameRead(handle Handle, group, stream string)
	StreamAborted(handle Handle, group, stream string)
	IdleEntered()
	IdleExited()
}
