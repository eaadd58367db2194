package scheduler

import "math"

// Handle identifies a registered network group for the lifetime of the
// scheduler. Handles are dense, assigned in registration order and never
// reused while the scheduler instance is alive.
type Handle uint32

// InvalidHandle is distinguishable from every handle Register can return.
const InvalidHandle = Handle(math.MaxUint32)

func (h Handle) valid() bool {
	return h != InvalidHandle
}
