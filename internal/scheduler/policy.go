package scheduler

// Policy selects the next group to activate. Implementations are consulted
// with the scheduler lock held and must not call back into the scheduler;
// they only read the registry snapshot they are given.
type Policy interface {
	Name() string

	// NextReady returns the handle of the group to activate next, or
	// InvalidHandle when none qualifies. current is the group being
	// switched away from (InvalidHandle when the device is idle); the
	// returned handle is never equal to current.
	NextReady(groups []*groupState, current Handle) Handle
}

// RoundRobin scans handles in a fixed cyclic order starting immediately
// after the current group and returns the first ready one. Ties are broken
// purely by cyclic position, so no ready group is skipped twice while
// another ready group runs.
type RoundRobin struct{}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (p *RoundRobin) Name() string {
	return "round_robin"
}

func (p *RoundRobin) NextReady(groups []*groupState, current Handle) Handle {
	n := uint32(len(groups))
	if n == 0 {
		return InvalidHandle
	}

	start := uint32(0)
	steps := n
	if current.valid() {
		start = (uint32(current) + 1) % n
		steps = n - 1 // the current group is not its own successor
	}

	for i := uint32(0); i < steps; i++ {
		idx := (start + i) % n
		if groups[idx].isReady() {
			return Handle(idx)
		}
	}
	return InvalidHandle
}
