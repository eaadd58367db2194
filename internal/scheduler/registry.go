package scheduler

import (
	"sync/atomic"
	"time"

	"accel-sched/internal/device"
)

const (
	// DefaultMinThreshold is the per-stream buffer count a group must reach
	// before it is switched away under normal (non-timeout) conditions.
	DefaultMinThreshold = 1

	// DefaultTimeout makes a waiting group switch-eligible immediately.
	DefaultTimeout = time.Duration(0)

	// DefaultMaxBatchSize caps in-flight buffers per stream when the group
	// descriptor does not specify one.
	DefaultMaxBatchSize = 1
)

// streamState is the per-(group,stream) record. All counters count buffers
// since the group's last finished batch; they only move forward except for
// the explicit reset at the batch boundary. Counters are atomics so
// progress queries do not need the scheduler lock, but every mutation that
// can affect a scheduling decision happens while the lock is held.
type streamState struct {
	name      string
	network   string
	direction device.StreamDirection

	// Input-side counters.
	requestedWrite atomic.Uint32 // write waits announced (entry to WaitForWrite)
	grantedWrite   atomic.Uint32 // write waits that returned success
	writtenBuffer  atomic.Uint32 // writes reported finished
	sentPending    atomic.Uint32 // written buffers handed to the device
	finishedSent   atomic.Uint32 // handed buffers the device consumed

	// Output-side counters.
	requestedRead atomic.Uint32
	grantedRead   atomic.Uint32
	finishedRead  atomic.Uint32

	minThreshold  atomic.Uint32
	enabled       atomic.Bool
	stopRequested atomic.Bool
}

func newStreamState(name, network string, direction device.StreamDirection) *streamState {
	st := &streamState{
		name:      name,
		network:   network,
		direction: direction,
	}
	st.minThreshold.Store(DefaultMinThreshold)
	st.enabled.Store(true)
	return st
}

func (st *streamState) isInput() bool {
	return st.direction == device.HostToDevice
}

// outstanding is the number of announced requests not yet granted. A
// non-current group with outstanding requests on every enabled stream is a
// candidate for activation.
func (st *streamState) outstanding() uint32 {
	if st.isInput() {
		return st.requestedWrite.Load() - st.grantedWrite.Load()
	}
	return st.requestedRead.Load() - st.grantedRead.Load()
}

// inFlight is the number of granted transfers not yet reported finished.
// A group may not be deactivated while any enabled stream has in-flight
// transfers; a buffer is never truncated mid-transfer.
func (st *streamState) inFlight() uint32 {
	if st.isInput() {
		return st.grantedWrite.Load() - st.writtenBuffer.Load()
	}
	return st.grantedRead.Load() - st.finishedRead.Load()
}

// served is the number of buffers fully serviced in the current batch.
func (st *streamState) served() uint32 {
	if st.isInput() {
		return st.writtenBuffer.Load()
	}
	return st.finishedRead.Load()
}

// resetBatch rewinds the record to the caught-up baseline after the group
// finished a batch. Requests announced beyond the serviced batch survive
// into the next episode.
func (st *streamState) resetBatch() {
	srv := st.served()
	if st.isInput() {
		st.requestedWrite.Store(st.requestedWrite.Load() - srv)
		st.grantedWrite.Store(st.grantedWrite.Load() - srv)
		st.writtenBuffer.Store(0)
		st.sentPending.Store(0)
		st.finishedSent.Store(0)
	} else {
		st.requestedRead.Store(st.requestedRead.Load() - srv)
		st.grantedRead.Store(st.grantedRead.Load() - srv)
		st.finishedRead.Store(0)
	}
}

// rollBatch retires n fully serviced buffers from the record without
// touching anything beyond them. n must not exceed served().
func (st *streamState) rollBatch(n uint32) {
	if st.isInput() {
		st.requestedWrite.Store(st.requestedWrite.Load() - n)
		st.grantedWrite.Store(st.grantedWrite.Load() - n)
		st.writtenBuffer.Store(st.writtenBuffer.Load() - n)
	} else {
		st.requestedRead.Store(st.requestedRead.Load() - n)
		st.grantedRead.Store(st.grantedRead.Load() - n)
		st.finishedRead.Store(st.finishedRead.Load() - n)
	}
}

// groupState is the per-handle record in the registry. The scheduler holds
// the only reference; groups never point back at the scheduler.
type groupState struct {
	handle    Handle
	name      string
	activator device.Activator
	desc      device.Descriptor

	streams map[string]*streamState
	inputs  []*streamState // registration order, for cheap iteration
	outputs []*streamState

	maxBatchSize uint16

	// Timeout episode state. An episode starts when the group gains its
	// first outstanding request while not current and ends when the group
	// is serviced; deadlines never carry across episodes.
	timeout        time.Duration
	timeoutFired   bool
	deadlineActive bool
	firstRequestAt time.Time
	timerEpoch     uint64
	timer          *time.Timer

	// Set while the group is resident on the device.
	activeSince time.Time
	token       device.ActivationToken
}

func newGroupState(handle Handle, activator device.Activator) (*groupState, error) {
	desc := activator.Describe()
	g := &groupState{
		handle:       handle,
		name:         desc.Name,
		activator:    activator,
		desc:         desc,
		streams:      make(map[string]*streamState),
		maxBatchSize: desc.MaxBatchSize,
		timeout:      DefaultTimeout,
	}
	if g.maxBatchSize == 0 {
		g.maxBatchSize = DefaultMaxBatchSize
	}

	for _, network := range desc.Networks {
		for _, info := range network.Streams {
			if _, dup := g.streams[info.Name]; dup {
				return nil, ErrInvalidArgument
			}
			st := newStreamState(info.Name, network.Name, info.Direction)
			g.streams[info.Name] = st
			if st.isInput() {
				g.inputs = append(g.inputs, st)
			} else {
				g.outputs = append(g.outputs, st)
			}
		}
	}
	if len(g.streams) == 0 {
		return nil, ErrInvalidArgument
	}
	return g, nil
}

// isReady reports whether the group could be activated: every enabled
// stream has at least one outstanding request, or the group's timeout has
// fired. Disabled streams never block readiness.
func (g *groupState) isReady() bool {
	if g.timeoutFired {
		return true
	}
	enabledStreams := 0
	for _, st := range g.streams {
		if !st.enabled.Load() {
			continue
		}
		enabledStreams++
		if st.outstanding() == 0 {
			return false
		}
	}
	return enabledStreams > 0
}

// hasAnyRequest reports whether any enabled stream has announced a request.
func (g *groupState) hasAnyRequest() bool {
	for _, st := range g.streams {
		if st.enabled.Load() && st.outstanding() > 0 {
			return true
		}
	}
	return false
}

// isDrained reports whether no enabled stream has a transfer in flight.
func (g *groupState) isDrained() bool {
	for _, st := range g.streams {
		if st.enabled.Load() && st.inFlight() > 0 {
			return false
		}
	}
	return true
}

// thresholdMet reports whether every enabled stream serviced at least its
// configured minimum buffer count in the current batch.
func (g *groupState) thresholdMet() bool {
	for _, st := range g.streams {
		if !st.enabled.Load() {
			continue
		}
		if st.served() < st.minThreshold.Load() {
			return false
		}
	}
	return true
}

// completedBatchFrames is the number of frames fully serviced on every
// enabled stream in the current batch: written for inputs, read out for
// outputs. This is the amount a batch boundary may retire in place.
func (g *groupState) completedBatchFrames() uint32 {
	min := uint32(0)
	found := false
	for _, st := range g.streams {
		if !st.enabled.Load() {
			continue
		}
		srv := st.served()
		if !found || srv < min {
			min = srv
			found = true
		}
	}
	return min
}

// hasUnreadOutput reports whether written input frames exist that some
// enabled output has not read back yet. A group holding unread device
// output is not switch-eligible; deactivating would lose the results.
func (g *groupState) hasUnreadOutput() bool {
	minW, ok := g.minWrittenAmongInputs()
	if !ok || minW == 0 {
		return false
	}
	for _, st := range g.outputs {
		if st.enabled.Load() && st.finishedRead.Load() < minW {
			return true
		}
	}
	return false
}

// minWrittenAmongInputs is the slowest enabled input's completed write
// count, used for intra-group back-pressure. The second return is false
// when the group has no enabled inputs.
func (g *groupState) minWrittenAmongInputs() (uint32, bool) {
	min := uint32(0)
	found := false
	for _, st := range g.inputs {
		if !st.enabled.Load() {
			continue
		}
		w := st.writtenBuffer.Load()
		if !found || w < min {
			min = w
			found = true
		}
	}
	return min, found
}

// sendAllPendingBuffers accounts the hand-off of every written buffer to
// the device at the batch boundary. The physical transfer happened as the
// writes finished; this closes the pending-buffer counters before the
// activation is torn down.
func (g *groupState) sendAllPendingBuffers() {
	for _, st := range g.inputs {
		written := st.writtenBuffer.Load()
		st.sentPending.Store(written)
		st.finishedSent.Store(written)
	}
}
