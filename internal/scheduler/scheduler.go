package scheduler

import (
	"sync"
	"time"

	"accel-sched/internal/device"
	"accel-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

// Scheduler time-multiplexes a single physical device among registered
// network groups. One mutex/condvar pair gates every scheduling decision;
// stream threads block in WaitForWrite/WaitForRead until their group is
// resident and their batch slot is free, and report completion through the
// Signal calls. Switching between groups is decided on every counter
// change and on timer fires, never mid-transfer.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	logger   *logrus.Logger
	policy   Policy
	observer Observer

	// Registry: arena of group records indexed by handle. Handles are
	// never reused; the slice only grows.
	groups []*groupState

	current           Handle
	next              Handle
	switching         bool
	transferringBatch bool
	forcedIdle        bool
	idleHeld          bool
}

// New creates a scheduler driven by the given policy.
func New(policy Policy) (*Scheduler, error) {
	if policy == nil {
		return nil, ErrInvalidArgument
	}
	s := &Scheduler{
		logger:  logging.GetSchedulerLogger(),
		policy:  policy,
		current: InvalidHandle,
		next:    InvalidHandle,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// NewRoundRobinScheduler creates a scheduler with the round-robin fairness
// policy.
func NewRoundRobinScheduler() *Scheduler {
	s, _ := New(NewRoundRobin())
	return s
}

// SetObserver installs lifecycle hooks. Must be called before any group
// starts transferring; hooks run with the scheduler lock held.
func (s *Scheduler) SetObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = obs
}

// Register adds a network group and assigns it the next unused handle.
// The group's stream records are zero-initialized from its descriptor.
func (s *Scheduler) Register(activator device.Activator) (Handle, error) {
	if activator == nil {
		return InvalidHandle, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if Handle(len(s.groups)) >= InvalidHandle {
		return InvalidHandle, ErrResourceExhausted
	}

	handle := Handle(len(s.groups))
	g, err := newGroupState(handle, activator)
	if err != nil {
		return InvalidHandle, err
	}
	s.groups = append(s.groups, g)

	s.logger.WithFields(logrus.Fields{
		"group":      g.name,
		"handle":     handle,
		"inputs":     len(g.inputs),
		"outputs":    len(g.outputs),
		"batch_size": g.maxBatchSize,
	}).Info("Registered network group")

	return handle, nil
}

// SetTimeout configures how long the group may wait with unfulfilled
// requests before it becomes switch-eligible regardless of thresholds.
// The network name is validated against the group descriptor; the value
// applies from the group's next waiting episode.
func (s *Scheduler) SetTimeout(handle Handle, timeout time.Duration, networkName string) error {
	if timeout < 0 {
		return ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(handle)
	if err != nil {
		return err
	}
	if !g.desc.HasNetwork(networkName) {
		return ErrNotFound
	}
	g.timeout = timeout
	return nil
}

// SetThreshold configures the minimum buffer count per stream of the named
// network before the group is considered for a fairness-based switch.
func (s *Scheduler) SetThreshold(handle Handle, threshold uint32, networkName string) error {
	if threshold == 0 {
		return ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(handle)
	if err != nil {
		return err
	}
	if !g.desc.HasNetwork(networkName) {
		return ErrNotFound
	}
	for _, st := range g.streams {
		if st.network == networkName {
			st.minThreshold.Store(threshold)
		}
	}
	return nil
}

// WaitForWrite blocks the calling producer thread until it may write one
// buffer on the stream. It returns nil when the write slot is granted,
// ErrStopped when the stream was stop-requested, or ErrNotFound for an
// unknown key. The request is announced before blocking so the group's
// readiness and timeout episode see it.
func (s *Scheduler) WaitForWrite(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	if !st.isInput() {
		return ErrNotFound
	}

	st.requestedWrite.Add(1)
	s.armTimerLocked(g)
	s.evaluateLocked()

	for {
		if st.stopRequested.Load() {
			st.requestedWrite.Add(^uint32(0))
			s.maybeDisarmTimerLocked(g)
			if s.observer != nil {
				s.observer.StreamAborted(handle, g.name, streamName)
			}
			s.cond.Broadcast()
			return ErrStopped
		}
		if !st.enabled.Load() {
			// A disabled stream cannot block progress; release the
			// caller as if satisfied, without accounting a transfer.
			st.requestedWrite.Add(^uint32(0))
			s.maybeDisarmTimerLocked(g)
			return nil
		}
		if s.current == handle && !s.switching && !s.forcedIdle &&
			st.grantedWrite.Load() < uint32(g.maxBatchSize) &&
			!s.writeBackPressuredLocked(g, st) {
			break
		}
		s.cond.Wait()
	}

	st.grantedWrite.Add(1)
	if s.current == handle {
		s.transferringBatch = true
	}
	s.maybeDisarmTimerLocked(g)
	return nil
}

// SignalWriteFinish reports that the buffer granted by WaitForWrite was
// physically transferred. It may complete a batch and trigger a switch.
func (s *Scheduler) SignalWriteFinish(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	if !st.isInput() {
		return ErrNotFound
	}
	if st.writtenBuffer.Load() >= st.grantedWrite.Load() {
		if !st.enabled.Load() {
			// The matching wait was released by a disable without a
			// grant; absorb the signal, no transfer happened.
			return nil
		}
		s.logger.WithFields(logrus.Fields{
			"group":  g.name,
			"stream": streamName,
		}).Error("Write finish signaled without a granted write")
		return ErrInternal
	}

	st.writtenBuffer.Add(1)
	if s.observer != nil {
		s.observer.FrameWritten(handle, g.name, streamName)
	}
	s.evaluateLocked()
	s.cond.Broadcast()
	return nil
}

// WaitForRead blocks the calling consumer thread until device output is
// available on the stream for the resident group. Outcomes mirror
// WaitForWrite.
func (s *Scheduler) WaitForRead(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	if st.isInput() {
		return ErrNotFound
	}

	st.requestedRead.Add(1)
	s.armTimerLocked(g)
	s.evaluateLocked()

	for {
		if st.stopRequested.Load() {
			st.requestedRead.Add(^uint32(0))
			s.maybeDisarmTimerLocked(g)
			if s.observer != nil {
				s.observer.StreamAborted(handle, g.name, streamName)
			}
			s.cond.Broadcast()
			return ErrStopped
		}
		if !st.enabled.Load() {
			st.requestedRead.Add(^uint32(0))
			s.maybeDisarmTimerLocked(g)
			return nil
		}
		if s.current == handle && !s.switching && !s.forcedIdle &&
			st.grantedRead.Load() < uint32(g.maxBatchSize) &&
			s.readAvailableLocked(g, st) {
			break
		}
		s.cond.Wait()
	}

	st.grantedRead.Add(1)
	if s.current == handle {
		s.transferringBatch = true
	}
	s.maybeDisarmTimerLocked(g)
	return nil
}

// SignalReadFinish reports that the output buffer granted by WaitForRead
// was fully read. Advancing finished reads is one of the signals used to
// decide that the resident group finished its batch.
func (s *Scheduler) SignalReadFinish(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	if st.isInput() {
		return ErrNotFound
	}
	if st.finishedRead.Load() >= st.grantedRead.Load() {
		if !st.enabled.Load() {
			return nil
		}
		s.logger.WithFields(logrus.Fields{
			"group":  g.name,
			"stream": streamName,
		}).Error("Read finish signaled without a granted read")
		return ErrInternal
	}

	st.finishedRead.Add(1)
	if s.observer != nil {
		s.observer.FrameRead(handle, g.name, streamName)
	}
	s.evaluateLocked()
	s.cond.Broadcast()
	return nil
}

// EnableStream re-includes the stream in readiness and drain computations.
func (s *Scheduler) EnableStream(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	if st.enabled.Load() {
		return nil
	}
	st.enabled.Store(true)
	s.evaluateLocked()
	s.cond.Broadcast()
	return nil
}

// DisableStream logically removes the stream: it no longer participates in
// readiness or finished-batch computations, and any thread blocked on it is
// released as if satisfied.
func (s *Scheduler) DisableStream(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	if !st.enabled.Load() {
		return nil
	}
	st.enabled.Store(false)
	s.evaluateLocked()
	s.cond.Broadcast()
	return nil
}

// StopStream requests cooperative cancellation: any in-progress or future
// wait on the stream returns ErrStopped. Transfers already granted are
// still drained before the group is switched away.
func (s *Scheduler) StopStream(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	st.stopRequested.Store(true)
	s.evaluateLocked()
	s.cond.Broadcast()
	return nil
}

// ResumeStream clears a previous StopStream so new waits block normally.
func (s *Scheduler) ResumeStream(handle Handle, streamName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.streamLocked(handle, streamName)
	if err != nil {
		return err
	}
	st.stopRequested.Store(false)
	s.cond.Broadcast()
	return nil
}

// State is a snapshot of the switch engine, taken under the lock.
type State struct {
	Current           Handle
	Next              Handle
	Switching         bool
	TransferringBatch bool
	ForcedIdle        bool
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Current:           s.current,
		Next:              s.next,
		Switching:         s.switching,
		TransferringBatch: s.transferringBatch,
		ForcedIdle:        s.forcedIdle,
	}
}

// Progress is a lock-free view of one stream's counters since the group's
// last finished batch.
type Progress struct {
	RequestedWrite uint32
	GrantedWrite   uint32
	WrittenBuffer  uint32
	SentPending    uint32
	FinishedSent   uint32
	RequestedRead  uint32
	GrantedRead    uint32
	FinishedRead   uint32
}

func (s *Scheduler) StreamProgress(handle Handle, streamName string) (Progress, error) {
	s.mu.Lock()
	_, st, err := s.streamLocked(handle, streamName)
	s.mu.Unlock()
	if err != nil {
		return Progress{}, err
	}

	// Counters are atomics; reading them without the lock is the cheap
	// progress-report path for unrelated threads.
	return Progress{
		RequestedWrite: st.requestedWrite.Load(),
		GrantedWrite:   st.grantedWrite.Load(),
		WrittenBuffer:  st.writtenBuffer.Load(),
		SentPending:    st.sentPending.Load(),
		FinishedSent:   st.finishedSent.Load(),
		RequestedRead:  st.requestedRead.Load(),
		GrantedRead:    st.grantedRead.Load(),
		FinishedRead:   st.finishedRead.Load(),
	}, nil
}

// GroupName resolves a handle for logging and reporting.
func (s *Scheduler) GroupName(handle Handle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.groupLocked(handle)
	if err != nil {
		return "", err
	}
	return g.name, nil
}

func (s *Scheduler) groupLocked(handle Handle) (*groupState, error) {
	if !handle.valid() || int(handle) >= len(s.groups) {
		return nil, ErrNotFound
	}
	return s.groups[handle], nil
}

func (s *Scheduler) streamLocked(handle Handle, streamName string) (*groupState, *streamState, error) {
	g, err := s.groupLocked(handle)
	if err != nil {
		return nil, nil, err
	}
	st, ok := g.streams[streamName]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return g, st, nil
}
