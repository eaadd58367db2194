package scheduler

import (
	"time"

	"github.com/sirupsen/logrus"
)

// evaluateLocked is the single switch-decision point. It runs under the
// lock on every counter change, timer fire, stream toggle and idle-guard
// transition. It either activates a group onto the idle device, commits to
// a switch away from the resident group (letting in-flight transfers drain
// first), or completes a switch whose drain has finished.
func (s *Scheduler) evaluateLocked() {
	if !s.current.valid() {
		if s.forcedIdle {
			return
		}
		next := s.policy.NextReady(s.groups, InvalidHandle)
		if next.valid() {
			s.activateLocked(next)
		}
		return
	}

	cur := s.groups[s.current]
	drained := cur.isDrained()
	// The batch is over once nothing is in flight, no announced request
	// can still be granted under the batch cap and back-pressure rules,
	// and every written frame has been read back out.
	batchOver := drained && !s.groupCanProgressLocked(cur) && !cur.hasUnreadOutput()

	if !s.switching {
		timeoutForced := s.successorTimeoutFiredLocked(cur)
		wantSwitch := s.forcedIdle ||
			(batchOver && (cur.thresholdMet() || timeoutForced) &&
				s.policy.NextReady(s.groups, cur.handle).valid())
		if wantSwitch {
			s.switching = true
			s.next = s.policy.NextReady(s.groups, cur.handle)
			s.cond.Broadcast()
		} else if batchOver && s.batchCappedLocked(cur) &&
			!s.policy.NextReady(s.groups, cur.handle).valid() {
			// No successor wants the device but the resident group used up
			// its batch slots; roll the batch boundary in place so its
			// streams keep flowing.
			s.rotateBatchLocked(cur)
			s.cond.Broadcast()
			return
		} else {
			return
		}
	}

	if !cur.isDrained() {
		return
	}

	// Drain complete: close the batch, tear down the activation and hand
	// the device to the successor (or hold it idle).
	s.finishBatchLocked(cur)
	s.deactivateLocked(cur)
	s.switching = false
	s.next = InvalidHandle

	// The deactivated group may already have requests queued beyond the
	// batch it was just served; that starts a fresh waiting episode.
	s.armTimerLocked(cur)

	if s.forcedIdle {
		s.cond.Broadcast()
		return
	}

	next := s.policy.NextReady(s.groups, cur.handle)
	if next.valid() {
		s.activateLocked(next)
		return
	}
	s.cond.Broadcast()
}

// successorTimeoutFiredLocked reports whether some waiting group other than
// the resident one exceeded its timeout. This forces a switch even when the
// resident group has not finished a fair batch; the drain still completes
// before teardown.
func (s *Scheduler) successorTimeoutFiredLocked(cur *groupState) bool {
	for _, g := range s.groups {
		if g.handle != cur.handle && g.timeoutFired {
			return true
		}
	}
	return false
}

// groupCanProgressLocked reports whether any enabled, non-stopped stream of
// the group has an announced request that could still be granted in the
// current batch. While this holds, a timeout-forced switch waits: the
// announced work drains through the group before control is handed away.
func (s *Scheduler) groupCanProgressLocked(g *groupState) bool {
	for _, st := range g.streams {
		if !st.enabled.Load() || st.stopRequested.Load() {
			continue
		}
		if st.outstanding() == 0 {
			continue
		}
		if st.isInput() {
			if st.grantedWrite.Load() < uint32(g.maxBatchSize) && !s.writeBackPressuredLocked(g, st) {
				return true
			}
		} else {
			if st.grantedRead.Load() < uint32(g.maxBatchSize) && s.readAvailableLocked(g, st) {
				return true
			}
		}
	}
	return false
}

// batchCappedLocked reports whether some enabled stream of the group has
// used all of its batch slots, meaning no further grant can happen before a
// batch boundary.
func (s *Scheduler) batchCappedLocked(g *groupState) bool {
	for _, st := range g.streams {
		if !st.enabled.Load() {
			continue
		}
		granted := st.grantedWrite.Load()
		if !st.isInput() {
			granted = st.grantedRead.Load()
		}
		if granted >= uint32(g.maxBatchSize) {
			return true
		}
	}
	return false
}

// writeBackPressuredLocked blocks an input stream that has written strictly
// more buffers than the slowest enabled sibling, keeping all inputs of the
// group roughly batch-aligned.
func (s *Scheduler) writeBackPressuredLocked(g *groupState, st *streamState) bool {
	min, ok := g.minWrittenAmongInputs()
	if !ok {
		return false
	}
	return st.writtenBuffer.Load() > min
}

// readAvailableLocked reports whether device output can be outstanding for
// one more read grant. Output only exists for buffers the inputs have
// completed; groups without enabled inputs are not gated here.
func (s *Scheduler) readAvailableLocked(g *groupState, st *streamState) bool {
	min, ok := g.minWrittenAmongInputs()
	if !ok {
		return true
	}
	return st.grantedRead.Load() < min
}

// activateLocked installs the group's configuration on the device. A failed
// activation leaves the device idle; the group is reconsidered on the next
// scheduling event, never in a hot retry loop.
func (s *Scheduler) activateLocked(handle Handle) {
	if s.current.valid() {
		s.logger.WithFields(logrus.Fields{
			"current": s.current,
			"next":    handle,
		}).Error("Activation attempted while another group is resident")
		return
	}

	g := s.groups[handle]
	s.disarmTimerLocked(g)

	token, err := g.activator.Activate()
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"group":  g.name,
			"handle": handle,
		}).Error("Failed to activate network group, holding device idle")
		s.cond.Broadcast()
		return
	}

	g.token = token
	g.activeSince = time.Now()
	s.current = handle
	s.switching = false
	s.next = InvalidHandle

	if s.observer != nil {
		s.observer.GroupActivated(handle, g.name)
	}
	s.logger.WithFields(logrus.Fields{
		"group":  g.name,
		"handle": handle,
	}).Debug("Activated network group")

	s.cond.Broadcast()
}

// deactivateLocked tears down the resident activation. Only called once the
// group is drained.
func (s *Scheduler) deactivateLocked(g *groupState) {
	if g.token != nil {
		residency := time.Since(g.activeSince)
		if err := g.activator.Deactivate(g.token); err != nil {
			s.logger.WithError(err).WithField("group", g.name).Error("Failed to deactivate network group")
		}
		g.token = nil
		if s.observer != nil {
			s.observer.GroupDeactivated(g.handle, g.name, residency)
		}
		s.logger.WithFields(logrus.Fields{
			"group":        g.name,
			"handle":       g.handle,
			"residency_ms": residency.Milliseconds(),
		}).Debug("Deactivated network group")
	}
	s.current = InvalidHandle
	s.cond.Broadcast()
}

// finishBatchLocked closes the resident group's batch: pending buffers are
// accounted as handed to the device and every stream record rewinds to the
// caught-up baseline. Requests beyond the serviced batch survive.
func (s *Scheduler) finishBatchLocked(g *groupState) {
	g.sendAllPendingBuffers()
	for _, st := range g.streams {
		st.resetBatch()
	}
	s.transferringBatch = false
	s.disarmTimerLocked(g)
}

// rotateBatchLocked rolls the batch boundary forward in place for a
// resident group that exhausted its batch slots with no successor waiting.
// Only frames fully serviced on every enabled stream are retired, so the
// accounting of written-but-unread device output survives the roll.
func (s *Scheduler) rotateBatchLocked(g *groupState) {
	done := g.completedBatchFrames()
	if done == 0 {
		return
	}
	for _, st := range g.streams {
		if st.enabled.Load() {
			st.rollBatch(done)
		} else {
			// Disabled streams do not participate in the roll; close
			// their record the way a full batch boundary would.
			st.resetBatch()
		}
	}
	s.transferringBatch = false
}

// armTimerLocked starts a waiting episode for a non-resident group that has
// an unfulfilled request and no armed deadline. A zero timeout makes the
// group force-eligible immediately.
func (s *Scheduler) armTimerLocked(g *groupState) {
	if g.handle == s.current || g.deadlineActive || !g.hasAnyRequest() {
		return
	}

	g.deadlineActive = true
	g.firstRequestAt = time.Now()
	g.timeoutFired = false
	g.timerEpoch++

	if g.timeout <= 0 {
		g.timeoutFired = true
		if s.observer != nil {
			s.observer.TimeoutFired(g.handle, g.name)
		}
		return
	}

	epoch := g.timerEpoch
	handle := g.handle
	g.timer = time.AfterFunc(g.timeout, func() {
		s.timerFired(handle, epoch)
	})
}

// timerFired runs on the timer goroutine. Epochs guard against fires from
// an episode that was already disarmed; deadlines never carry across
// episodes.
func (s *Scheduler) timerFired(handle Handle, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(handle)
	if err != nil {
		return
	}
	if !g.deadlineActive || g.timerEpoch != epoch || g.timeoutFired {
		return
	}

	g.timeoutFired = true
	s.logger.WithFields(logrus.Fields{
		"group":      g.name,
		"handle":     handle,
		"timeout_ms": g.timeout.Milliseconds(),
	}).Debug("Scheduler timeout fired, group is now force-eligible")

	if s.observer != nil {
		s.observer.TimeoutFired(handle, g.name)
	}
	s.evaluateLocked()
	s.cond.Broadcast()
}

func (s *Scheduler) disarmTimerLocked(g *groupState) {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.deadlineActive = false
	g.timeoutFired = false
	g.timerEpoch++
}

// maybeDisarmTimerLocked ends the waiting episode once the group has no
// outstanding requests left.
func (s *Scheduler) maybeDisarmTimerLocked(g *groupState) {
	if g.deadlineActive && !g.hasAnyRequest() {
		s.disarmTimerLocked(g)
	}
}
