package scheduler

// IdleGuard is a scoped mutual-exclusion token guaranteeing that nothing is
// resident on the device for as long as it is held. External code acquires
// it before observing or mutating device state that requires an empty
// device. At most one guard is outstanding at a time.
type IdleGuard struct {
	s        *Scheduler
	released bool
}

// AcquireIdleGuard blocks until (a) any previously issued guard has been
// released and (b) the resident group, if any, has drained its in-flight
// transfers and been deactivated. From the moment it returns until Release,
// no group can be activated.
func (s *Scheduler) AcquireIdleGuard() *IdleGuard {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.idleHeld {
		s.cond.Wait()
	}
	s.idleHeld = true
	s.forcedIdle = true

	if s.observer != nil {
		s.observer.IdleEntered()
	}
	s.logger.Debug("Idle guard requested, draining resident group")

	s.evaluateLocked()
	for s.current.valid() {
		s.cond.Wait()
	}

	s.logger.Debug("Idle guard acquired, device is empty")
	return &IdleGuard{s: s}
}

// Release ends the exclusion and resumes normal scheduling. Releasing an
// already-released guard is a no-op, so Release is safe to defer on every
// exit path.
func (g *IdleGuard) Release() {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.released {
		return
	}
	g.released = true
	s.forcedIdle = false
	s.idleHeld = false

	if s.observer != nil {
		s.observer.IdleExited()
	}
	s.logger.Debug("Idle guard released, scheduling resumes")

	s.evaluateLocked()
	s.cond.Broadcast()
}
