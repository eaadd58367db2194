package stats

import (
	"sync"
	"time"

	"accel-sched/internal/scheduler"

	"github.com/google/uuid"
)

// GroupStats accumulates per-group scheduling outcomes for one run.
type GroupStats struct {
	Group          string        `json:"group"`
	Activations    int           `json:"activations"`
	TimeoutsFired  int           `json:"timeouts_fired"`
	FramesWritten  int           `json:"frames_written"`
	FramesRead     int           `json:"frames_read"`
	StreamAborts   int           `json:"stream_aborts"`
	TotalResidency time.Duration `json:"total_residency_ns"`
}

// ActivationEvent is one residency interval of a group on the device.
type ActivationEvent struct {
	Group     string        `json:"group"`
	Handle    uint32        `json:"handle"`
	StartedAt time.Time     `json:"started_at"`
	Residency time.Duration `json:"residency_ns"`
}

// Recorder implements scheduler.Observer and accumulates the run history
// used for the summary, the spool artifact and the InfluxDB export. Hooks
// run under the scheduler lock, so the recorder does its own locking only
// against readers.
type Recorder struct {
	mu sync.Mutex

	runID     string
	startedAt time.Time

	groups      map[string]*GroupStats
	activations []ActivationEvent
	lastActive  map[scheduler.Handle]time.Time
	idleGuards  int
}

func NewRecorder() *Recorder {
	return &Recorder{
		runID:      uuid.NewString(),
		startedAt:  time.Now(),
		groups:     make(map[string]*GroupStats),
		lastActive: make(map[scheduler.Handle]time.Time),
	}
}

func (r *Recorder) RunID() string {
	return r.runID
}

func (r *Recorder) groupLocked(name string) *GroupStats {
	gs, ok := r.groups[name]
	if !ok {
		gs = &GroupStats{Group: name}
		r.groups[name] = gs
	}
	return gs
}

func (r *Recorder) GroupActivated(handle scheduler.Handle, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupLocked(group).Activations++
	r.lastActive[handle] = time.Now()
}

func (r *Recorder) GroupDeactivated(handle scheduler.Handle, group string, residency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := r.groupLocked(group)
	gs.TotalResidency += residency
	started := r.lastActive[handle]
	r.activations = append(r.activations, ActivationEvent{
		Group:     group,
		Handle:    uint32(handle),
		StartedAt: started,
		Residency: residency,
	})
}

func (r *Recorder) TimeoutFired(handle scheduler.Handle, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupLocked(group).TimeoutsFired++
}

func (r *Recorder) FrameWritten(handle scheduler.Handle, group, stream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupLocked(group).FramesWritten++
}

func (r *Recorder) FrameRead(handle scheduler.Handle, group, stream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupLocked(group).FramesRead++
}

func (r *Recorder) StreamAborted(handle scheduler.Handle, group, stream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupLocked(group).StreamAborts++
}

func (r *Recorder) IdleEntered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idleGuards++
}

func (r *Recorder) IdleExited() {}

// Snapshot returns a copy of the accumulated per-group stats.
func (r *Recorder) Snapshot() map[string]GroupStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]GroupStats, len(r.groups))
	for name, gs := range r.groups {
		out[name] = *gs
	}
	return out
}

// Activations returns the recorded residency intervals in order.
func (r *Recorder) Activations() []ActivationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivationEvent(nil), r.activations...)
}

// IdleGuardCount returns how many idle guards were acquired during the run.
func (r *Recorder) IdleGuardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idleGuards
}
