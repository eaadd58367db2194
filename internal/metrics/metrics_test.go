package metrics

import (
	"testing"
	"time"

	"accel-sched/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulerObserverUpdatesMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs, err := NewSchedulerObserver(registry)
	if err != nil {
		t.Fatalf("NewSchedulerObserver: %v", err)
	}

	// The package registers with the first registry only; a second call
	// must not fail.
	if _, err := NewSchedulerObserver(prometheus.NewRegistry()); err != nil {
		t.Fatalf("second NewSchedulerObserver: %v", err)
	}

	h := scheduler.Handle(3)
	obs.GroupActivated(h, "a")
	obs.FrameWritten(h, "a", "a-in")
	obs.FrameWritten(h, "a", "a-in")
	obs.FrameRead(h, "a", "a-out")
	obs.TimeoutFired(h, "a")
	obs.StreamAborted(h, "a", "a-in")

	if got := testutil.ToFloat64(activationsTotal.WithLabelValues("a")); got != 1 {
		t.Errorf("activations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(framesWritten.WithLabelValues("a", "a-in")); got != 2 {
		t.Errorf("frames written = %v, want 2", got)
	}
	if got := testutil.ToFloat64(framesRead.WithLabelValues("a", "a-out")); got != 1 {
		t.Errorf("frames read = %v, want 1", got)
	}
	if got := testutil.ToFloat64(timeoutsTotal.WithLabelValues("a")); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(streamAborts.WithLabelValues("a", "a-in")); got != 1 {
		t.Errorf("aborts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(activeGroupHandle); got != 3 {
		t.Errorf("active group = %v, want 3", got)
	}

	obs.GroupDeactivated(h, "a", 2*time.Millisecond)
	if got := testutil.ToFloat64(activeGroupHandle); got != -1 {
		t.Errorf("active group after deactivation = %v, want -1", got)
	}

	obs.IdleEntered()
	if got := testutil.ToFloat64(idleGuardsHeld); got != 1 {
		t.Errorf("idle guard gauge = %v, want 1", got)
	}
	obs.IdleExited()
	if got := testutil.ToFloat64(idleGuardsHeld); got != 0 {
		t.Errorf("idle guard gauge = %v, want 0", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := map[string]bool{
		"accel_sched_activations_total":       false,
		"accel_sched_group_residency_seconds": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric family %s not registered", name)
		}
	}
}
