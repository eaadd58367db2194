package metrics

import (
	"fmt"
	"sync"
	"time"

	"accel-sched/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelGroup  = "group"
	labelStream = "stream"
)

var (
	activationsTotal  *prometheus.CounterVec
	timeoutsTotal     *prometheus.CounterVec
	framesWritten     *prometheus.CounterVec
	framesRead        *prometheus.CounterVec
	streamAborts      *prometheus.CounterVec
	residencySeconds  *prometheus.HistogramVec
	idleGuardsHeld    prometheus.Gauge
	activeGroupHandle prometheus.Gauge

	// initOnce ensures InitMetrics only registers with the first registry.
	initOnce sync.Once
	initErr  error
)

// InitMetrics registers all scheduler metrics with the provided registry.
// Thread-safe; only the first call's registry is used.
func InitMetrics(registry prometheus.Registerer) error {
	initOnce.Do(func() {
		activationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accel_sched_activations_total",
				Help: "Total number of network group activations",
			},
			[]string{labelGroup},
		)
		timeoutsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accel_sched_timeouts_fired_total",
				Help: "Total number of scheduler timeouts that made a waiting group force-eligible",
			},
			[]string{labelGroup},
		)
		framesWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accel_sched_frames_written_total",
				Help: "Buffers written to the device per stream",
			},
			[]string{labelGroup, labelStream},
		)
		framesRead = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accel_sched_frames_read_total",
				Help: "Buffers read from the device per stream",
			},
			[]string{labelGroup, labelStream},
		)
		streamAborts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accel_sched_stream_aborts_total",
				Help: "Waits released with the aborted outcome per stream",
			},
			[]string{labelGroup, labelStream},
		)
		residencySeconds = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accel_sched_group_residency_seconds",
				Help:    "Time a network group stayed resident on the device per activation",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{labelGroup},
		)
		idleGuardsHeld = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accel_sched_idle_guard_held",
				Help: "1 while an idle guard keeps the device empty",
			},
		)
		activeGroupHandle = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accel_sched_active_group",
				Help: "Handle of the resident network group, -1 when idle",
			},
		)

		collectors := []prometheus.Collector{
			activationsTotal, timeoutsTotal, framesWritten, framesRead,
			streamAborts, residencySeconds, idleGuardsHeld, activeGroupHandle,
		}
		for _, c := range collectors {
			if err := registry.Register(c); err != nil {
				initErr = fmt.Errorf("failed to register scheduler metric: %w", err)
				return
			}
		}
		activeGroupHandle.Set(-1)
	})

	return initErr
}

// SchedulerObserver feeds scheduler lifecycle events into Prometheus. It
// satisfies scheduler.Observer; hooks run under the scheduler lock, so they
// only touch local counter state.
type SchedulerObserver struct{}

// NewSchedulerObserver registers the metrics and returns the observer to
// install on the scheduler.
func NewSchedulerObserver(registry prometheus.Registerer) (*SchedulerObserver, error) {
	if err := InitMetrics(registry); err != nil {
		return nil, err
	}
	return &SchedulerObserver{}, nil
}

func (o *SchedulerObserver) GroupActivated(handle scheduler.Handle, group string) {
	activationsTotal.WithLabelValues(group).Inc()
	activeGroupHandle.Set(float64(handle))
}

func (o *SchedulerObserver) GroupDeactivated(handle scheduler.Handle, group string, residency time.Duration) {
	residencySeconds.WithLabelValues(group).Observe(residency.Seconds())
	activeGroupHandle.Set(-1)
}

func (o *SchedulerObserver) TimeoutFired(handle scheduler.Handle, group string) {
	timeoutsTotal.WithLabelValues(group).Inc()
}

func (o *SchedulerObserver) FrameWritten(handle scheduler.Handle, group, stream string) {
	framesWritten.WithLabelValues(group, stream).Inc()
}

func (o *SchedulerObserver) FrameRead(handle scheduler.Handle, group, stream string) {
	framesRead.WithLabelValues(group, stream).Inc()
}

func (o *SchedulerObserver) StreamAborted(handle scheduler.Handle, group, stream string) {
	streamAborts.WithLabelValues(group, stream).Inc()
}

func (o *SchedulerObserver) IdleEntered() {
	idleGuardsHeld.Set(1)
}

func (o *SchedulerObserver) IdleExited() {
	idleGuardsHeld.Set(0)
}
