package workload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"accel-sched/internal/logging"
	"accel-sched/internal/scheduler"

	"github.com/sirupsen/logrus"
)

// StreamSpec binds one scheduler stream to a drive loop.
type StreamSpec struct {
	Handle scheduler.Handle
	Group  string
	Stream string
	Input  bool

	// Frames caps how many buffers the driver pushes; zero means drive
	// until the run context is cancelled.
	Frames int

	// TransferTime simulates the per-buffer DMA cost.
	TransferTime time.Duration
}

// Runner drives one goroutine per stream through the scheduler's
// wait/signal contract, standing in for the transport layer of a real
// runtime. Producers write, consumers read; both exit cleanly on the
// aborted outcome.
type Runner struct {
	sched  *scheduler.Scheduler
	logger *logrus.Logger

	specs []StreamSpec
	wg    sync.WaitGroup

	framesMoved atomic.Int64
}

func NewRunner(sched *scheduler.Scheduler, specs []StreamSpec) *Runner {
	return &Runner{
		sched:  sched,
		logger: logging.GetLogger(),
		specs:  specs,
	}
}

// Start launches all stream drivers. Call Wait to join them.
func (r *Runner) Start(ctx context.Context) {
	for _, spec := range r.specs {
		r.wg.Add(1)
		go func(spec StreamSpec) {
			defer r.wg.Done()
			r.drive(ctx, spec)
		}(spec)
	}
}

// Stop requests cooperative cancellation on every stream, releasing any
// driver blocked in a wait.
func (r *Runner) Stop() {
	for _, spec := range r.specs {
		if err := r.sched.StopStream(spec.Handle, spec.Stream); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"group":  spec.Group,
				"stream": spec.Stream,
			}).Warn("Failed to stop stream")
		}
	}
}

// Wait blocks until every driver has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// FramesMoved returns the total buffers transferred across all streams.
func (r *Runner) FramesMoved() int64 {
	return r.framesMoved.Load()
}

func (r *Runner) drive(ctx context.Context, spec StreamSpec) {
	fields := logrus.Fields{
		"group":  spec.Group,
		"stream": spec.Stream,
	}

	for frame := 0; spec.Frames == 0 || frame < spec.Frames; frame++ {
		if ctx.Err() != nil {
			return
		}

		var err error
		if spec.Input {
			err = r.sched.WaitForWrite(spec.Handle, spec.Stream)
		} else {
			err = r.sched.WaitForRead(spec.Handle, spec.Stream)
		}
		if errors.Is(err, scheduler.ErrStopped) {
			r.logger.WithFields(fields).Debug("Stream driver stopped")
			return
		}
		if err != nil {
			r.logger.WithError(err).WithFields(fields).Error("Stream wait failed")
			return
		}

		if spec.TransferTime > 0 {
			time.Sleep(spec.TransferTime)
		}

		if spec.Input {
			err = r.sched.SignalWriteFinish(spec.Handle, spec.Stream)
		} else {
			err = r.sched.SignalReadFinish(spec.Handle, spec.Stream)
		}
		if err != nil {
			r.logger.WithError(err).WithFields(fields).Error("Stream finish signal failed")
			return
		}
		r.framesMoved.Add(1)
	}

	r.logger.WithFields(fields).Debug("Stream driver reached its frame budget")
}
