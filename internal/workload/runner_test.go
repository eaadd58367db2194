package workload

import (
	"context"
	"testing"
	"time"

	"accel-sched/internal/device"
	"accel-sched/internal/scheduler"
)

func pipelineDescriptor(name string) device.Descriptor {
	return device.Descriptor{
		Name: name,
		Networks: []device.NetworkInfo{{
			Name: name + "-net",
			Streams: []device.StreamInfo{
				{Name: name + "-in", Direction: device.HostToDevice},
				{Name: name + "-out", Direction: device.DeviceToHost},
			},
		}},
	}
}

func TestRunnerDrivesFrameBudget(t *testing.T) {
	sched := scheduler.NewRoundRobinScheduler()
	dev := device.NewSimDevice(0)
	handle, err := sched.Register(dev.Group(pipelineDescriptor("g")))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const frames = 3
	runner := NewRunner(sched, []StreamSpec{
		{Handle: handle, Group: "g", Stream: "g-in", Input: true, Frames: frames},
		{Handle: handle, Group: "g", Stream: "g-out", Frames: frames},
	})

	runner.Start(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not reach its frame budget")
	}

	if got := runner.FramesMoved(); got != 2*frames {
		t.Fatalf("frames moved = %d, want %d", got, 2*frames)
	}
}

func TestRunnerStopReleasesDrivers(t *testing.T) {
	sched := scheduler.NewRoundRobinScheduler()
	dev := device.NewSimDevice(0)
	handle, err := sched.Register(dev.Group(pipelineDescriptor("g")))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Unbounded drivers with a small transfer cost; only Stop ends them.
	runner := NewRunner(sched, []StreamSpec{
		{Handle: handle, Group: "g", Stream: "g-in", Input: true, TransferTime: time.Millisecond},
		{Handle: handle, Group: "g", Stream: "g-out", TransferTime: time.Millisecond},
	})

	runner.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	runner.Stop()

	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drivers did not exit after stop")
	}

	if runner.FramesMoved() == 0 {
		t.Fatal("no frames moved before stop")
	}
}
