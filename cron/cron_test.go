package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func count(n *atomic.Int32) Job {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestScheduleAfterCompletesAndReportsStatus(t *testing.T) {
	scheduler := NewScheduler()
	var n atomic.Int32

	handle, err := scheduler.ScheduleAfter(50*time.Millisecond, JobConfig{Name: "once"}, count(&n))
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected handle completion")
	}

	if got := n.Load(); got != 1 {
		t.Fatalf("expected one execution, got %d", got)
	}
	if status := handle.Status(); status != ScheduleStatusCompleted {
		t.Fatalf("expected completed status, got %s", status)
	}
	if handle.Runs() != 1 || handle.LastRun().IsZero() {
		t.Fatalf("expected run bookkeeping, got runs=%d last=%v", handle.Runs(), handle.LastRun())
	}
	if handle.Name() != "once" {
		t.Fatalf("expected handle name once, got %q", handle.Name())
	}
}

func TestScheduleAfterFailureReachesErrorHandler(t *testing.T) {
	reported := make(chan error, 1)
	scheduler := NewScheduler(WithErrorHandler(func(err error) { reported <- err }))
	boom := errors.New("boom")

	handle, err := scheduler.ScheduleAfter(0, JobConfig{Name: "sweep", MaxRetries: 1}, func(context.Context) error {
		return boom
	})
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}

	select {
	case got := <-reported:
		if !errors.Is(got, boom) {
			t.Fatalf("expected wrapped boom, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected error handler call")
	}
	<-handle.Done()
	if status := handle.Status(); status != ScheduleStatusFailed {
		t.Fatalf("expected failed status, got %s", status)
	}
	if !errors.Is(handle.Err(), boom) {
		t.Fatalf("expected handle error boom, got %v", handle.Err())
	}
}

func TestScheduleAtCancelPreventsExecution(t *testing.T) {
	scheduler := NewScheduler()
	var n atomic.Int32

	handle, err := scheduler.ScheduleAt(time.Now().Add(250*time.Millisecond), JobConfig{}, count(&n))
	if err != nil {
		t.Fatalf("schedule at: %v", err)
	}

	handle.Cancel()

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected canceled handle to close done channel")
	}

	time.Sleep(300 * time.Millisecond)
	if got := n.Load(); got != 0 {
		t.Fatalf("expected zero executions after cancel, got %d", got)
	}
	if status := handle.Status(); status != ScheduleStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
}

func TestScheduleCronCancelableHandle(t *testing.T) {
	scheduler := NewScheduler()
	var n atomic.Int32

	handle, err := scheduler.ScheduleCron(JobConfig{Expression: "@every 1s"}, count(&n))
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	defer scheduler.Stop(context.Background())

	deadline := time.After(2500 * time.Millisecond)
	for n.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one cron run")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	handle.Cancel()
	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected cancel to close handle done channel")
	}

	if status := handle.Status(); status != ScheduleStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
	if len(scheduler.Handles()) != 0 {
		t.Fatalf("expected canceled handle to be dropped")
	}
}

func TestSchedulerStopMarksHandleStopped(t *testing.T) {
	scheduler := NewScheduler()
	handle, err := scheduler.ScheduleCron(JobConfig{Expression: "@every 5s"}, count(new(atomic.Int32)))
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}

	if err := scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("scheduler stop: %v", err)
	}

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected handle done on stop")
	}

	if status := handle.Status(); status != ScheduleStatusStopped {
		t.Fatalf("expected stopped status, got %s", status)
	}
}

func TestScheduleCronValidation(t *testing.T) {
	scheduler := NewScheduler()

	if _, err := scheduler.ScheduleCron(JobConfig{}, count(new(atomic.Int32))); err == nil {
		t.Fatal("expected empty expression error")
	}
	if _, err := scheduler.ScheduleCron(JobConfig{Expression: "@every 1s"}, nil); err == nil {
		t.Fatal("expected nil job error")
	}
	if _, err := scheduler.ScheduleCron(JobConfig{Expression: "not a schedule"}, count(new(atomic.Int32))); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWithKeysAndValues(t *testing.T) {
	got := withKeysAndValues("run", []interface{}{"entry", 3, "dangling"})
	if got != "run entry=3 dangling" {
		t.Fatalf("unexpected line %q", got)
	}
}
