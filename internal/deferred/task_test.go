package deferred

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleIdempotent(t *testing.T) {
	var calls int
	task := NewTask(func() { calls++ })
	if !task.Schedule() {
		t.Fatal("first schedule should succeed")
	}
	for i := 0; i < 10; i++ {
		if task.Schedule() {
			t.Fatal("schedule of pending task succeeded")
		}
	}
	if !task.Pending() {
		t.Fatal("task should be pending")
	}
	if !task.Flush() {
		t.Fatal("flush of pending task did nothing")
	}
	if calls != 1 {
		t.Errorf("want 1 call, got %d", calls)
	}
	if task.Pending() {
		t.Error("task pending after flush")
	}
	if task.Flush() {
		t.Error("flush of idle task ran it")
	}
}

func TestScheduleConcurrent(t *testing.T) {
	var calls atomic.Int32
	task := NewTask(func() { calls.Add(1) })
	var wg sync.WaitGroup
	var scheduled atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if task.Schedule() {
				scheduled.Add(1)
			}
		}()
	}
	wg.Wait()
	if scheduled.Load() != 1 {
		t.Fatalf("want exactly one successful schedule, got %d", scheduled.Load())
	}
	task.Flush()
	if calls.Load() != 1 {
		t.Errorf("want 1 call, got %d", calls.Load())
	}
}

func TestRun(t *testing.T) {
	done := make(chan struct{}, 4)
	task := NewTask(func() { done <- struct{}{} })
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- task.Run(ctx) }()

	for i := 0; i < 3; i++ {
		task.Schedule()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("task run %d timed out", i)
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run returned %v on cancellation", err)
	}
	if task.Runs() != 3 {
		t.Errorf("want 3 runs, got %d", task.Runs())
	}
}
