package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("Pool should be running after creation")
	}
}

func TestWorkerPool_CreateZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0, nil)
	defer pool.Close()

	expected := runtime.GOMAXPROCS(0)
	if pool.Workers() != expected {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), expected)
	}
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	var counter atomic.Int64
	const numTasks = 100
	wg.Add(numTasks)
	for range numTasks {
		if !pool.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}) {
			t.Fatal("Submit() = false on running pool")
		}
	}
	wg.Wait()

	if counter.Load() != numTasks {
		t.Errorf("counter = %d, want %d", counter.Load(), numTasks)
	}
}

func TestWorkerPool_SubmitNil(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	defer pool.Close()

	if pool.Submit(nil) {
		t.Error("Submit(nil) = true, want false")
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Submit() after Close = true, want false")
	}
	if pool.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
}

// =============================================================================
// Panic and Close Tests
// =============================================================================

func TestWorkerPool_PanicRecovered(t *testing.T) {
	got := make(chan any, 1)
	pool := NewWorkerPool(1, func(v any) { got <- v })
	defer pool.Close()

	pool.Submit(func() { panic("kernel exploded") })

	select {
	case v := <-got:
		if v != "kernel exploded" {
			t.Errorf("recovered %v, want %q", v, "kernel exploded")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("panic handler not called")
	}

	// The worker survives and keeps running tasks.
	done := make(chan struct{})
	pool.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestWorkerPool_CloseRunsQueuedWork(t *testing.T) {
	pool := NewWorkerPool(2, nil)

	var counter atomic.Int64
	for range 10 {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}
	pool.Close()
	pool.Close()

	if counter.Load() != 10 {
		t.Errorf("counter = %d after Close, want 10", counter.Load())
	}
}

func TestWorkerPool_Busy(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for range 2 {
		pool.Submit(func() {
			started <- struct{}{}
			<-release
		})
	}
	<-started
	<-started

	if pool.Busy() != 2 {
		t.Errorf("Busy() = %d, want 2", pool.Busy())
	}
	close(release)
}

func TestPanicError(t *testing.T) {
	err := &PanicError{Value: 42}
	if err.Error() != "parallel: task panicked: 42" {
		t.Errorf("Error() = %q", err.Error())
	}
}
