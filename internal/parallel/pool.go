package parallel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of work run by the pool.
type Task func()

// WorkerPool runs dispatch work on a fixed set of goroutines.
//
// Each worker has its own queue and steals from the others when idle, so a
// slow kernel invocation does not hold up work queued behind it. A panic in
// a task is recovered and handed to the pool's panic handler; the worker
// keeps running.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan Task
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
	busy       atomic.Int64
	onPanic    func(any)
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used. onPanic may be nil.
func NewWorkerPool(workers int, onPanic func(any)) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan Task, workers),
		done:       make(chan struct{}),
		onPanic:    onPanic,
	}
	for i := range workers {
		p.workQueues[i] = make(chan Task, queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(myQueue)
			return
		case task := <-myQueue:
			p.run(task)
		default:
			if stolen := p.steal(id); stolen != nil {
				p.run(stolen)
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case task := <-myQueue:
				p.run(task)
			}
		}
	}
}

func (p *WorkerPool) run(task Task) {
	if task == nil {
		return
	}
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	task()
}

func (p *WorkerPool) drainQueue(queue chan Task) {
	for {
		select {
		case task := <-queue:
			p.run(task)
		default:
			return
		}
	}
}

// steal takes a task from another worker's queue, or returns nil.
func (p *WorkerPool) steal(myID int) Task {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case task := <-p.workQueues[i]:
			return task
		default:
		}
	}
	return nil
}

// Submit queues a task on the worker with the shortest queue. It reports
// false if the pool is closed and the task was not accepted.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil || !p.running.Load() {
		return false
	}

	minLen := len(p.workQueues[0])
	minIdx := 0
	for i := 1; i < p.workers; i++ {
		if qLen := len(p.workQueues[i]); qLen < minLen {
			minLen = qLen
			minIdx = i
		}
	}

	select {
	case p.workQueues[minIdx] <- task:
		return true
	case <-p.done:
		return false
	}
}

// Close stops accepting work, runs what is already queued and waits for
// the workers to exit. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// Busy returns the number of tasks currently executing.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

// QueuedWork returns the approximate number of queued tasks.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}

// PanicError wraps a value recovered from a task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("parallel: task panicked: %v", e.Value)
}
