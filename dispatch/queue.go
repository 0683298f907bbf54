package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gogpu/terrain/internal/parallel"
)

// Queue errors.
var (
	// ErrStuck is reported for work running longer than the stuck timeout.
	ErrStuck = errors.New("dispatch: work exceeded stuck timeout")

	// ErrClosed is reported for work submitted after Close.
	ErrClosed = errors.New("dispatch: queue closed")
)

// Default configuration.
const (
	DefaultMaxInFlight  = 4
	DefaultStuckTimeout = 10 * time.Second
)

// Handle identifies a submitted item. The zero Handle is never issued.
type Handle uint64

// Status is the outcome of a completed item.
type Status uint8

const (
	// StatusDone means the work returned a value.
	StatusDone Status = iota

	// StatusFailed means the work returned an error, panicked or got stuck.
	StatusFailed

	// StatusCancelled means the item was cancelled before it completed.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Item is a unit of asynchronous work.
type Item[R any] struct {
	// Label groups items for metrics and logs, e.g. "density".
	Label string

	// Priority orders pending items; higher runs first.
	Priority float64

	// Run performs the work. ctx is cancelled when the item is cancelled or
	// declared stuck.
	Run func(ctx context.Context) (R, error)

	// Discard releases a result that completed after its item was
	// cancelled. It may be nil.
	Discard func(R)
}

// Completion reports the outcome of one item.
type Completion[R any] struct {
	Handle  Handle
	Label   string
	Status  Status
	Value   R
	Err     error
	Elapsed time.Duration
}

// Config configures a Queue.
type Config struct {
	// MaxInFlight bounds the number of items running at once.
	MaxInFlight int

	// StuckTimeout fails items running longer than this. Zero disables
	// stuck detection.
	StuckTimeout time.Duration

	// Clock provides time; tests use a mock.
	Clock clock.Clock

	// Logger receives debug diagnostics. Nil discards them.
	Logger *slog.Logger
}

type entryState uint8

const (
	entryPending entryState = iota
	entryRunning
	entryDropped
	entryFinished
)

type entry[R any] struct {
	handle  Handle
	item    Item[R]
	seq     uint64
	index   int
	state   entryState
	ctx     context.Context
	cancel  context.CancelFunc

	// began is set once Run is called; started is the time it was called.
	// An admitted item may wait for a worker before that.
	began   bool
	started time.Time

	// pooled items hold a pool worker while they run. An orphaned item was
	// abandoned while still holding one.
	pooled   bool
	orphaned bool
}

// Queue schedules work items with bounded concurrency.
//
// Pending items wait in a priority heap; the highest priority is admitted
// first and ties go to the earliest submission. A single admission counter
// tracks running items: it is incremented when an item starts and
// decremented when it completes, is cancelled, or is declared stuck.
// Priority only matters at admission; running work is never preempted.
//
// Results are not delivered by callback. The owner drains them with Poll,
// typically once per tick, so no completion code runs concurrently with the
// owner's state.
//
// Queue is safe for concurrent use.
type Queue[R any] struct {
	mu        sync.Mutex
	cfg       Config
	pending   entryHeap[R]
	entries   map[Handle]*entry[R]
	completed []Completion[R]
	inFlight  int
	orphans   int
	next      Handle
	seq       uint64
	closed    bool

	pool  *parallel.WorkerPool
	spill sync.WaitGroup // items run outside the pool
	log   *slog.Logger
}

// New creates a queue and starts its workers.
func New[R any](cfg Config) (*Queue[R], error) {
	if cfg.MaxInFlight < 0 {
		return nil, fmt.Errorf("dispatch: negative max in flight %d", cfg.MaxInFlight)
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.StuckTimeout < 0 {
		return nil, fmt.Errorf("dispatch: negative stuck timeout %v", cfg.StuckTimeout)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	q := &Queue[R]{
		cfg:     cfg,
		entries: make(map[Handle]*entry[R]),
		log:     log,
	}
	q.pool = parallel.NewWorkerPool(cfg.MaxInFlight, nil)
	return q, nil
}

// Submit queues an item and returns its handle. The item starts as soon as
// an in-flight slot is free and no higher priority item is waiting.
func (q *Queue[R]) Submit(item Item[R]) Handle {
	q.mu.Lock()
	q.next++
	h := q.next
	instrumentSubmit(item.Label)

	if q.closed || item.Run == nil {
		err := ErrClosed
		if item.Run == nil {
			err = errors.New("dispatch: item has no Run function")
		}
		q.completed = append(q.completed, Completion[R]{Handle: h, Label: item.Label, Status: StatusFailed, Err: err})
		instrumentCompletion(item.Label, StatusFailed, 0)
		q.mu.Unlock()
		return h
	}

	q.seq++
	e := &entry[R]{handle: h, item: item, seq: q.seq}
	q.entries[h] = e
	heap.Push(&q.pending, e)
	instrumentPending(1)
	start := q.admitLocked()
	q.mu.Unlock()

	q.start(start)
	return h
}

// admitLocked pops pending items while slots are free and marks them
// running. The caller starts them after releasing the lock.
func (q *Queue[R]) admitLocked() []*entry[R] {
	var out []*entry[R]
	for q.inFlight < q.cfg.MaxInFlight && q.pending.Len() > 0 {
		e := heap.Pop(&q.pending).(*entry[R])
		instrumentPending(-1)
		e.state = entryRunning
		e.ctx, e.cancel = context.WithCancel(context.Background())
		q.inFlight++
		instrumentInFlight(1)
		out = append(out, e)
	}
	return out
}

// start hands admitted entries to the pool. While abandoned work still
// holds pool workers, entries run on their own goroutines instead, so a
// hung kernel never delays work admitted after it.
func (q *Queue[R]) start(entries []*entry[R]) {
	for _, e := range entries {
		q.mu.Lock()
		pooled := q.orphans == 0
		e.pooled = pooled
		q.mu.Unlock()

		if !pooled {
			q.spill.Go(func() { q.run(e) })
			continue
		}
		if !q.pool.Submit(func() { q.run(e) }) {
			q.finish(e, *new(R), ErrClosed)
		}
	}
}

func (q *Queue[R]) run(e *entry[R]) {
	var (
		v   R
		err error
	)
	if err = e.ctx.Err(); err != nil {
		q.finish(e, v, err)
		return
	}
	q.mu.Lock()
	e.began = true
	e.started = q.cfg.Clock.Now()
	q.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &parallel.PanicError{Value: r}
			}
		}()
		v, err = e.item.Run(e.ctx)
	}()
	q.finish(e, v, err)
}

func (q *Queue[R]) finish(e *entry[R], v R, err error) {
	q.mu.Lock()
	if e.state != entryRunning {
		// Cancelled or declared stuck: the slot is already free.
		delete(q.entries, e.handle)
		if e.orphaned {
			q.orphans--
		}
		q.mu.Unlock()
		q.log.Debug("dispatch: dropping result of abandoned item",
			"handle", uint64(e.handle), "label", e.item.Label)
		if err == nil && e.item.Discard != nil {
			e.item.Discard(v)
		}
		return
	}

	e.state = entryFinished
	e.cancel()
	delete(q.entries, e.handle)
	q.inFlight--
	instrumentInFlight(-1)

	elapsed := q.elapsedLocked(e)
	c := Completion[R]{Handle: e.handle, Label: e.item.Label, Elapsed: elapsed}
	if err != nil {
		c.Status = StatusFailed
		c.Err = err
	} else {
		c.Status = StatusDone
		c.Value = v
	}
	instrumentCompletion(e.item.Label, c.Status, elapsed)
	q.completed = append(q.completed, c)

	start := q.admitLocked()
	q.mu.Unlock()

	q.start(start)
}

// Poll returns the completions gathered since the last call. It also fails
// running items that have exceeded the stuck timeout. Poll never blocks on
// running work.
func (q *Queue[R]) Poll() []Completion[R] {
	q.mu.Lock()
	if q.cfg.StuckTimeout > 0 {
		now := q.cfg.Clock.Now()
		for _, e := range q.entries {
			if e.state != entryRunning || !e.began || now.Sub(e.started) <= q.cfg.StuckTimeout {
				continue
			}
			q.abandonLocked(e)
			elapsed := now.Sub(e.started)
			q.completed = append(q.completed, Completion[R]{
				Handle:  e.handle,
				Label:   e.item.Label,
				Status:  StatusFailed,
				Err:     fmt.Errorf("%w after %v", ErrStuck, elapsed),
				Elapsed: elapsed,
			})
			instrumentCompletion(e.item.Label, StatusFailed, elapsed)
			q.log.Debug("dispatch: item stuck", "handle", uint64(e.handle), "label", e.item.Label, "elapsed", elapsed)
		}
	}
	start := q.admitLocked()
	out := q.completed
	q.completed = nil
	q.mu.Unlock()

	q.start(start)
	return out
}

// abandonLocked frees the slot of a running item and cancels its context.
// Its eventual result is dropped by finish.
func (q *Queue[R]) abandonLocked(e *entry[R]) {
	e.state = entryDropped
	if e.began && e.pooled {
		e.orphaned = true
		q.orphans++
	}
	e.cancel()
	q.inFlight--
	instrumentInFlight(-1)
}

// elapsedLocked returns how long e has been running, or zero if its Run
// has not been called yet.
func (q *Queue[R]) elapsedLocked(e *entry[R]) time.Duration {
	if !e.began {
		return 0
	}
	return q.cfg.Clock.Since(e.started)
}

// Cancel cancels an item. A pending item is removed outright; a running
// item is marked for drop-on-completion and its context is cancelled. Both
// report a StatusCancelled completion on the next Poll. Cancel returns false
// if the item already completed or is unknown.
func (q *Queue[R]) Cancel(h Handle) bool {
	q.mu.Lock()
	e, ok := q.entries[h]
	if !ok {
		q.mu.Unlock()
		return false
	}

	var elapsed time.Duration
	switch e.state {
	case entryPending:
		heap.Remove(&q.pending, e.index)
		instrumentPending(-1)
		delete(q.entries, h)
		e.state = entryFinished
	case entryRunning:
		elapsed = q.elapsedLocked(e)
		q.abandonLocked(e)
	default:
		q.mu.Unlock()
		return false
	}
	q.completed = append(q.completed, Completion[R]{Handle: h, Label: e.item.Label, Status: StatusCancelled, Elapsed: elapsed})
	instrumentCompletion(e.item.Label, StatusCancelled, elapsed)
	start := q.admitLocked()
	q.mu.Unlock()

	q.start(start)
	return true
}

// Reprioritize changes the priority of a pending item. It reports false if
// the item is not pending; running items keep their slot.
func (q *Queue[R]) Reprioritize(h Handle, priority float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[h]
	if !ok || e.state != entryPending {
		return false
	}
	if e.item.Priority != priority {
		e.item.Priority = priority
		heap.Fix(&q.pending, e.index)
	}
	return true
}

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Pending     int
	InFlight    int
	MaxInFlight int
	Completed   int
}

// Stats returns the current occupancy.
func (q *Queue[R]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:     q.pending.Len(),
		InFlight:    q.inFlight,
		MaxInFlight: q.cfg.MaxInFlight,
		Completed:   len(q.completed),
	}
}

// Close cancels all outstanding work and stops the workers. Pending items
// are reported as cancelled on a final Poll. Close waits for running work to
// return, so work that ignores its context delays Close.
func (q *Queue[R]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.pending.Len() > 0 {
		e := heap.Pop(&q.pending).(*entry[R])
		instrumentPending(-1)
		delete(q.entries, e.handle)
		q.completed = append(q.completed, Completion[R]{Handle: e.handle, Label: e.item.Label, Status: StatusCancelled})
	}
	for _, e := range q.entries {
		if e.state == entryRunning {
			q.abandonLocked(e)
			q.completed = append(q.completed, Completion[R]{Handle: e.handle, Label: e.item.Label, Status: StatusCancelled})
		}
	}
	q.mu.Unlock()

	q.pool.Close()
	q.spill.Wait()
}
