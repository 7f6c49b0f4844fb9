// Package writequeue serializes all mutations of the hot tier through a
// single consumer goroutine.
//
// Vector writes ride behind LLM extraction and can arrive in bursts from
// capture flushes; funneling them through one FIFO keeps backends free of
// write races and makes ingest ordering deterministic. Enqueue never blocks:
// callers get a Future they may wait on or drop.
package writequeue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tiermem/tiermem-go/pkg/logging"
)

// ErrStopped is returned by futures enqueued after Stop.
var ErrStopped = errors.New("write queue stopped")

// Task is one unit of work executed by the consumer. Tasks run with a
// background context: once enqueued, a write is never cancelled.
type Task func(ctx context.Context) error

// Future resolves when its task has been executed.
type Future struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the task has run.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task's error. Valid only after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Wait blocks until the task has run or ctx expires. The task itself is not
// cancelled by ctx; only the wait is.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failedFuture(err error) *Future {
	f := &Future{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	// TotalWrites counts every task ever enqueued.
	TotalWrites int64 `json:"total_writes"`

	// QueueMax is the high-water mark of pending tasks.
	QueueMax int64 `json:"queue_max"`

	// CurrentQueue is the number of tasks waiting to run, excluding the
	// one in flight.
	CurrentQueue int64 `json:"current_queue"`
}

type item struct {
	task Task
	fut  *Future
}

// Queue is a single-consumer FIFO for hot-tier writes.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*item
	stopped bool
	drained chan struct{}

	delay  time.Duration
	logger *slog.Logger

	totalWrites int64
	queueMax    int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithDelay inserts a fixed pause after each task, smoothing write bursts
// against rate-limited backends. Zero disables the pause.
func WithDelay(d time.Duration) Option {
	return func(q *Queue) { q.delay = d }
}

// WithLogger sets the logger used to report failed tasks.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New creates a queue and starts its consumer goroutine.
func New(opts ...Option) *Queue {
	q := &Queue{
		drained: make(chan struct{}),
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Enqueue appends a task and returns its future. Never blocks. After Stop,
// the returned future is already resolved with ErrStopped.
func (q *Queue) Enqueue(task Task) *Future {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return failedFuture(ErrStopped)
	}

	fut := &Future{done: make(chan struct{})}
	q.items = append(q.items, &item{task: task, fut: fut})
	q.totalWrites++
	if pending := int64(len(q.items)); pending > q.queueMax {
		q.queueMax = pending
	}
	q.cond.Signal()
	return fut
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		TotalWrites:  q.totalWrites,
		QueueMax:     q.queueMax,
		CurrentQueue: int64(len(q.items)),
	}
}

// Stop marks the queue closed and blocks until every already-enqueued task
// has been executed. Safe to call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.drained
}

// run is the single consumer loop.
func (q *Queue) run() {
	ctx := context.Background()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			close(q.drained)
			return
		}
		it := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		err := it.task(ctx)
		it.fut.err = err
		close(it.fut.done)
		if err != nil {
			q.logger.Warn("write task failed", "error", err)
		}

		if q.delay > 0 {
			time.Sleep(q.delay)
		}
	}
}
