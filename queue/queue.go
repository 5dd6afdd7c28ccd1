// Package queue serializes render jobs into a strict one-at-a-time pipeline.
//
// A single worker goroutine pulls one job at a time and waits for it to
// settle before pulling the next, so at most one render executes at any
// instant regardless of how many submissions arrive concurrently. Submission
// order is FIFO, a job's failure never blocks later jobs, and depth is
// unbounded.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Submit after the queue has been closed.
var ErrClosed = errors.New("render queue closed")

type job struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Queue is the single entry point for render engine usage.
type Queue struct {
	mu      sync.Mutex
	pending []*job
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
	logger  *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New creates a Queue and starts its worker.
func New(opts ...Option) *Queue {
	q := &Queue{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.work()
	return q
}

// Submit appends run to the queue and blocks until it settles or ctx
// expires. The job context passed to run carries ctx's deadline, so the
// caller's wall-clock bound covers queue wait plus execution. A job whose
// context has already expired when its turn arrives is skipped, not run.
func (q *Queue) Submit(ctx context.Context, run func(ctx context.Context) error) error {
	j := &job{ctx: ctx, run: run, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The worker will observe the expired context and skip or abort
		// the job; the caller does not wait for that to happen.
		return ctx.Err()
	}
}

// Depth reports how many jobs are waiting. The job currently executing is
// not counted.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the worker after the job in flight settles. Pending jobs are
// failed with ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.stopped
}

// work is the single active worker: it pulls one job at a time and waits for
// it to settle before pulling the next.
func (q *Queue) work() {
	defer close(q.stopped)

	for {
		j, ok := q.next()
		if !ok {
			return
		}
		if j == nil {
			continue
		}

		if err := j.ctx.Err(); err != nil {
			// Abandoned while queued; never started.
			j.done <- err
			continue
		}

		err := q.runJob(j)
		if err != nil {
			q.logger.Warn("render job failed", "error", err)
		}
		j.done <- err
	}
}

// next returns the oldest pending job. It blocks until a job arrives or the
// queue closes; ok is false once the queue is closed and drained.
func (q *Queue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending = q.pending[1:]
			closed := q.closed
			q.mu.Unlock()
			if closed {
				j.done <- ErrClosed
				return nil, true
			}
			return j, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}
		<-q.wake
	}
}

// runJob executes one job, converting a panic into an error so a misbehaving
// job cannot take down the worker.
func (q *Queue) runJob(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render job panicked: %v", r)
		}
	}()
	return j.run(j.ctx)
}
