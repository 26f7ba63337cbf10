// Package queue runs registration tasks off the request path. Execution
// is at-least-once: a worker retries a failed task a bounded number of
// times, so the registrar it calls must be idempotent.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registrar is the work a task performs. Implemented by
// app.RegisterService.
type Registrar interface {
	Register(ctx context.Context, orderID, note string) error
}

type task struct {
	orderID string
	note    string
}

type Options struct {
	Workers  int
	Retries  int
	Backoff  time.Duration
	Capacity int
}

// Queue is an in-process task queue with a fixed worker pool. Sibling
// tasks from one bundle may run concurrently and in any order.
type Queue struct {
	registrar Registrar
	logger    zerolog.Logger
	opts      Options

	tasks chan task
	wg    sync.WaitGroup
	once  sync.Once
}

func New(registrar Registrar, logger zerolog.Logger, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 128
	}
	return &Queue{
		registrar: registrar,
		logger:    logger,
		opts:      opts,
		tasks:     make(chan task, opts.Capacity),
	}
}

// Start launches the worker pool. Workers drain remaining tasks after
// Close and stop early only when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// EnqueueRegistration schedules a registration task. Blocks when the
// queue is full rather than dropping the task.
func (q *Queue) EnqueueRegistration(orderID, note string) {
	q.tasks <- task{orderID: orderID, note: note}
}

// Close stops accepting tasks and waits for the workers to drain.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.tasks)
	})
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(ctx, t)
	}
}

func (q *Queue) run(ctx context.Context, t task) {
	var err error
	for attempt := 0; attempt <= q.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				q.logger.Warn().Str("order_id", t.orderID).Msg("registration abandoned on shutdown")
				return
			case <-time.After(time.Duration(attempt) * q.opts.Backoff):
			}
		}

		err = q.registrar.Register(ctx, t.orderID, t.note)
		if err == nil {
			return
		}
		q.logger.Warn().
			Err(err).
			Str("order_id", t.orderID).
			Int("attempt", attempt+1).
			Msg("registration attempt failed")
	}
	q.logger.Error().Err(err).Str("order_id", t.orderID).Msg("registration gave up")
}
