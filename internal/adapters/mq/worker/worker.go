// Package worker drains the commit queue into the durable store and the
// broadcast bus.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/queue"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Committer persists and announces one applied event.
type Committer interface {
	Commit(ctx context.Context, job queue.Job) error
}

// CommitFunc adapts a plain function to Committer.
type CommitFunc func(ctx context.Context, job queue.Job) error

// Commit implements Committer.
func (f CommitFunc) Commit(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes commit jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish the jobs already queued.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	committer Committer
	name      string

	done chan struct{}

	processed atomic.Int64
	failed    atomic.Int64

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, committer Committer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		committer: committer,
		name:      "worker",
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. Jobs are processed until the queue channel
// closes, so a closed queue is drained before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for job := range w.queue.Dequeue(ctx) {
		err := w.process(ctx, job)
		job.Finish(err)
	}
}

// Shutdown waits for Run to return. Close the queue first so Run can drain.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns how many jobs committed successfully.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// Failed returns how many jobs the committer rejected.
func (w *InMemoryWorker) Failed() int64 { return w.failed.Load() }

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) error {
	defer func() {
		if !job.Enqueued.IsZero() {
			metrics.RecordCommitLatency(time.Since(job.Enqueued))
		}
	}()

	if err := w.committer.Commit(ctx, job); err != nil {
		w.failed.Add(1)
		id := ""
		if job.Event != nil {
			id = job.Event.ID
		}
		w.logger.Error(ctx, "commit failed",
			logger.String("eventID", id),
			logger.Error(err),
		)
		return fmt.Errorf("commit event %s: %w", id, err)
	}
	w.processed.Add(1)
	return nil
}

// Pool manages the commit workers. One worker keeps commits in apply order.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, committer Committer) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, committer, WithName("worker-"+strconv.Itoa(i)))
	}
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Processed sums successful commits across workers.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Failed sums failed commits across workers.
func (p *Pool) Failed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Failed()
	}
	return n
}

// Shutdown closes the queue and waits for queued jobs to be committed.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, worker := range p.workers {
		if err := worker.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
