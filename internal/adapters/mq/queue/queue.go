// Package queue holds commit jobs between the optimistic local apply and the
// durable write that follows it.
package queue

import (
	"context"
	"sync"
	"time"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Job is one applied event waiting to be persisted and broadcast.
type Job struct {
	Event    *model.Event
	Delta    *model.Delta
	Enqueued time.Time
	// Done, when set, receives the outcome. It must have room for one value.
	Done chan error
}

// Finish reports the outcome to the submitter, if it asked for one.
func (j *Job) Finish(err error) {
	if j.Done == nil {
		return
	}
	select {
	case j.Done <- err:
	default:
	}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns a channel of jobs in enqueue order. The channel is
	// closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close stops accepting jobs. Queued jobs are still delivered.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)
	metrics.UpdateCommitQueueDepth(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	if j.Enqueued.IsZero() {
		j.Enqueued = time.Now()
	}

	select {
	case q.jobs <- j:
		metrics.UpdateCommitQueueDepth(len(q.jobs))
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.RecordQueueRejected()
		return false
	}
}

// Dequeue returns a channel that receives jobs as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			select {
			case out <- j:
				metrics.UpdateCommitQueueDepth(len(q.jobs))
			case <-ctx.Done():
				j.Finish(ctx.Err())
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.jobs)
}

// Close stops the queue from accepting jobs.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
