package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/queue"
	worker "github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/worker"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	logging "github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

type recordingCommitter struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]error
}

func newRecordingCommitter() *recordingCommitter {
	return &recordingCommitter{fail: make(map[string]error)}
}

func (c *recordingCommitter) Commit(_ context.Context, job queue.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.fail[job.Event.ID]; ok {
		return err
	}
	c.ids = append(c.ids, job.Event.ID)
	return nil
}

func (c *recordingCommitter) committed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func newJob(id string) queue.Job {
	return queue.Job{
		Event: &model.Event{ID: id, SessionID: "s1", Type: model.EventPlayerStatusChanged},
		Delta: &model.Delta{EventID: id},
		Done:  make(chan error, 1),
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker draining an in-memory queue", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		committer := newRecordingCommitter()
		w := worker.NewInMemoryWorker(q, committer, worker.WithName("commit-test"))
		ctx := context.Background()

		convey.Convey("When jobs are committed", func() {
			first, second := newJob("e1"), newJob("e2")
			convey.So(q.Enqueue(ctx, first), convey.ShouldBeTrue)
			convey.So(q.Enqueue(ctx, second), convey.ShouldBeTrue)
			go w.Run(ctx)

			convey.Convey("Then each submitter hears success in order", func() {
				convey.So(<-first.Done, convey.ShouldBeNil)
				convey.So(<-second.Done, convey.ShouldBeNil)
				convey.So(committer.committed(), convey.ShouldResemble, []string{"e1", "e2"})
				convey.So(w.Processed(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the committer fails", func() {
			boom := errors.New("store offline")
			committer.fail["e1"] = boom
			job := newJob("e1")
			q.Enqueue(ctx, job)
			go w.Run(ctx)

			convey.Convey("Then the error reaches the submitter", func() {
				err := <-job.Done
				convey.So(errors.Is(err, boom), convey.ShouldBeTrue)
				convey.So(w.Failed(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the queue is closed with work pending", func() {
			for i := 0; i < 5; i++ {
				q.Enqueue(ctx, newJob(fmt.Sprintf("e%d", i)))
			}
			_ = q.Close()
			go w.Run(ctx)

			convey.Convey("Then shutdown waits for the backlog", func() {
				sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(committer.committed(), convey.ShouldHaveLength, 5)
			})
		})

		convey.Convey("When the worker never finishes", func() {
			sctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()

			convey.Convey("Then shutdown reports the timeout", func() {
				err := w.Shutdown(sctx)
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		var count sync.Map
		committer := worker.CommitFunc(func(_ context.Context, job queue.Job) error {
			count.Store(job.Event.ID, true)
			return nil
		})
		ctx := context.Background()

		convey.Convey("When created with a non-positive count", func() {
			pool := worker.NewPool(0, q, committer)
			pool.Start(ctx)

			convey.Convey("Then it still commits and drains on shutdown", func() {
				for i := 0; i < 20; i++ {
					convey.So(q.Enqueue(ctx, newJob(fmt.Sprintf("e%d", i))), convey.ShouldBeTrue)
				}
				convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
				convey.So(pool.Processed(), convey.ShouldEqual, 20)
				convey.So(pool.Failed(), convey.ShouldEqual, 0)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}
