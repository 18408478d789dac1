package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	commitqueue "github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/queue"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/repository"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

// Reconciliation triggers, used as metric labels.
const (
	triggerStart      = "start"
	triggerChangeFeed = "change_feed"
	triggerGap        = "gap"
	triggerPeriodic   = "periodic"
)

// commit is the worker half of the synchronization contract: durable write,
// then broadcast. A publish failure is only counted; other stations catch up
// through their change feed.
func (s *Service) commit(ctx context.Context, job commitqueue.Job) error {
	defer func() {
		if s.commits.Add(-1) == 0 && s.stale.CompareAndSwap(true, false) {
			s.requestReconcile(ctx, triggerChangeFeed)
		}
	}()

	rev, err := s.store.Apply(ctx, s.sessionID, job.Delta)
	if err != nil {
		metrics.RecordWriteFailure()
		s.logger.Error(ctx, "durable write failed",
			logger.String("eventID", job.Event.ID),
			logger.String("type", string(job.Event.Type)),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	s.noteRevision(rev)

	s.mu.Lock()
	// a skipped revision belongs to another station; leave it for reconciliation
	if rev == s.ctrl.Revision()+1 {
		s.ctrl.ObserveRevision(rev)
	}
	s.mu.Unlock()

	out := *job.Event
	out.Revision = rev
	if err := s.bus.Publish(ctx, &out); err != nil {
		metrics.RecordPublishFailure()
		s.logger.Warn(ctx, "broadcast publish failed",
			logger.String("eventID", out.ID),
			logger.Error(err),
		)
	}
	return nil
}

func (s *Service) remoteLoop(ctx context.Context, events <-chan *model.Event) {
	defer s.loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.applyRemote(ctx, ev)
		}
	}
}

// applyRemote replays another station's transition. Replays are idempotent:
// the event id is checked first, then events at or below the local revision
// are dropped, then the controller refuses transitions already reflected in
// state.
func (s *Service) applyRemote(ctx context.Context, ev *model.Event) {
	if ev.Origin == s.clientID {
		metrics.RecordRemoteEvent("own")
		return
	}
	if ev.SessionID != s.sessionID {
		return
	}
	if s.deduper.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordRemoteEvent("duplicate")
		s.logger.Debug(ctx, "duplicate remote event", logger.String("eventID", ev.ID))
		return
	}
	s.noteRevision(ev.Revision)

	s.mu.Lock()
	if ev.Revision != 0 && ev.Revision <= s.ctrl.Revision() {
		rev := s.ctrl.Revision()
		s.mu.Unlock()
		metrics.RecordRemoteEvent("stale")
		s.logger.Debug(ctx, "remote event older than local state",
			logger.String("eventID", ev.ID),
			logger.Int64("eventRevision", ev.Revision),
			logger.Int64("revision", rev),
		)
		return
	}
	applied := s.ctrl.Apply(ev)
	gap := false
	if applied {
		switch cur := s.ctrl.Revision(); {
		case ev.Revision == cur+1:
			s.ctrl.ObserveRevision(ev.Revision)
		case ev.Revision > cur+1:
			gap = true
		}
		s.dropStaleProposal()
		s.observe()
	}
	rev := s.ctrl.Revision()
	s.mu.Unlock()

	if !applied {
		metrics.RecordRemoteEvent("rejected")
		s.logger.Debug(ctx, "remote event already reflected",
			logger.String("eventID", ev.ID),
			logger.String("type", string(ev.Type)),
		)
		return
	}
	metrics.RecordRemoteEvent("applied")
	s.logger.Debug(ctx, "remote event applied",
		logger.String("eventID", ev.ID),
		logger.String("type", string(ev.Type)),
		logger.String("origin", ev.Origin),
	)
	s.notify(ctx, &Update{Kind: UpdateEvent, Event: ev, Revision: rev})
	if gap {
		s.requestReconcile(ctx, triggerGap)
	}
}

func (s *Service) watchLoop(ctx context.Context, revisions <-chan int64) {
	defer s.loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rev, ok := <-revisions:
			if !ok {
				return
			}
			s.noteRevision(rev)
			s.requestReconcile(ctx, triggerChangeFeed)
		}
	}
}

func (s *Service) tickLoop(ctx context.Context) {
	defer s.loops.Done()
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.requestReconcile(ctx, triggerPeriodic)
		}
	}
}

// noteRevision remembers the highest store revision seen anywhere.
func (s *Service) noteRevision(rev int64) {
	for {
		cur := s.latest.Load()
		if rev <= cur || s.latest.CompareAndSwap(cur, rev) {
			return
		}
	}
}

// requestReconcile rebuilds from the store unless local commits are still in
// flight, in which case the last commit to finish retries. Change-feed and
// gap triggers only rebuild when the store is ahead of local state.
func (s *Service) requestReconcile(ctx context.Context, trigger string) {
	if s.commits.Load() > 0 {
		s.stale.Store(true)
		return
	}
	if trigger != triggerPeriodic {
		s.mu.Lock()
		behind := s.latest.Load() > s.ctrl.Revision()
		s.mu.Unlock()
		if !behind {
			return
		}
	}
	if err := s.reconcile(ctx, trigger); err != nil {
		s.logger.Warn(ctx, "reconciliation failed", logger.String("trigger", trigger), logger.Error(err))
	}
}

// reconcile replaces local state with the authoritative snapshot.
func (s *Service) reconcile(ctx context.Context, trigger string) error {
	snap, err := s.store.Snapshot(ctx, s.sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	s.mu.Lock()
	if s.commits.Load() > 0 {
		s.stale.Store(true)
		s.mu.Unlock()
		return nil
	}
	if snap.Revision < s.ctrl.Revision() {
		// read raced a newer local write
		s.mu.Unlock()
		return nil
	}
	s.ctrl.Rebuild(snap)
	s.dropStaleProposal()
	s.observe()
	view, err := s.ctrl.View()
	s.mu.Unlock()

	s.noteRevision(snap.Revision)
	metrics.RecordReconciliation(trigger)
	s.logger.Info(ctx, "state rebuilt from store",
		logger.String("trigger", trigger),
		logger.Int64("revision", snap.Revision),
		logger.Int("players", len(snap.Players)),
		logger.Int("activeMatches", len(snap.ActiveMatches)),
	)
	if err != nil {
		return err
	}
	s.notify(ctx, &Update{Kind: UpdateSnapshot, View: view, Revision: snap.Revision})
	return nil
}
