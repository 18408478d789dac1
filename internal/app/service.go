// Package service runs one station of a session: it owns the local session
// state, commits every local transition to the durable store and the
// broadcast bus, and folds in transitions made by other stations.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samborkent/uuidv7"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/broadcast"
	commitqueue "github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/queue"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/worker"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/repository"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/dedupe"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/session"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

const stopTimeout = 10 * time.Second

// Roster is the external player directory.
type Roster interface {
	FetchPlayers(ctx context.Context) ([]model.Player, error)
	UpdatePlayer(ctx context.Context, playerID string, gender model.Gender, skills map[string]model.SkillLevel) error
}

// Notifier receives every change to the local state, local or remote.
type Notifier interface {
	Notify(ctx context.Context, u *Update)
}

// Update kinds pushed to a Notifier.
const (
	UpdateEvent    = "event"
	UpdateSnapshot = "snapshot"
)

// Update is one message for the station's live feed.
type Update struct {
	Kind     string        `json:"kind"`
	Event    *model.Event  `json:"event,omitempty"`
	View     *session.View `json:"view,omitempty"`
	Revision int64         `json:"revision"`
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *Update) {}

// Service implements the API dependencies for one station.
type Service struct {
	// mu guards the controller and the pending proposal.
	mu      sync.Mutex
	ctrl    *session.Controller
	pending *session.Proposal

	// Collaborators
	store    repository.Store
	bus      broadcast.Bus
	roster   Roster
	notifier Notifier
	deduper  dedupe.Deduper
	queue    *commitqueue.InMemoryQueue
	pool     *worker.Pool

	ownStore bool
	ownBus   bool

	// Configuration
	clientID          string
	sessionID         string
	courtCount        int
	allowSingleWoman  bool
	workerCount       int
	queueSize         int
	dedupeSize        int
	reconcileInterval time.Duration
	now               func() time.Time
	newMatchID        func() string
	newID             func() string

	// commits counts jobs enqueued but not yet written. Reconciliation waits
	// for zero so a rebuild never erases an unsaved local transition.
	commits atomic.Int64
	// stale is set when a reconciliation was deferred behind pending commits.
	stale atomic.Bool
	// latest is the highest store revision observed from any source.
	latest atomic.Int64

	// State
	stateMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		notifier:          nopNotifier{},
		clientID:          uuid.NewString(),
		sessionID:         "default",
		courtCount:        4,
		workerCount:       1,
		queueSize:         1024,
		dedupeSize:        10000,
		reconcileInterval: 15 * time.Second,
		now:               time.Now,
		newMatchID:        func() string { return uuidv7.New().String() },
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctrl = session.New(s.sessionID)
	return s
}

// Start initializes the commit pipeline, subscribes to other stations and
// loads the authoritative state.
func (s *Service) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting station",
		logger.String("clientID", s.clientID),
		logger.String("sessionID", s.sessionID),
	)

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.ownStore = true
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.bus == nil {
		s.bus = broadcast.NewMemoryBus()
		s.ownBus = true
		s.logger.Info(ctx, "using in-memory bus")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = commitqueue.NewInMemoryQueue(commitqueue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, worker.CommitFunc(s.commit))

	// background work outlives the start request
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := s.bus.Subscribe(runCtx, s.sessionID)
	if err != nil {
		cancel()
		return err
	}
	revisions, err := s.store.Watch(runCtx, s.sessionID)
	if err != nil {
		cancel()
		return err
	}
	// workers run until Stop has drained the queue
	s.pool.Start(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	if err := s.reconcile(ctx, "start"); err != nil {
		s.logger.Warn(ctx, "initial reconciliation failed", logger.Error(err))
	}

	s.loops.Add(2)
	go s.remoteLoop(runCtx, events)
	go s.watchLoop(runCtx, revisions)
	if s.reconcileInterval > 0 {
		s.loops.Add(1)
		go s.tickLoop(runCtx)
	}

	s.logger.Info(ctx, "station started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("reconcileInterval", s.reconcileInterval),
	)
	return nil
}

// Stop flushes pending commits and stops the background loops.
func (s *Service) Stop() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping station...")

	// refuse new operations before draining
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "commit backlog not flushed", logger.Error(err))
	}

	s.cancel()
	s.loops.Wait()

	if s.ownBus {
		_ = s.bus.Close()
	}
	if s.ownStore {
		_ = s.store.Close()
	}
	s.logger.Info(ctx, "station stopped")
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"clientID":    s.clientID,
		"sessionID":   s.sessionID,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}
	counts := s.ctrl.StatusCounts()
	stats["active"] = s.ctrl.Active()
	stats["revision"] = s.ctrl.Revision()
	stats["courts"] = s.ctrl.VisibleCourts()
	stats["occupiedCourts"] = s.ctrl.OccupiedCourts()
	stats["completedMatches"] = s.ctrl.CompletedCount()
	stats["pendingCommits"] = s.commits.Load()
	stats["queueLength"] = s.queue.Len(context.Background())
	stats["seenEvents"] = s.deduper.Size()
	stats["committed"] = s.pool.Processed()
	stats["commitFailures"] = s.pool.Failed()
	for status, n := range counts {
		stats[string(status)] = n
	}
	return stats
}

// observe refreshes the state gauges. Callers hold s.mu.
func (s *Service) observe() {
	counts := s.ctrl.StatusCounts()
	byName := make(map[string]int, len(counts))
	for status, n := range counts {
		byName[string(status)] = n
	}
	metrics.UpdatePlayerCounts(byName)
	metrics.UpdateOccupiedCourts(s.ctrl.OccupiedCourts())
}

func (s *Service) notify(ctx context.Context, u *Update) {
	s.notifier.Notify(ctx, u)
}
