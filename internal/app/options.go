package service

import (
	"time"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/broadcast"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/repository"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithClientID sets the station identity stamped on outgoing events.
func WithClientID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.clientID = id
		}
	}
}

// WithSessionID sets the session this station joins.
func WithSessionID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// WithStore sets the durable store. The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithBus sets the broadcast bus. The caller keeps ownership and closes it.
func WithBus(bus broadcast.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithRoster sets the roster directory.
func WithRoster(r Roster) Option {
	return func(s *Service) {
		if r != nil {
			s.roster = r
		}
	}
}

// WithNotifier sets the receiver of applied events and rebuilt views.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithDefaultCourtCount sets the court count used when a start request names none.
func WithDefaultCourtCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.courtCount = n
		}
	}
}

// WithAllowSingleWoman sets the session-wide relaxed mixed flag for new sessions.
func WithAllowSingleWoman(allow bool) Option {
	return func(s *Service) {
		s.allowSingleWoman = allow
	}
}

// WithWorkerCount sets the number of commit workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending commits.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many broadcast event ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithReconcileInterval sets the periodic reconciliation interval.
// Zero disables the periodic pass.
func WithReconcileInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.reconcileInterval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerators replaces the match id and the event or group id sources.
func WithIDGenerators(matchID, id func() string) Option {
	return func(s *Service) {
		if matchID != nil {
			s.newMatchID = matchID
		}
		if id != nil {
			s.newID = id
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
