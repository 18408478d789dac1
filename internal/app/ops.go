package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	commitqueue "github.com/Yria/cocktime-scheduler-sub000/internal/adapters/mq/queue"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/selection"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/session"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

// Result reports what a mutating operation did. Applied is false when the
// operation's precondition did not hold; Reason then says which one.
type Result struct {
	Applied bool         `json:"applied"`
	Reason  string       `json:"reason,omitempty"`
	Event   *model.Event `json:"event,omitempty"`
}

// Generated is the outcome of Generate: a proposal, or why none exists.
type Generated struct {
	Proposal *session.Proposal `json:"proposal,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Needed   int               `json:"needed,omitempty"`
}

// State is the station's current view plus its local pending proposal.
type State struct {
	*session.View
	Pending  *session.Proposal `json:"pending,omitempty"`
	ClientID string            `json:"client_id"`
}

// decision validates against the controller and applies the transition.
type decision func(c *session.Controller, at time.Time) (*model.Event, error)

// execute runs the local half of the synchronization contract: apply the
// transition, then hand the durable write and broadcast to the commit worker
// and wait for the write. A failed write is returned without rolling back
// the applied state; the next reconciliation restores consistency.
func (s *Service) execute(ctx context.Context, op string, decide decision) (*Result, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	ev, err := decide(s.ctrl, s.now().UTC())
	if err != nil {
		s.mu.Unlock()
		if session.IsNoop(err) {
			metrics.RecordNoop(op)
			s.logger.Debug(ctx, "operation rejected", logger.String("op", op), logger.Error(err))
			return &Result{Reason: err.Error()}, nil
		}
		return nil, err
	}
	ev.ID = s.newID()
	ev.Origin = s.clientID
	s.deduper.SeenAndRecord(ctx, ev.ID)
	delta := s.ctrl.Delta(ev)
	s.dropStaleProposal()
	s.observe()
	rev := s.ctrl.Revision()

	done := make(chan error, 1)
	s.commits.Add(1)
	queued := s.queue.Enqueue(ctx, commitqueue.Job{Event: ev, Delta: delta, Done: done})
	if !queued {
		s.commits.Add(-1)
	}
	s.mu.Unlock()

	recordApplied(ev)
	s.logger.Debug(ctx, "operation applied",
		logger.String("op", op),
		logger.String("eventID", ev.ID),
		logger.String("type", string(ev.Type)),
	)
	s.notify(ctx, &Update{Kind: UpdateEvent, Event: ev, Revision: rev})

	res := &Result{Applied: true, Event: ev}
	if !queued {
		metrics.RecordWriteFailure()
		s.logger.Error(ctx, "commit queue full, event not saved", logger.String("eventID", ev.ID))
		return res, fmt.Errorf("%w: %w", ErrSaveFailed, ErrCommitBacklog)
	}
	select {
	case err := <-done:
		return res, err
	case <-ctx.Done():
		return res, ctx.Err()
	}
}

func recordApplied(ev *model.Event) {
	switch ev.Type {
	case model.EventMatchStarted:
		metrics.RecordMatchStarted(string(ev.Match.GameType))
	case model.EventMatchCompleted:
		metrics.RecordMatchCompleted(string(ev.Match.GameType))
	}
}

// dropStaleProposal forgets a pending proposal whose players are no longer
// all waiting. Callers hold s.mu.
func (s *Service) dropStaleProposal() {
	if s.pending == nil {
		return
	}
	if !s.ctrl.Active() {
		s.pending = nil
		return
	}
	for _, id := range s.pending.PlayerIDs {
		if sp, ok := s.ctrl.Player(id); !ok || sp.Status != model.StatusWaiting {
			s.pending = nil
			return
		}
	}
}

// State returns a detached copy of the current state.
func (s *Service) State(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.ctrl.View()
	if err != nil {
		return nil, err
	}
	st := &State{View: v, ClientID: s.clientID}
	if s.pending != nil {
		p := *s.pending
		st.Pending = &p
	}
	return st, nil
}

// Generate proposes the next match from the waiting pool and keeps it as the
// pending proposal. Nothing is written or broadcast.
func (s *Service) Generate(ctx context.Context) (*Generated, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrNotStarted
	}
	p, err := s.ctrl.Generate()
	var fail *selection.Failure
	switch {
	case errors.As(err, &fail):
		s.pending = nil
		metrics.RecordSelectionFailure(string(fail.Reason))
		s.logger.Debug(ctx, "no match formable",
			logger.String("reason", string(fail.Reason)),
			logger.Int("needed", fail.Needed),
		)
		return &Generated{Reason: string(fail.Reason), Needed: fail.Needed}, nil
	case session.IsNoop(err):
		metrics.RecordNoop("generate")
		return &Generated{Reason: err.Error()}, nil
	case err != nil:
		return nil, err
	}
	s.pending = p
	return &Generated{Proposal: p}, nil
}

// CancelProposal discards the pending proposal. It reports whether one existed.
func (s *Service) CancelProposal(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	had := s.pending != nil
	s.pending = nil
	return had
}

// Assign puts the pending proposal on an empty court.
func (s *Service) Assign(ctx context.Context, courtID int) (*Result, error) {
	return s.execute(ctx, "assign", func(c *session.Controller, at time.Time) (*model.Event, error) {
		ev, err := c.Assign(s.pending, courtID, s.newMatchID(), at)
		if err == nil || errors.Is(err, session.ErrProposalStale) {
			s.pending = nil
		}
		return ev, err
	})
}

// Complete ends the match on a court.
func (s *Service) Complete(ctx context.Context, courtID int) (*Result, error) {
	return s.execute(ctx, "complete", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.Complete(courtID, at)
	})
}

// CreateReservation groups players who want to play together next.
func (s *Service) CreateReservation(ctx context.Context, playerIDs []string) (*Result, error) {
	return s.execute(ctx, "create_reservation", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.CreateReservation(playerIDs, s.newID(), at)
	})
}

// AssignGroup puts a fully ready group on an empty court.
func (s *Service) AssignGroup(ctx context.Context, groupID string, courtID int) (*Result, error) {
	return s.execute(ctx, "assign_group", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.AssignGroup(groupID, courtID, s.newMatchID(), at)
	})
}

// DisbandGroup dissolves a reserved group.
func (s *Service) DisbandGroup(ctx context.Context, groupID string) (*Result, error) {
	return s.execute(ctx, "disband_group", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.DisbandGroup(groupID, at)
	})
}

// ToggleResting flips a player between waiting and resting.
func (s *Service) ToggleResting(ctx context.Context, playerID string) (*Result, error) {
	return s.execute(ctx, "toggle_resting", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.ToggleResting(playerID, at)
	})
}

// ToggleForceMixed flips a player's forced mixed inclusion.
func (s *Service) ToggleForceMixed(ctx context.Context, playerID string) (*Result, error) {
	return s.execute(ctx, "toggle_force_mixed", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.ToggleForceMixed(playerID, at)
	})
}

// ToggleAllowMixedSingle flips a woman's opt-in to play as the only woman.
func (s *Service) ToggleAllowMixedSingle(ctx context.Context, playerID string) (*Result, error) {
	return s.execute(ctx, "toggle_allow_single", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.ToggleAllowMixedSingle(playerID, at)
	})
}

// StartSession opens the session and, when playerIDs is not empty, joins
// those roster players. A non-positive courtCount uses the configured default.
func (s *Service) StartSession(ctx context.Context, courtCount int, playerIDs []string) (*Result, error) {
	if courtCount <= 0 {
		courtCount = s.courtCount
	}
	var players []model.Player
	if len(playerIDs) > 0 {
		var err error
		if players, err = s.resolvePlayers(ctx, playerIDs); err != nil {
			return nil, err
		}
	}
	flags := model.SessionFlags{AllowSingleWoman: s.allowSingleWoman}
	res, err := s.execute(ctx, "start_session", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.StartSession(courtCount, flags, at)
	})
	if err != nil || !res.Applied || len(players) == 0 {
		return res, err
	}
	if _, err := s.join(ctx, players); err != nil {
		return res, err
	}
	return res, nil
}

// EndSession closes the session for every station.
func (s *Service) EndSession(ctx context.Context) (*Result, error) {
	return s.execute(ctx, "end_session", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.EndSession(at)
	})
}

// AddPlayers joins roster players to the running session.
func (s *Service) AddPlayers(ctx context.Context, playerIDs []string) (*Result, error) {
	players, err := s.resolvePlayers(ctx, playerIDs)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, players)
}

func (s *Service) join(ctx context.Context, players []model.Player) (*Result, error) {
	return s.execute(ctx, "add_players", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.AddPlayers(players, at)
	})
}

// RemovePlayer drops a player who is not on court from the session.
func (s *Service) RemovePlayer(ctx context.Context, playerID string) (*Result, error) {
	return s.execute(ctx, "remove_player", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.RemovePlayer(playerID, at)
	})
}

// SetCourtCount changes the number of open courts.
func (s *Service) SetCourtCount(ctx context.Context, n int) (*Result, error) {
	return s.execute(ctx, "set_court_count", func(c *session.Controller, at time.Time) (*model.Event, error) {
		return c.SetCourtCount(n, at)
	})
}

// UpdateRosterPlayer writes gender and skills to the roster directory and,
// when the player is in the session, refreshes their session row.
func (s *Service) UpdateRosterPlayer(ctx context.Context, playerID string, gender model.Gender, skills map[string]model.SkillLevel) (*Result, error) {
	if s.roster == nil {
		return nil, ErrNoRoster
	}
	if err := s.roster.UpdatePlayer(ctx, playerID, gender, skills); err != nil {
		return nil, err
	}
	return s.execute(ctx, "roster_update", func(c *session.Controller, at time.Time) (*model.Event, error) {
		sp, ok := c.Player(playerID)
		if !ok {
			return nil, session.ErrUnknownPlayer
		}
		p := sp.Player
		p.Gender = gender
		p.Skills = make(map[string]model.SkillLevel, len(skills))
		for k, v := range skills {
			p.Skills[k] = v
		}
		return c.AddPlayers([]model.Player{p}, at)
	})
}

// resolvePlayers looks ids up in the roster directory, keeping request order.
func (s *Service) resolvePlayers(ctx context.Context, ids []string) ([]model.Player, error) {
	if s.roster == nil {
		return nil, ErrNoRoster
	}
	all, err := s.roster.FetchPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	byID := make(map[string]model.Player, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	out := make([]model.Player, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRoster, id)
		}
		out = append(out, p)
	}
	return out, nil
}
