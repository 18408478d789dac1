package session

import (
	"fmt"
	"time"

	"github.com/elliotchance/pie/v2"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/pairing"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/selection"
)

// Proposal is a generated but uncommitted match.
type Proposal struct {
	PlayerIDs []string         `json:"player_ids"`
	GameType  model.GameType   `json:"game_type"`
	TeamA     [2]string        `json:"team_a"`
	TeamB     [2]string        `json:"team_b"`
	Cost      float64          `json:"cost"`
	Trace     []selection.Rule `json:"trace,omitempty"`
}

// Generate runs the selector and optimizer over the waiting pool. It has no
// side effects. A *selection.Failure is returned when no match is formable.
func (c *Controller) Generate() (*Proposal, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	sel, fail := selection.Select(selection.Input{
		Pool:      c.waitingPool(),
		Flags:     c.info.SessionFlags,
		LastMixed: c.LastMixed(),
	})
	if fail != nil {
		return nil, fail
	}
	split, err := pairing.Pair(sel.Players, c.history, sel.GameType == model.GameMixed)
	if err != nil {
		return nil, fmt.Errorf("pair %s selection: %w", sel.GameType, err)
	}
	return &Proposal{
		PlayerIDs: pie.Map(sel.Players, func(sp *model.SessionPlayer) string { return sp.ID }),
		GameType:  sel.GameType,
		TeamA:     split.TeamA.IDs(),
		TeamB:     split.TeamB.IDs(),
		Cost:      split.Cost,
		Trace:     sel.Trace,
	}, nil
}

// Assign commits a proposal to an empty court.
func (c *Controller) Assign(p *Proposal, courtID int, matchID string, at time.Time) (*model.Event, error) {
	if p == nil {
		return nil, ErrNoProposal
	}
	if err := c.checkCourtFree(courtID); err != nil {
		return nil, err
	}
	for _, id := range append(p.TeamA[:], p.TeamB[:]...) {
		sp, ok := c.players[id]
		if !ok || sp.Status != model.StatusWaiting {
			return nil, ErrProposalStale
		}
	}
	ev := c.newEvent(model.EventMatchStarted, at)
	ev.Match = &model.Match{
		ID: matchID, CourtID: courtID, GameType: p.GameType,
		TeamA: p.TeamA, TeamB: p.TeamB, StartedAt: at,
	}
	return c.commit(ev)
}

// Complete ends the match on a court.
func (c *Controller) Complete(courtID int, at time.Time) (*model.Event, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	id, ok := c.courtMatch[courtID]
	if !ok {
		return nil, ErrCourtEmpty
	}
	m := *c.matches[id]
	m.EndedAt = at
	ev := c.newEvent(model.EventMatchCompleted, at)
	ev.Match = &m
	return c.commit(ev)
}

// CreateReservation groups 2 to 4 waiting or playing players.
func (c *Controller) CreateReservation(ids []string, groupID string, at time.Time) (*model.Event, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	members := pie.Unique(ids)
	if len(members) != len(ids) || len(members) < 2 || len(members) > selection.MatchSize {
		return nil, ErrGroupSize
	}
	g := &model.ReservedGroup{ID: groupID, MemberIDs: append([]string{}, ids...), ReadyIDs: []string{}}
	for _, id := range ids {
		sp, ok := c.players[id]
		if !ok {
			return nil, ErrUnknownPlayer
		}
		if _, grouped := c.playerGroup[id]; grouped {
			return nil, ErrPlayerReserved
		}
		switch sp.Status {
		case model.StatusWaiting:
			g.ReadyIDs = append(g.ReadyIDs, id)
		case model.StatusPlaying:
		default:
			return nil, ErrPlayerUnavailable
		}
	}
	ev := c.newEvent(model.EventGroupReserved, at)
	ev.Group = g
	return c.commit(ev)
}

// AssignGroup puts a fully ready group, topped up with the fairest waiting
// players, on an empty court.
func (c *Controller) AssignGroup(groupID string, courtID int, matchID string, at time.Time) (*model.Event, error) {
	g, ok := c.groups[groupID]
	if !ok {
		return nil, ErrUnknownGroup
	}
	if !g.FullyReady() {
		return nil, ErrGroupNotReady
	}
	if err := c.checkCourtFree(courtID); err != nil {
		return nil, err
	}

	four := make([]*model.SessionPlayer, 0, selection.MatchSize)
	for _, id := range g.MemberIDs {
		four = append(four, c.players[id])
	}
	need := selection.MatchSize - len(four)
	pool := pie.SortStableUsing(c.waitingPool(), func(a, b *model.SessionPlayer) bool {
		return a.GameCount < b.GameCount
	})
	if len(pool) < need {
		return nil, ErrNotEnoughFillIns
	}
	four = append(four, pool[:need]...)

	gameType := classify(four)
	split, err := pairing.Pair(four, c.history, gameType == model.GameMixed)
	if err != nil {
		return nil, fmt.Errorf("pair group %s: %w", groupID, err)
	}
	ev := c.newEvent(model.EventMatchStarted, at)
	ev.Match = &model.Match{
		ID: matchID, CourtID: courtID, GameType: gameType,
		TeamA: split.TeamA.IDs(), TeamB: split.TeamB.IDs(),
		StartedAt: at, GroupID: groupID,
	}
	return c.commit(ev)
}

// classify labels a fixed foursome by its gender composition.
func classify(four []*model.SessionPlayer) model.GameType {
	women := len(pie.Filter(four, func(sp *model.SessionPlayer) bool { return sp.Gender == model.GenderFemale }))
	switch women {
	case 0:
		return model.GameMensDoubles
	case 1:
		return model.GameRelaxedMixed
	case 2:
		return model.GameMixed
	case 3:
		return model.GameWomenMajority
	default:
		return model.GameWomensDoubles
	}
}

// DisbandGroup dissolves a group; ready members go back to waiting.
func (c *Controller) DisbandGroup(groupID string, at time.Time) (*model.Event, error) {
	g, ok := c.groups[groupID]
	if !ok {
		return nil, ErrUnknownGroup
	}
	ev := c.newEvent(model.EventGroupDisbanded, at)
	cp := copyGroup(g)
	ev.Group = &cp
	return c.commit(ev)
}

// ToggleResting flips a player between waiting and resting. Returning from
// rest re-enters the wait queue at the back.
func (c *Controller) ToggleResting(playerID string, at time.Time) (*model.Event, error) {
	sp, err := c.toggleable(playerID)
	if err != nil {
		return nil, err
	}
	change := &model.PlayerChange{ID: playerID}
	switch sp.Status {
	case model.StatusWaiting:
		change.Status = model.StatusResting
	case model.StatusResting:
		change.Status = model.StatusWaiting
		change.WaitSince = at
	default:
		return nil, ErrPlayerReserved
	}
	ev := c.newEvent(model.EventPlayerStatusChanged, at)
	ev.Player = change
	return c.commit(ev)
}

// ToggleForceMixed flips the forced mixed inclusion flag.
func (c *Controller) ToggleForceMixed(playerID string, at time.Time) (*model.Event, error) {
	sp, err := c.toggleable(playerID)
	if err != nil {
		return nil, err
	}
	ev := c.newEvent(model.EventPlayerForceMixedChanged, at)
	ev.Player = &model.PlayerChange{ID: playerID, ForceMixed: !sp.ForceMixed}
	return c.commit(ev)
}

// ToggleAllowMixedSingle flips the lone-woman opt-in.
func (c *Controller) ToggleAllowMixedSingle(playerID string, at time.Time) (*model.Event, error) {
	sp, err := c.toggleable(playerID)
	if err != nil {
		return nil, err
	}
	ev := c.newEvent(model.EventPlayerAllowSingleChanged, at)
	ev.Player = &model.PlayerChange{ID: playerID, AllowMixedSingle: !sp.AllowMixedSingle}
	return c.commit(ev)
}

func (c *Controller) toggleable(playerID string) (*model.SessionPlayer, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	sp, ok := c.players[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if sp.Status == model.StatusPlaying {
		return nil, ErrPlayerPlaying
	}
	return sp, nil
}

// StartSession opens a session with courtCount courts.
func (c *Controller) StartSession(courtCount int, flags model.SessionFlags, at time.Time) (*model.Event, error) {
	if c.info.Active {
		return nil, ErrSessionActive
	}
	if courtCount < 1 {
		return nil, ErrInvalidCourtCount
	}
	ev := c.newEvent(model.EventSessionStarted, at)
	ev.Session = &model.SessionInfo{
		ID: c.info.ID, Active: true, CourtCount: courtCount,
		StartedAt: at, SessionFlags: flags,
	}
	return c.commit(ev)
}

// AddPlayers inserts new players as waiting and refreshes the roster fields
// of players already in the session.
func (c *Controller) AddPlayers(players []model.Player, at time.Time) (*model.Event, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	rows := make([]model.SessionPlayer, 0, len(players))
	seq := c.nextSeq
	for _, p := range players {
		if p.ID == "" || !p.Gender.Valid() {
			return nil, ErrInvalidPlayerInput
		}
		if sp, ok := c.players[p.ID]; ok {
			if !rosterChanged(sp, p) {
				continue
			}
			row := copyPlayer(sp)
			row.Player = p
			rows = append(rows, row)
			continue
		}
		seq++
		rows = append(rows, model.SessionPlayer{
			Player: p, Status: model.StatusWaiting, WaitSince: at, JoinSeq: seq,
		})
	}
	if len(rows) == 0 {
		return nil, ErrNoChange
	}
	ev := c.newEvent(model.EventPlayersJoined, at)
	ev.Players = rows
	return c.commit(ev)
}

func rosterChanged(sp *model.SessionPlayer, p model.Player) bool {
	if sp.Name != p.Name || sp.Gender != p.Gender || len(sp.Skills) != len(p.Skills) {
		return true
	}
	for k, v := range p.Skills {
		if sp.Skills[k] != v {
			return true
		}
	}
	return false
}

// RemovePlayer drops a waiting or resting player from the session.
func (c *Controller) RemovePlayer(playerID string, at time.Time) (*model.Event, error) {
	sp, err := c.toggleable(playerID)
	if err != nil {
		return nil, err
	}
	if sp.Status == model.StatusReserved || c.playerGroup[playerID] != "" {
		return nil, ErrPlayerReserved
	}
	ev := c.newEvent(model.EventPlayerRemoved, at)
	ev.Player = &model.PlayerChange{ID: playerID}
	return c.commit(ev)
}

// SetCourtCount changes the number of open courts. Occupied courts above the
// new count stay until their match completes.
func (c *Controller) SetCourtCount(n int, at time.Time) (*model.Event, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	if n < 1 {
		return nil, ErrInvalidCourtCount
	}
	if n == c.info.CourtCount {
		return nil, ErrNoChange
	}
	ev := c.newEvent(model.EventCourtCountChanged, at)
	info := c.info
	info.CourtCount = n
	ev.Session = &info
	return c.commit(ev)
}

// EndSession closes the session and discards its state.
func (c *Controller) EndSession(at time.Time) (*model.Event, error) {
	if !c.info.Active {
		return nil, ErrSessionInactive
	}
	ev := c.newEvent(model.EventSessionEnded, at)
	info := c.info
	info.Active = false
	info.EndedAt = at
	ev.Session = &info
	return c.commit(ev)
}

func (c *Controller) checkCourtFree(courtID int) error {
	if !c.info.Active {
		return ErrSessionInactive
	}
	if courtID < 1 || courtID > c.info.CourtCount {
		return ErrInvalidCourt
	}
	if _, busy := c.courtMatch[courtID]; busy {
		return ErrCourtBusy
	}
	return nil
}

// commit applies a freshly decided event. A decided event that does not
// apply means state moved underneath the decision.
func (c *Controller) commit(ev *model.Event) (*model.Event, error) {
	if !c.Apply(ev) {
		return nil, ErrNoChange
	}
	return ev, nil
}
