// Package session owns the per-session state and the match lifecycle.
//
// Every mutating operation is split in two: a decide method validates the
// precondition against current state and builds the broadcast event, then
// Apply performs the transition. Remote stations call Apply with the same
// event, so local and replayed transitions run the same code and Apply stays
// idempotent (match and group ids, and target values, guard replays).
package session

import (
	"time"

	"github.com/elliotchance/pie/v2"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Controller holds one session's state with its secondary indices.
// It is not safe for concurrent use; the owning service serialises access.
type Controller struct {
	info    model.SessionInfo
	players map[string]*model.SessionPlayer
	matches map[string]*model.Match
	groups  map[string]*model.ReservedGroup
	history model.PairHistory

	// secondary indices, maintained at mutation points only
	courtMatch  map[int]string
	playerMatch map[string]string
	playerGroup map[string]string

	// completed and retired remember ids that must not come back on replay
	completed      map[string]struct{}
	retired        map[string]struct{}
	completedCount int
	lastMixed      *model.Match
	nextSeq        int64
	revision       int64
}

// New returns a controller with no active session.
func New(sessionID string) *Controller {
	c := &Controller{}
	c.reset()
	c.info.ID = sessionID
	return c
}

func (c *Controller) reset() {
	c.players = make(map[string]*model.SessionPlayer)
	c.matches = make(map[string]*model.Match)
	c.groups = make(map[string]*model.ReservedGroup)
	c.history = model.PairHistory{}
	c.courtMatch = make(map[int]string)
	c.playerMatch = make(map[string]string)
	c.playerGroup = make(map[string]string)
	c.completed = make(map[string]struct{})
	c.retired = make(map[string]struct{})
	c.completedCount = 0
	c.lastMixed = nil
	c.nextSeq = 0
}

// Info returns the session header.
func (c *Controller) Info() model.SessionInfo { return c.info }

// Active reports whether a session is running.
func (c *Controller) Active() bool { return c.info.Active }

// Revision is the last store revision this state reflects.
func (c *Controller) Revision() int64 { return c.revision }

// ObserveRevision records a store revision produced by this state's own writes.
func (c *Controller) ObserveRevision(rev int64) {
	if rev > c.revision {
		c.revision = rev
	}
}

// LastMixed returns the participants of the latest completed mixed match.
func (c *Controller) LastMixed() []string {
	if c.lastMixed == nil {
		return nil
	}
	return c.lastMixed.PlayerIDs()
}

// CompletedCount is the number of matches completed this session.
func (c *Controller) CompletedCount() int { return c.completedCount }

// Player returns a copy of a session player.
func (c *Controller) Player(id string) (model.SessionPlayer, bool) {
	sp, ok := c.players[id]
	if !ok {
		return model.SessionPlayer{}, false
	}
	return *sp, true
}

// HasHistory reports whether a and b have partnered this session.
func (c *Controller) HasHistory(a, b string) bool { return c.history.Has(a, b) }

// MatchOnCourt returns the active match on a court.
func (c *Controller) MatchOnCourt(courtID int) (model.Match, bool) {
	id, ok := c.courtMatch[courtID]
	if !ok {
		return model.Match{}, false
	}
	return *c.matches[id], true
}

// Group returns a copy of a reserved group.
func (c *Controller) Group(id string) (model.ReservedGroup, bool) {
	g, ok := c.groups[id]
	if !ok {
		return model.ReservedGroup{}, false
	}
	return copyGroup(g), true
}

// VisibleCourts is max(court count, highest occupied court id).
func (c *Controller) VisibleCourts() int {
	n := c.info.CourtCount
	for court := range c.courtMatch {
		if court > n {
			n = court
		}
	}
	return n
}

// OccupiedCourts counts courts with an active match.
func (c *Controller) OccupiedCourts() int { return len(c.courtMatch) }

// StatusCounts tallies players per status.
func (c *Controller) StatusCounts() map[model.Status]int {
	counts := map[model.Status]int{
		model.StatusWaiting: 0, model.StatusPlaying: 0,
		model.StatusResting: 0, model.StatusReserved: 0,
	}
	for _, sp := range c.players {
		counts[sp.Status]++
	}
	return counts
}

// waitingPool returns waiting players in FIFO wait order.
func (c *Controller) waitingPool() []*model.SessionPlayer {
	pool := make([]*model.SessionPlayer, 0, len(c.players))
	for _, sp := range c.players {
		if sp.Status == model.StatusWaiting {
			pool = append(pool, sp)
		}
	}
	return pie.SortStableUsing(pool, model.WaitsBefore)
}

func (c *Controller) newEvent(t model.EventType, at time.Time) *model.Event {
	return &model.Event{Type: t, SessionID: c.info.ID, At: at}
}

func copyGroup(g *model.ReservedGroup) model.ReservedGroup {
	return model.ReservedGroup{
		ID:        g.ID,
		MemberIDs: append([]string{}, g.MemberIDs...),
		ReadyIDs:  append([]string{}, g.ReadyIDs...),
	}
}

func copyPlayer(sp *model.SessionPlayer) model.SessionPlayer {
	out := *sp
	if sp.Skills != nil {
		out.Skills = make(map[string]model.SkillLevel, len(sp.Skills))
		for k, v := range sp.Skills {
			out.Skills[k] = v
		}
	}
	return out
}
