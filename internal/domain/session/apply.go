package session

import (
	"time"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Apply performs the transition an event describes. It returns false when the
// event was already applied or does not fit the current state; state is then
// untouched.
func (c *Controller) Apply(ev *model.Event) bool {
	if ev == nil {
		return false
	}
	switch ev.Type {
	case model.EventMatchStarted:
		return c.applyMatchStarted(ev)
	case model.EventMatchCompleted:
		return c.applyMatchCompleted(ev)
	case model.EventPlayerStatusChanged:
		return c.applyStatus(ev)
	case model.EventPlayerForceMixedChanged, model.EventPlayerAllowSingleChanged:
		return c.applyFlag(ev)
	case model.EventGroupReserved:
		return c.applyGroupReserved(ev)
	case model.EventGroupDisbanded:
		return c.applyGroupDisbanded(ev)
	case model.EventSessionStarted:
		return c.applySessionStarted(ev)
	case model.EventSessionEnded:
		return c.applySessionEnded(ev)
	case model.EventPlayersJoined:
		return c.applyPlayersJoined(ev)
	case model.EventPlayerRemoved:
		return c.applyPlayerRemoved(ev)
	case model.EventCourtCountChanged:
		return c.applyCourtCount(ev)
	default:
		return false
	}
}

func (c *Controller) applyMatchStarted(ev *model.Event) bool {
	m := ev.Match
	if m == nil || !c.info.Active {
		return false
	}
	if _, ok := c.matches[m.ID]; ok {
		return false
	}
	if _, done := c.completed[m.ID]; done {
		return false
	}
	if _, busy := c.courtMatch[m.CourtID]; busy {
		return false
	}
	ids := m.PlayerIDs()
	for _, id := range ids {
		sp, ok := c.players[id]
		if !ok {
			return false
		}
		reservedHere := sp.Status == model.StatusReserved && m.GroupID != "" && c.playerGroup[id] == m.GroupID
		if sp.Status != model.StatusWaiting && !reservedHere {
			return false
		}
	}
	if m.GroupID != "" {
		c.dropGroup(m.GroupID)
	}
	for _, id := range ids {
		c.players[id].Status = model.StatusPlaying
		c.playerMatch[id] = m.ID
	}
	cp := *m
	c.matches[m.ID] = &cp
	c.courtMatch[m.CourtID] = m.ID
	return true
}

func (c *Controller) applyMatchCompleted(ev *model.Event) bool {
	if ev.Match == nil {
		return false
	}
	m, ok := c.matches[ev.Match.ID]
	if !ok {
		return false
	}
	endedAt := ev.Match.EndedAt
	if endedAt.IsZero() {
		endedAt = ev.At
	}
	mixed := m.GameType == model.GameMixed
	for _, id := range m.PlayerIDs() {
		delete(c.playerMatch, id)
		sp, ok := c.players[id]
		if !ok {
			continue
		}
		sp.GameCount++
		if mixed && sp.Gender == model.GenderMale {
			sp.MixedCount++
		}
		sp.WaitSince = endedAt
		sp.Status = model.StatusWaiting
		if g, grouped := c.groups[c.playerGroup[id]]; grouped {
			g.MarkReady(id)
			sp.Status = model.StatusReserved
		}
	}
	c.history.Record(m.TeamA[0], m.TeamA[1])
	c.history.Record(m.TeamB[0], m.TeamB[1])
	if mixed {
		last := *m
		last.EndedAt = endedAt
		c.lastMixed = &last
	}
	delete(c.courtMatch, m.CourtID)
	delete(c.matches, m.ID)
	c.completed[m.ID] = struct{}{}
	c.completedCount++
	return true
}

// applyStatus moves a player between waiting and resting only.
func (c *Controller) applyStatus(ev *model.Event) bool {
	p := ev.Player
	if p == nil {
		return false
	}
	sp, ok := c.players[p.ID]
	if !ok || (sp.Status != model.StatusWaiting && sp.Status != model.StatusResting) {
		return false
	}
	if p.Status != model.StatusWaiting && p.Status != model.StatusResting {
		return false
	}
	if sp.Status == p.Status {
		return false
	}
	sp.Status = p.Status
	if p.Status == model.StatusWaiting && !p.WaitSince.IsZero() {
		sp.WaitSince = p.WaitSince
	}
	return true
}

func (c *Controller) applyFlag(ev *model.Event) bool {
	if ev.Player == nil {
		return false
	}
	sp, ok := c.players[ev.Player.ID]
	if !ok {
		return false
	}
	flag, target := &sp.ForceMixed, ev.Player.ForceMixed
	if ev.Type == model.EventPlayerAllowSingleChanged {
		flag, target = &sp.AllowMixedSingle, ev.Player.AllowMixedSingle
	}
	if *flag == target {
		return false
	}
	*flag = target
	return true
}

func (c *Controller) applyGroupReserved(ev *model.Event) bool {
	g := ev.Group
	if g == nil || !c.info.Active {
		return false
	}
	if _, ok := c.groups[g.ID]; ok {
		return false
	}
	if _, gone := c.retired[g.ID]; gone {
		return false
	}
	if len(g.MemberIDs) < 2 || len(g.MemberIDs) > 4 {
		return false
	}
	for _, id := range g.MemberIDs {
		sp, ok := c.players[id]
		if !ok {
			return false
		}
		if _, grouped := c.playerGroup[id]; grouped {
			return false
		}
		if sp.Status != model.StatusWaiting && sp.Status != model.StatusPlaying {
			return false
		}
	}
	// readiness follows local status; the payload's ready list is advisory
	group := &model.ReservedGroup{ID: g.ID, MemberIDs: append([]string{}, g.MemberIDs...), ReadyIDs: []string{}}
	for _, id := range g.MemberIDs {
		sp := c.players[id]
		if sp.Status == model.StatusWaiting {
			sp.Status = model.StatusReserved
			group.ReadyIDs = append(group.ReadyIDs, id)
		}
		c.playerGroup[id] = g.ID
	}
	c.groups[g.ID] = group
	return true
}

func (c *Controller) applyGroupDisbanded(ev *model.Event) bool {
	if ev.Group == nil {
		return false
	}
	g, ok := c.groups[ev.Group.ID]
	if !ok {
		return false
	}
	for _, id := range g.MemberIDs {
		if sp, ok := c.players[id]; ok && sp.Status == model.StatusReserved {
			sp.Status = model.StatusWaiting
		}
	}
	c.dropGroup(g.ID)
	return true
}

func (c *Controller) dropGroup(id string) {
	g, ok := c.groups[id]
	if !ok {
		return
	}
	for _, member := range g.MemberIDs {
		if c.playerGroup[member] == id {
			delete(c.playerGroup, member)
		}
	}
	delete(c.groups, id)
	c.retired[id] = struct{}{}
}

func (c *Controller) applySessionStarted(ev *model.Event) bool {
	s := ev.Session
	if s == nil {
		return false
	}
	if c.info.Active && c.info.StartedAt.Equal(s.StartedAt) {
		return false
	}
	// a late replay of a session that has since ended
	if !c.info.Active && !c.info.EndedAt.IsZero() && !s.StartedAt.After(c.info.EndedAt) {
		return false
	}
	c.reset()
	c.info = *s
	c.info.Active = true
	c.info.EndedAt = time.Time{}
	return true
}

func (c *Controller) applySessionEnded(ev *model.Event) bool {
	if !c.info.Active {
		return false
	}
	c.reset()
	c.info.Active = false
	c.info.EndedAt = ev.At
	return true
}

func (c *Controller) applyPlayersJoined(ev *model.Event) bool {
	if !c.info.Active {
		return false
	}
	changed := false
	for i := range ev.Players {
		row := ev.Players[i]
		if sp, ok := c.players[row.ID]; ok {
			if rosterChanged(sp, row.Player) {
				sp.Player = copyPlayer(&row).Player
				changed = true
			}
			continue
		}
		cp := copyPlayer(&row)
		c.players[row.ID] = &cp
		if row.JoinSeq > c.nextSeq {
			c.nextSeq = row.JoinSeq
		}
		changed = true
	}
	return changed
}

func (c *Controller) applyPlayerRemoved(ev *model.Event) bool {
	if ev.Player == nil {
		return false
	}
	sp, ok := c.players[ev.Player.ID]
	if !ok || sp.Status == model.StatusPlaying || sp.Status == model.StatusReserved {
		return false
	}
	if _, grouped := c.playerGroup[sp.ID]; grouped {
		return false
	}
	delete(c.players, sp.ID)
	return true
}

func (c *Controller) applyCourtCount(ev *model.Event) bool {
	if ev.Session == nil || !c.info.Active {
		return false
	}
	n := ev.Session.CourtCount
	if n < 1 || n == c.info.CourtCount {
		return false
	}
	c.info.CourtCount = n
	return true
}
