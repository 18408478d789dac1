package session

import (
	"fmt"
	"sort"

	"github.com/mitchellh/copystructure"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Court is one visible court in a view.
type Court struct {
	ID    int          `json:"id"`
	Match *model.Match `json:"match,omitempty"`
	// Open is false for courts above the court count; they accept no new match.
	Open bool `json:"open"`
}

// View is a detached copy of the state for readers outside the controller.
type View struct {
	model.Snapshot
	Courts    []Court  `json:"courts"`
	LastMixed []string `json:"last_mixed_ids"`
}

// Rebuild replaces the whole state with an authoritative snapshot and
// recomputes every secondary index.
func (c *Controller) Rebuild(snap *model.Snapshot) {
	c.reset()
	c.info = snap.Session
	for i := range snap.Players {
		cp := copyPlayer(&snap.Players[i])
		c.players[cp.ID] = &cp
		if cp.JoinSeq > c.nextSeq {
			c.nextSeq = cp.JoinSeq
		}
	}
	for i := range snap.ActiveMatches {
		m := snap.ActiveMatches[i]
		c.matches[m.ID] = &m
		c.courtMatch[m.CourtID] = m.ID
		for _, id := range m.PlayerIDs() {
			c.playerMatch[id] = m.ID
		}
	}
	for i := range snap.Groups {
		g := copyGroup(&snap.Groups[i])
		c.groups[g.ID] = &g
		for _, id := range g.MemberIDs {
			c.playerGroup[id] = g.ID
		}
	}
	for _, row := range snap.PairHistory {
		c.history.Set(row.PlayerA, row.PlayerB, row.Count)
	}
	if snap.LastMixed != nil {
		last := *snap.LastMixed
		c.lastMixed = &last
	}
	for _, id := range snap.CompletedMatchIDs {
		c.completed[id] = struct{}{}
	}
	for _, id := range snap.RetiredGroupIDs {
		c.retired[id] = struct{}{}
	}
	c.completedCount = snap.CompletedCount
	c.revision = snap.Revision
}

// Snapshot exports the state in store shape, ordered for stable output.
func (c *Controller) Snapshot() *model.Snapshot {
	snap := &model.Snapshot{
		Session:        c.info,
		Players:        make([]model.SessionPlayer, 0, len(c.players)),
		ActiveMatches:  make([]model.Match, 0, len(c.matches)),
		PairHistory:    c.history.Rows(),
		Groups:         make([]model.ReservedGroup, 0, len(c.groups)),
		CompletedCount: c.completedCount,
		Revision:       c.revision,

		CompletedMatchIDs: sortedIDs(c.completed),
		RetiredGroupIDs:   sortedIDs(c.retired),
	}
	if c.lastMixed != nil {
		last := *c.lastMixed
		snap.LastMixed = &last
	}
	for _, sp := range c.players {
		snap.Players = append(snap.Players, copyPlayer(sp))
	}
	sort.Slice(snap.Players, func(i, j int) bool {
		return model.WaitsBefore(&snap.Players[i], &snap.Players[j])
	})
	for _, m := range c.matches {
		snap.ActiveMatches = append(snap.ActiveMatches, *m)
	}
	sort.Slice(snap.ActiveMatches, func(i, j int) bool {
		return snap.ActiveMatches[i].CourtID < snap.ActiveMatches[j].CourtID
	})
	for _, g := range c.groups {
		snap.Groups = append(snap.Groups, copyGroup(g))
	}
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].ID < snap.Groups[j].ID })
	return snap
}

// View returns a deep copy of the state with the visible court table.
func (c *Controller) View() (*View, error) {
	v := &View{Snapshot: *c.Snapshot(), LastMixed: c.LastMixed()}
	for id := 1; id <= c.VisibleCourts(); id++ {
		court := Court{ID: id, Open: id <= c.info.CourtCount}
		if mid, ok := c.courtMatch[id]; ok {
			m := *c.matches[mid]
			court.Match = &m
		}
		v.Courts = append(v.Courts, court)
	}
	copied, err := copystructure.Copy(v)
	if err != nil {
		return nil, fmt.Errorf("copy view: %w", err)
	}
	return copied.(*View), nil
}

// Delta lists the rows ev touched, read from the post-transition state.
// Call it right after ev was applied.
func (c *Controller) Delta(ev *model.Event) *model.Delta {
	d := &model.Delta{EventID: ev.ID, EventType: ev.Type}
	switch ev.Type {
	case model.EventMatchStarted:
		d.Match = ev.Match
		d.Players = c.rows(ev.Match.PlayerIDs())
		if ev.Match.GroupID != "" {
			d.RemovedGroups = []string{ev.Match.GroupID}
		}
	case model.EventMatchCompleted:
		d.Match = ev.Match
		ids := ev.Match.PlayerIDs()
		d.Players = c.rows(ids)
		d.Groups = c.groupRows(ids)
		for _, team := range [][2]string{ev.Match.TeamA, ev.Match.TeamB} {
			a, b := model.OrderedPair(team[0], team[1])
			d.Pairs = append(d.Pairs, model.PairRow{PlayerA: a, PlayerB: b, Count: c.history.Count(a, b)})
		}
	case model.EventPlayerStatusChanged, model.EventPlayerForceMixedChanged, model.EventPlayerAllowSingleChanged:
		d.Players = c.rows([]string{ev.Player.ID})
	case model.EventPlayerRemoved:
		d.RemovedPlayers = []string{ev.Player.ID}
	case model.EventGroupReserved:
		d.Groups = c.groupRows(ev.Group.MemberIDs)
		d.Players = c.rows(ev.Group.MemberIDs)
	case model.EventGroupDisbanded:
		d.RemovedGroups = []string{ev.Group.ID}
		d.Players = c.rows(ev.Group.MemberIDs)
	case model.EventPlayersJoined:
		ids := make([]string, 0, len(ev.Players))
		for _, p := range ev.Players {
			ids = append(ids, p.ID)
		}
		d.Players = c.rows(ids)
	case model.EventSessionStarted, model.EventSessionEnded:
		d.Reset = true
		info := c.info
		d.Session = &info
	case model.EventCourtCountChanged:
		info := c.info
		d.Session = &info
	}
	return d
}

func (c *Controller) rows(ids []string) []model.SessionPlayer {
	out := make([]model.SessionPlayer, 0, len(ids))
	for _, id := range ids {
		if sp, ok := c.players[id]; ok {
			out = append(out, copyPlayer(sp))
		}
	}
	return out
}

func (c *Controller) groupRows(playerIDs []string) []model.ReservedGroup {
	seen := map[string]bool{}
	var out []model.ReservedGroup
	for _, id := range playerIDs {
		gid := c.playerGroup[id]
		if gid == "" || seen[gid] {
			continue
		}
		seen[gid] = true
		out = append(out, copyGroup(c.groups[gid]))
	}
	return out
}

// sortedIDs returns the members of set in order, or nil when it is empty.
func sortedIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
