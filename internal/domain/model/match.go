package model

import (
	"sort"
	"time"

	"github.com/elliotchance/pie/v2"
)

// GameType labels the composition of a match.
type GameType string

const (
	GameMixed         GameType = "mixed"
	GameMensDoubles   GameType = "mens_doubles"
	GameWomensDoubles GameType = "womens_doubles"
	GameRelaxedMixed  GameType = "relaxed_mixed"
	// GameWomenMajority is three women and one man. Generation never
	// produces it; only a reserved group can.
	GameWomenMajority GameType = "women_majority"
)

// Match is a game on a court. EndedAt is zero while the match is active.
type Match struct {
	ID        string    `json:"id"`
	CourtID   int       `json:"court_id"`
	GameType  GameType  `json:"game_type"`
	TeamA     [2]string `json:"team_a"`
	TeamB     [2]string `json:"team_b"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	// GroupID is set when the match consumed a reserved group.
	GroupID string `json:"group_id,omitempty"`
}

// PlayerIDs returns the four participants, team A first.
func (m *Match) PlayerIDs() []string {
	return []string{m.TeamA[0], m.TeamA[1], m.TeamB[0], m.TeamB[1]}
}

// Completed reports whether the match has ended.
func (m *Match) Completed() bool { return !m.EndedAt.IsZero() }

// ReservedGroup is a set of players who committed to play together.
type ReservedGroup struct {
	ID        string   `json:"id"`
	MemberIDs []string `json:"member_ids"`
	ReadyIDs  []string `json:"ready_ids"`
}

// IsMember reports whether id belongs to the group.
func (g *ReservedGroup) IsMember(id string) bool { return pie.Contains(g.MemberIDs, id) }

// IsReady reports whether id is a ready member.
func (g *ReservedGroup) IsReady(id string) bool { return pie.Contains(g.ReadyIDs, id) }

// FullyReady reports whether every member is ready.
func (g *ReservedGroup) FullyReady() bool {
	if len(g.ReadyIDs) != len(g.MemberIDs) {
		return false
	}
	for _, id := range g.MemberIDs {
		if !g.IsReady(id) {
			return false
		}
	}
	return true
}

// MarkReady adds id to ReadyIDs if it is a member not yet ready.
func (g *ReservedGroup) MarkReady(id string) bool {
	if !g.IsMember(id) || g.IsReady(id) {
		return false
	}
	g.ReadyIDs = append(g.ReadyIDs, id)
	return true
}

// PairRow is one unordered teammate pair and how often it occurred.
// PlayerA sorts before PlayerB.
type PairRow struct {
	PlayerA string `json:"player_a"`
	PlayerB string `json:"player_b"`
	Count   int    `json:"count"`
}

// PairHistory is the symmetric teammate relation of a session.
type PairHistory map[string]map[string]int

// Record notes that a and b were teammates.
func (h PairHistory) Record(a, b string) {
	h.add(a, b, 1)
	h.add(b, a, 1)
}

// Set forces the count for a pair, used when rebuilding from rows.
func (h PairHistory) Set(a, b string, count int) {
	h.put(a, b, count)
	h.put(b, a, count)
}

func (h PairHistory) add(a, b string, n int) {
	if h[a] == nil {
		h[a] = make(map[string]int)
	}
	h[a][b] += n
}

func (h PairHistory) put(a, b string, n int) {
	if h[a] == nil {
		h[a] = make(map[string]int)
	}
	h[a][b] = n
}

// Has reports whether a and b have been teammates.
func (h PairHistory) Has(a, b string) bool { return h.Count(a, b) > 0 }

// Count returns how often a and b partnered.
func (h PairHistory) Count(a, b string) int {
	if h == nil {
		return 0
	}
	return h[a][b]
}

// Partners returns the sorted set of players a has partnered with.
func (h PairHistory) Partners(a string) []string {
	out := make([]string, 0, len(h[a]))
	for b := range h[a] {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Rows flattens the relation into unordered pairs sorted by player ids.
func (h PairHistory) Rows() []PairRow {
	rows := make([]PairRow, 0)
	for a, partners := range h {
		for b, n := range partners {
			if a < b && n > 0 {
				rows = append(rows, PairRow{PlayerA: a, PlayerB: b, Count: n})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PlayerA != rows[j].PlayerA {
			return rows[i].PlayerA < rows[j].PlayerA
		}
		return rows[i].PlayerB < rows[j].PlayerB
	})
	return rows
}

// OrderedPair returns a and b with the smaller id first.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
