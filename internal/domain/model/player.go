// Package model contains the session entities and broadcast events shared by every layer.
package model

import "time"

// Gender of a roster player.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// Valid reports whether g is a known gender.
func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

// SkillLevel is a per-category rating.
type SkillLevel string

const (
	SkillHigh SkillLevel = "High"
	SkillMid  SkillLevel = "Mid"
	SkillLow  SkillLevel = "Low"
)

// Points maps a rating onto the numeric scale used for balancing.
func (l SkillLevel) Points() float64 {
	switch l {
	case SkillHigh:
		return 3
	case SkillMid:
		return 2
	case SkillLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is a known rating.
func (l SkillLevel) Valid() bool { return l.Points() > 0 }

// defaultSkillScore is used for players without any recognised rating.
const defaultSkillScore = 2.0

// Player is a roster entry. Only the roster directory mutates it.
type Player struct {
	ID     string                `json:"id"`
	Name   string                `json:"name"`
	Gender Gender                `json:"gender"`
	Skills map[string]SkillLevel `json:"skills,omitempty"`
}

// SkillScore is the mean rating across categories.
func SkillScore(p Player) float64 {
	var sum float64
	var n int
	for _, lvl := range p.Skills {
		if pts := lvl.Points(); pts > 0 {
			sum += pts
			n++
		}
	}
	if n == 0 {
		return defaultSkillScore
	}
	return sum / float64(n)
}

// Status is the exclusive session state of a player.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusResting  Status = "resting"
	StatusReserved Status = "reserved"
)

// SessionPlayer wraps a Player for the lifetime of one session.
type SessionPlayer struct {
	Player
	Status           Status    `json:"status"`
	GameCount        int       `json:"game_count"`
	MixedCount       int       `json:"mixed_count"`
	ForceMixed       bool      `json:"force_mixed"`
	AllowMixedSingle bool      `json:"allow_mixed_single"`
	WaitSince        time.Time `json:"wait_since"`
	// JoinSeq orders players that share a WaitSince.
	JoinSeq int64 `json:"join_seq"`
}

// Score is shorthand for SkillScore(sp.Player).
func (sp *SessionPlayer) Score() float64 { return SkillScore(sp.Player) }

// WaitsBefore reports whether a precedes b in FIFO wait order.
func WaitsBefore(a, b *SessionPlayer) bool {
	if !a.WaitSince.Equal(b.WaitSince) {
		return a.WaitSince.Before(b.WaitSince)
	}
	if a.JoinSeq != b.JoinSeq {
		return a.JoinSeq < b.JoinSeq
	}
	return a.ID < b.ID
}

// SessionFlags are session-wide switches consulted by the selector.
type SessionFlags struct {
	AllowSingleWoman bool `json:"allow_single_woman"`
}

// SessionInfo is the session header row.
type SessionInfo struct {
	ID         string    `json:"id"`
	Active     bool      `json:"active"`
	CourtCount int       `json:"court_count"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	SessionFlags
}
