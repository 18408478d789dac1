package model

import "time"

// EventType names a broadcast state transition.
type EventType string

const (
	EventMatchStarted             EventType = "match_started"
	EventMatchCompleted           EventType = "match_completed"
	EventPlayerStatusChanged      EventType = "player_status_changed"
	EventPlayerForceMixedChanged  EventType = "player_force_mixed_changed"
	EventPlayerAllowSingleChanged EventType = "player_allow_single_changed"
	EventGroupReserved            EventType = "group_reserved"
	EventGroupDisbanded           EventType = "group_disbanded"
	EventSessionStarted           EventType = "session_started"
	EventSessionEnded             EventType = "session_ended"
	EventPlayersJoined            EventType = "players_joined"
	EventPlayerRemoved            EventType = "player_removed"
	EventCourtCountChanged        EventType = "court_count_changed"
)

// Event carries exactly the data a remote station needs to replay a transition.
// Only the payload field matching Type is set.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	// Origin is the client id of the issuing station.
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
	// Revision is the store revision the issuing station's write produced.
	// Zero until the write succeeds.
	Revision int64 `json:"revision,omitempty"`

	Match   *Match          `json:"match,omitempty"`
	Player  *PlayerChange   `json:"player,omitempty"`
	Group   *ReservedGroup  `json:"group,omitempty"`
	Session *SessionInfo    `json:"session,omitempty"`
	Players []SessionPlayer `json:"players,omitempty"`
}

// PlayerChange is the payload of the per-player events. Fields not relevant
// to the event type are left at their zero value.
type PlayerChange struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status,omitempty"`
	WaitSince        time.Time `json:"wait_since,omitempty"`
	ForceMixed       bool      `json:"force_mixed,omitempty"`
	AllowMixedSingle bool      `json:"allow_mixed_single,omitempty"`
}

// Snapshot is the authoritative session state fetched for reconciliation.
type Snapshot struct {
	Session       SessionInfo     `json:"session"`
	Players       []SessionPlayer `json:"players"`
	ActiveMatches []Match         `json:"active_matches"`
	PairHistory   []PairRow       `json:"pair_history"`
	Groups        []ReservedGroup `json:"groups"`
	// LastMixed is the most recently completed mixed match, if any.
	LastMixed      *Match `json:"last_mixed,omitempty"`
	CompletedCount int    `json:"completed_count"`
	Revision       int64  `json:"revision"`
	// CompletedMatchIDs and RetiredGroupIDs name matches and groups that are
	// over; replays of their earlier events must not bring them back.
	CompletedMatchIDs []string `json:"completed_match_ids,omitempty"`
	RetiredGroupIDs   []string `json:"retired_group_ids,omitempty"`
}
