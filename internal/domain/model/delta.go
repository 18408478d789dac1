package model

// Delta lists the rows an applied event touched, in their post-transition form.
// Stores persist a Delta as row upserts and deletes without knowing the rules
// that produced it.
type Delta struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	// Reset clears every player, match, group and pair row of the session first.
	Reset          bool            `json:"reset,omitempty"`
	Session        *SessionInfo    `json:"session,omitempty"`
	Players        []SessionPlayer `json:"players,omitempty"`
	RemovedPlayers []string        `json:"removed_players,omitempty"`
	Match          *Match          `json:"match,omitempty"`
	Groups         []ReservedGroup `json:"groups,omitempty"`
	RemovedGroups  []string        `json:"removed_groups,omitempty"`
	Pairs          []PairRow       `json:"pairs,omitempty"`
}
