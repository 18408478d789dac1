package simulate

import (
	"time"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Config holds configuration for a simulated club night.
type Config struct {
	Stations      []string      // Base URLs of the stations; the first one starts the session
	PlayerIDs     []string      // Roster players to join
	Courts        int           // Courts to open
	Rounds        int           // Fill-and-complete rounds to play
	RestEvery     int           // Toggle a player's rest every N rounds; 0 disables
	Seed          uint64        // Seed for rest picks
	Timeout       time.Duration // HTTP request timeout
	SettleTimeout time.Duration // How long stations may take to agree
	MaxSpread     int           // Largest acceptable game count spread
	Verbose       bool          // Log every operation
}

// result mirrors the station's mutating response.
type result struct {
	Applied bool         `json:"applied"`
	Reason  string       `json:"reason"`
	Event   *model.Event `json:"event"`
}

type proposal struct {
	PlayerIDs []string       `json:"player_ids"`
	GameType  model.GameType `json:"game_type"`
}

type generated struct {
	Proposal *proposal `json:"proposal"`
	Reason   string    `json:"reason"`
	Needed   int       `json:"needed"`
}

type court struct {
	ID    int          `json:"id"`
	Open  bool         `json:"open"`
	Match *model.Match `json:"match"`
}

// sessionState mirrors GET /session.
type sessionState struct {
	ClientID       string                `json:"client_id"`
	Revision       int64                 `json:"revision"`
	Session        model.SessionInfo     `json:"session"`
	Players        []model.SessionPlayer `json:"players"`
	Courts         []court               `json:"courts"`
	CompletedCount int                   `json:"completed_count"`
}

// Stats holds simulation statistics.
type Stats struct {
	MatchesStarted   int
	MatchesCompleted int
	Shortfalls       int
	Noops            int
	RestToggles      int
	Failures         int
	GamesByType      map[model.GameType]int
	MinGames         int
	MaxGames         int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
