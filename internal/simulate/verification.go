package simulate

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

// verifyInvariants checks one station's state: a playing player is on
// exactly one court and everyone on court is marked playing.
func verifyInvariants(st *sessionState) error {
	onCourt := make(map[string]int)
	for _, c := range st.Courts {
		if c.Match == nil {
			continue
		}
		for _, id := range c.Match.PlayerIDs() {
			if prev, ok := onCourt[id]; ok {
				return fmt.Errorf("%w: %s: player %s on courts %d and %d", ErrInvariant, st.ClientID, id, prev, c.ID)
			}
			onCourt[id] = c.ID
		}
	}
	for _, p := range st.Players {
		_, playing := onCourt[p.ID]
		if playing != (p.Status == model.StatusPlaying) {
			return fmt.Errorf("%w: %s: player %s is %s, on court: %t", ErrInvariant, st.ClientID, p.ID, p.Status, playing)
		}
		delete(onCourt, p.ID)
	}
	if len(onCourt) > 0 {
		stray := slices.Sorted(maps.Keys(onCourt))
		return fmt.Errorf("%w: %s: unknown player %s on court", ErrInvariant, st.ClientID, stray[0])
	}
	return nil
}

// fingerprint summarises the parts of a state every station must agree on.
func fingerprint(st *sessionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rev=%d active=%t done=%d;", st.Revision, st.Session.Active, st.CompletedCount)
	players := slices.Clone(st.Players)
	slices.SortFunc(players, func(a, b model.SessionPlayer) int { return strings.Compare(a.ID, b.ID) })
	for _, p := range players {
		fmt.Fprintf(&b, "%s:%s:%d;", p.ID, p.Status, p.GameCount)
	}
	for _, c := range st.Courts {
		id := "-"
		if c.Match != nil {
			id = c.Match.ID
		}
		fmt.Fprintf(&b, "c%d:%t:%s;", c.ID, c.Open, id)
	}
	return b.String()
}

// verifyConvergence reports the first station whose state differs from the first one.
func verifyConvergence(states []*sessionState) error {
	if len(states) < 2 {
		return nil
	}
	want := fingerprint(states[0])
	for _, st := range states[1:] {
		if got := fingerprint(st); got != want {
			return fmt.Errorf("%w: %s at revision %d, %s at revision %d",
				ErrNotConverged, states[0].ClientID, states[0].Revision, st.ClientID, st.Revision)
		}
	}
	return nil
}

// gameSpread returns the lowest and highest game counts among session players.
func gameSpread(st *sessionState) (lo, hi int) {
	for i, p := range st.Players {
		if i == 0 || p.GameCount < lo {
			lo = p.GameCount
		}
		if p.GameCount > hi {
			hi = p.GameCount
		}
	}
	return lo, hi
}

// verifyResults checks the settled states and fills the fairness stats.
// An uneven spread is only reported; resting players legitimately fall behind.
func verifyResults(ctx context.Context, cfg *Config, states []*sessionState, stats *Stats) error {
	for _, st := range states {
		if err := verifyInvariants(st); err != nil {
			return err
		}
	}
	if err := verifyConvergence(states); err != nil {
		return err
	}

	stats.MinGames, stats.MaxGames = gameSpread(states[0])
	if spread := stats.MaxGames - stats.MinGames; spread > cfg.MaxSpread {
		logger.Get().Warn(ctx, "game counts are uneven",
			logger.Int("min", stats.MinGames),
			logger.Int("max", stats.MaxGames),
			logger.Int("allowed", cfg.MaxSpread))
	}
	logger.Get().Info(ctx, "verification passed",
		logger.Int("stations", len(states)),
		logger.Int64("revision", states[0].Revision))
	return nil
}
