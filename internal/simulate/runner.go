package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

// Run plays a club night against the configured stations. Rounds rotate
// across stations so every change is made on one station and observed on
// the others; after each round the stations must agree before play goes on.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if len(config.Stations) == 0 {
		return nil, ErrNoStations
	}
	config.applyDefaults()
	stats := &Stats{
		StartTime:   time.Now(),
		GamesByType: make(map[model.GameType]int),
	}
	log := logger.Get()

	log.Info(ctx, "starting session simulation",
		logger.Strings("stations", config.Stations),
		logger.Int("players", len(config.PlayerIDs)),
		logger.Int("courts", config.Courts),
		logger.Int("rounds", config.Rounds),
		logger.Int("restEvery", config.RestEvery),
		logger.Bool("verbose", config.Verbose))

	clients := make([]*stationClient, len(config.Stations))
	for i, base := range config.Stations {
		clients[i] = newStationClient(base, config)
	}

	// Step 1: Check every station is up
	if err := checkStationHealth(ctx, clients); err != nil {
		return nil, fmt.Errorf("station health check failed: %w", err)
	}

	// Step 2: Start the session on the first station
	res, err := clients[0].start(ctx, config.Courts, config.PlayerIDs)
	if err != nil {
		return nil, fmt.Errorf("session start failed: %w", err)
	}
	if !res.Applied {
		return nil, fmt.Errorf("session start refused: %s", res.Reason)
	}
	if _, err := settle(ctx, config, clients); err != nil {
		return nil, err
	}

	// Step 3: Play rounds, rotating stations
	rng := rand.New(rand.NewPCG(config.Seed, config.Seed+1))
	for round := 1; round <= config.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation cancelled: %w", err)
		}
		c := clients[(round-1)%len(clients)]
		if err := playRound(ctx, config, c, round, rng, stats); err != nil {
			return nil, fmt.Errorf("round %d on %s: %w", round, c.base, err)
		}
		// Step 4: Wait until every station reflects the round
		if _, err := settle(ctx, config, clients); err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
	}

	// Step 5: Verify the settled states
	states, err := settle(ctx, config, clients)
	if err != nil {
		return nil, err
	}
	if err := verifyResults(ctx, config, states, stats); err != nil {
		return nil, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = DefaultSettleTimeout
	}
	if c.Courts <= 0 {
		c.Courts = DefaultCourts
	}
	if c.MaxSpread <= 0 {
		c.MaxSpread = DefaultMaxSpread
	}
}

// checkStationHealth verifies every station answers its metrics endpoint.
func checkStationHealth(ctx context.Context, clients []*stationClient) error {
	for _, c := range clients {
		if err := c.health(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.base, err)
		}
	}
	logger.Get().Info(ctx, "stations are healthy", logger.Int("stations", len(clients)))
	return nil
}

// playRound completes the longest running match, fills every free court
// and occasionally sends a player to rest or back.
func playRound(ctx context.Context, config *Config, c *stationClient, round int, rng *rand.Rand, stats *Stats) error {
	log := logger.Get()
	st, err := c.state(ctx)
	if err != nil {
		return err
	}
	if !st.Session.Active {
		return errors.New("session is not active")
	}

	if courtID, ok := longestRunning(st); ok {
		res, err := c.complete(ctx, courtID)
		if err := countResult(res, err, stats); err != nil {
			return err
		}
		if res.Applied {
			stats.MatchesCompleted++
		}
	}

	if config.RestEvery > 0 && round%config.RestEvery == 0 {
		if err := toggleRest(ctx, c, rng, stats); err != nil {
			return err
		}
	}

	if st, err = c.state(ctx); err != nil {
		return err
	}
	for _, slot := range st.Courts {
		if !slot.Open || slot.Match != nil {
			continue
		}
		g, err := c.propose(ctx)
		if err != nil {
			return err
		}
		if g.Proposal == nil {
			stats.Shortfalls++
			if config.Verbose {
				log.Info(ctx, "no match possible", logger.String("reason", g.Reason), logger.Int("needed", g.Needed))
			}
			break
		}
		res, err := c.assign(ctx, slot.ID)
		if err := countResult(res, err, stats); err != nil {
			return err
		}
		if !res.Applied {
			_ = c.cancel(ctx)
			continue
		}
		stats.MatchesStarted++
		stats.GamesByType[g.Proposal.GameType]++
		if config.Verbose {
			log.Info(ctx, "match started",
				logger.Int("court", slot.ID),
				logger.String("gameType", string(g.Proposal.GameType)),
				logger.Strings("players", g.Proposal.PlayerIDs))
		}
	}
	return nil
}

// countResult folds an operation outcome into stats. Only transport and
// server errors abort the round.
func countResult(res *result, err error, stats *Stats) error {
	if err != nil {
		stats.Failures++
		return err
	}
	if !res.Applied {
		stats.Noops++
	}
	return nil
}

// longestRunning returns the court whose match started first.
func longestRunning(st *sessionState) (int, bool) {
	var oldest *court
	for i := range st.Courts {
		c := &st.Courts[i]
		if c.Match == nil {
			continue
		}
		if oldest == nil || c.Match.StartedAt.Before(oldest.Match.StartedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return 0, false
	}
	return oldest.ID, true
}

// toggleRest flips a random player who is not on court.
func toggleRest(ctx context.Context, c *stationClient, rng *rand.Rand, stats *Stats) error {
	st, err := c.state(ctx)
	if err != nil {
		return err
	}
	var idle []string
	for _, p := range st.Players {
		if p.Status == model.StatusWaiting || p.Status == model.StatusResting {
			idle = append(idle, p.ID)
		}
	}
	if len(idle) == 0 {
		return nil
	}
	res, err := c.rest(ctx, idle[rng.IntN(len(idle))])
	if err := countResult(res, err, stats); err != nil {
		return err
	}
	if res.Applied {
		stats.RestToggles++
	}
	return nil
}

// settle polls every station until they report the same state or the
// settle timeout passes.
func settle(ctx context.Context, config *Config, clients []*stationClient) ([]*sessionState, error) {
	ctx, cancel := context.WithTimeout(ctx, config.SettleTimeout)
	defer cancel()
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	var lastErr error
	for {
		states := make([]*sessionState, len(clients))
		for i, c := range clients {
			st, err := c.state(ctx)
			if err != nil {
				if lastErr != nil && ctx.Err() != nil {
					return nil, lastErr
				}
				return nil, err
			}
			states[i] = st
		}
		if lastErr = verifyConvergence(states); lastErr == nil {
			return states, nil
		}
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-ticker.C:
		}
	}
}

// displayFinalStats logs the final simulation statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	byType := make(map[string]int, len(stats.GamesByType))
	for t, n := range stats.GamesByType {
		byType[string(t)] = n
	}
	var matchesPerSecond float64
	if stats.Duration > 0 {
		matchesPerSecond = float64(stats.MatchesStarted) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("matchesStarted", stats.MatchesStarted),
		logger.Int("matchesCompleted", stats.MatchesCompleted),
		logger.Int("shortfalls", stats.Shortfalls),
		logger.Int("noops", stats.Noops),
		logger.Int("restToggles", stats.RestToggles),
		logger.Int("failures", stats.Failures),
		logger.Any("gamesByType", byType),
		logger.Int("minGames", stats.MinGames),
		logger.Int("maxGames", stats.MaxGames),
		logger.Duration("duration", stats.Duration),
		logger.Float64("matchesPerSecond", matchesPerSecond))
}
