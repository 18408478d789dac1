package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Yria/cocktime-scheduler-sub000/internal/simulate"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

// Default configuration constants.
const (
	defaultPlayers     = 14
	defaultCourts      = 2
	defaultRounds      = 40
	defaultRestEvery   = 5
	defaultTimeout     = 10 * time.Second
	defaultSettle      = 5 * time.Second
	defaultTestTimeout = 10 * time.Minute
	readHeaderTimeout  = 5 * time.Second
)

func main() {
	var (
		stations   = flag.String("stations", "http://localhost:8080", "Comma separated station URLs")
		rosterAddr = flag.String("roster-addr", "127.0.0.1:9090", "Listen address of the built-in roster directory")
		players    = flag.Int("players", defaultPlayers, "Number of roster players to generate and join")
		courts     = flag.Int("courts", defaultCourts, "Courts to open")
		rounds     = flag.Int("rounds", defaultRounds, "Rounds to play")
		restEvery  = flag.Int("rest-every", defaultRestEvery, "Toggle a player's rest every N rounds, 0 disables")
		seed       = flag.Uint64("seed", 1, "Seed for genders, ratings and rest picks")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettle, "How long stations may take to agree")
		logFile    = flag.String("log", "", "Log file (default: simulate_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Log every match")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	closer, err := simulate.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()
	log := logger.Get()

	roster := simulate.GeneratePlayers(ctx, *players, *seed)
	ln, err := net.Listen("tcp", *rosterAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for roster directory", logger.Error(err))
		return
	}
	srv := &http.Server{Handler: simulate.NewDirectory(roster), ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "roster directory failed", logger.Error(err))
		}
	}()
	defer srv.Close()
	log.Info(ctx, "roster directory listening", logger.String("addr", ln.Addr().String()))

	config := &simulate.Config{
		Stations:      strings.Split(*stations, ","),
		PlayerIDs:     simulate.IDs(roster),
		Courts:        *courts,
		Rounds:        *rounds,
		RestEvery:     *restEvery,
		Seed:          *seed,
		Timeout:       *timeout,
		SettleTimeout: *settle,
		Verbose:       *verbose,
	}

	if _, err := simulate.Run(ctx, config); err != nil {
		log.Error(ctx, "simulation failed", logger.Error(err))
		return
	}
}
