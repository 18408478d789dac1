package simulate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging logs to stdout and to logFile. If logFile is empty, a
// timestamped filename is generated.
func SetupLogging(logFile string) (io.Closer, error) {
	if logFile == "" {
		logFile = "simulate_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWithOptions(logger.Options{Output: io.MultiWriter(os.Stdout, file)}); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Cocktime Session Simulator
==========================

Plays a club night against one or more running stations and checks that
every station ends up with the same session.

The simulator serves its own roster directory; start the stations with
COCKTIME_ROSTER_URL pointing at it (see -roster-addr).

Usage:
  go run ./cmd/simulate [options]

Options:
  -stations string
        Comma separated station URLs (default "http://localhost:8080")
  -roster-addr string
        Listen address of the built-in roster directory (default "127.0.0.1:9090")
  -players int
        Number of roster players to generate and join (default 14)
  -courts int
        Courts to open (default 2)
  -rounds int
        Rounds to play (default 40)
  -rest-every int
        Toggle a player's rest every N rounds, 0 disables (default 5)
  -seed uint
        Seed for genders, ratings and rest picks (default 1)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        How long stations may take to agree (default 5s)
  -log string
        Log file (default: simulate_TIMESTAMP.log)
  -verbose
        Log every match
  -help
        Show this help message

Examples:
  # One station
  COCKTIME_ROSTER_URL=http://127.0.0.1:9090 go run ./cmd
  go run ./cmd/simulate

  # Two stations sharing a redis bus and a sqlite store
  go run ./cmd/simulate -stations http://localhost:8080,http://localhost:8081 -rounds 200
`)
}
