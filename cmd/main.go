package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/broadcast"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/http/api"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/http/swagger"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/repository"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/roster"
	app "github.com/Yria/cocktime-scheduler-sub000/internal/app"
	"github.com/Yria/cocktime-scheduler-sub000/internal/config"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Configure(metricsOptions(cfg)...)

	st, err := buildStation(ctx, cfg)
	if err != nil {
		loggerInstance.Error(ctx, "failed to build station", logger.Error(err))
		os.Exit(1)
	}
	defer st.close(ctx)

	if err := st.svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start station", logger.Error(err))
		return
	}
	defer st.svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, st.svc)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(st.svc, st.hub).Register(ctx, mux)

	// no WriteTimeout: /ws connections are long-lived
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not covered by Shutdown
	st.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// metricsOptions labels every exported series with the station and session,
// so several stations can share one Prometheus.
func metricsOptions(cfg *config.Config) []metrics.Option {
	return []metrics.Option{
		metrics.WithCustomLabels(map[string]string{
			"station": cfg.ClientID,
			"session": cfg.SessionID,
		}),
	}
}

// station bundles the service with the adapters main owns.
type station struct {
	svc     *app.Service
	hub     *api.Hub
	closers []func() error
}

func (s *station) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Get().Warn(ctx, "close failed", logger.Error(err))
		}
	}
}

// buildStation wires the configured store, bus and roster into a service.
func buildStation(ctx context.Context, cfg *config.Config) (*station, error) {
	log := logger.Get()
	st := &station{hub: api.NewHub(api.WithHubLogger(log.Named("ws")))}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, store.Close)

	bus, err := openBus(ctx, cfg)
	if err != nil {
		st.close(ctx)
		return nil, err
	}
	st.closers = append(st.closers, bus.Close)

	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithClientID(cfg.ClientID),
		app.WithSessionID(cfg.SessionID),
		app.WithStore(store),
		app.WithBus(bus),
		app.WithNotifier(st.hub),
		app.WithDefaultCourtCount(cfg.CourtCount),
		app.WithAllowSingleWoman(cfg.AllowSingleWoman),
		app.WithWorkerCount(cfg.CommitWorkerCount),
		app.WithQueueSize(cfg.CommitQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithReconcileInterval(cfg.ReconcileInterval()),
	}
	if cfg.RosterURL != "" {
		client, err := roster.NewClient(cfg.RosterURL,
			roster.WithAPIKey(cfg.RosterAPIKey),
			roster.WithTimeout(cfg.RosterTimeout()),
			roster.WithLogger(log.Named("roster")),
		)
		if err != nil {
			st.close(ctx)
			return nil, err
		}
		opts = append(opts, app.WithRoster(client))
	}
	st.svc = app.New(opts...)
	return st, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	storeOpts := []repository.Option{
		repository.WithPollInterval(cfg.StorePollInterval()),
		repository.WithLogger(logger.Get().Named("store")),
	}
	switch cfg.StoreDriver {
	case "sqlite":
		return repository.NewSQLStore(cfg.SQLitePath, storeOpts...)
	case "firestore":
		return repository.NewFirestoreStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile, storeOpts...)
	case "memory":
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

func openBus(ctx context.Context, cfg *config.Config) (broadcast.Bus, error) {
	busOpts := []broadcast.Option{broadcast.WithLogger(logger.Get().Named("bus"))}
	switch cfg.BusDriver {
	case "redis":
		return broadcast.NewRedisBus(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, busOpts...)
	case "memory":
		return broadcast.NewMemoryBus(busOpts...), nil
	default:
		return nil, fmt.Errorf("%w: bus_driver %q", config.ErrInvalidConfig, cfg.BusDriver)
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges that only change between operations.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateCommitQueueDepth(queueLen)
	}
	if occupied, ok := stats["occupiedCourts"].(int); ok {
		metrics.UpdateOccupiedCourts(occupied)
	}
}
