package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/http/api"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/http/swagger"
	app "github.com/Yria/cocktime-scheduler-sub000/internal/app"
	"github.com/Yria/cocktime-scheduler-sub000/internal/config"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			t.Setenv("COCKTIME_ADDR", ":8080")
			t.Setenv("COCKTIME_COMMIT_QUEUE_SIZE", "1000")
			t.Setenv("COCKTIME_SESSION_ID", "friday")

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.CommitQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.SessionID, convey.ShouldEqual, "friday")
			})
		})

		convey.Convey("When testing invalid configuration", func() {
			t.Setenv("COCKTIME_STORE_DRIVER", "postgres")

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestBuildStation(t *testing.T) {
	convey.Convey("Given a default configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.ReconcileIntervalMS = 0

		convey.Convey("When the station is built with in-memory drivers", func() {
			st, err := buildStation(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.svc.Start(ctx), convey.ShouldBeNil)
			defer st.close(ctx)
			defer st.svc.Stop()

			mux := http.NewServeMux()
			swagger.Register(ctx, mux)
			api.NewServer(st.svc, st.hub).Register(ctx, mux)

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/session/start", http.NoBody))
			docs := httptest.NewRecorder()
			mux.ServeHTTP(docs, httptest.NewRequest(http.MethodGet, "/openapi.yaml", http.NoBody))

			convey.Convey("Then the API serves the session with the configured courts", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(st.svc.GetStats()["courts"], convey.ShouldEqual, cfg.CourtCount)
				convey.So(docs.Code, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When the sqlite store and redis bus are selected", func() {
			mr := miniredis.RunT(t)
			cfg.StoreDriver = "sqlite"
			cfg.SQLitePath = filepath.Join(t.TempDir(), "station.db")
			cfg.BusDriver = "redis"
			cfg.RedisAddr = mr.Addr()

			st, err := buildStation(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.svc.Start(ctx), convey.ShouldBeNil)
			defer st.close(ctx)
			defer st.svc.Stop()

			res, err := st.svc.StartSession(ctx, 2, nil)

			convey.Convey("Then operations are committed through them", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Applied, convey.ShouldBeTrue)
				convey.So(st.svc.GetStats()["committed"], convey.ShouldEqual, int64(1))
			})
		})

		convey.Convey("When a roster url is configured", func() {
			cfg.RosterURL = "http://roster.invalid/api"
			st, err := buildStation(ctx, cfg)

			convey.Convey("Then the roster client is wired", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(st.svc, convey.ShouldNotBeNil)
				st.close(ctx)
			})
		})

		convey.Convey("When the redis bus cannot connect", func() {
			cfg.BusDriver = "redis"
			cfg.RedisAddr = "127.0.0.1:1"
			_, err := buildStation(ctx, cfg)

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics updater", func() {
			convey.Convey("Then it should return when the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startSystemMetricsUpdater(ctx)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing service metrics updater", func() {
			svc := app.New()

			convey.Convey("Then it should return when the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startServiceMetricsUpdater(ctx, svc)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When metrics are updated directly", func() {
			svc := app.New()
			convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then nothing panics", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})
		})
	})
}

func TestMetricsOptions(t *testing.T) {
	convey.Convey("Given a station configuration", t, func() {
		cfg := config.New()
		cfg.ClientID = "front-desk"
		cfg.SessionID = "friday"

		convey.Convey("When a metrics manager is built from it", func() {
			registry := prometheus.NewRegistry()
			metrics.NewManager(append(metricsOptions(cfg), metrics.WithPrometheusRegistry(registry))...)
			families, err := registry.Gather()
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then every series names the station and session", func() {
				convey.So(families, convey.ShouldNotBeEmpty)
				for _, f := range families {
					labels := map[string]string{}
					for _, l := range f.GetMetric()[0].GetLabel() {
						labels[l.GetName()] = l.GetValue()
					}
					convey.So(labels["station"], convey.ShouldEqual, "front-desk")
					convey.So(labels["session"], convey.ShouldEqual, "friday")
				}
			})
		})
	})
}
