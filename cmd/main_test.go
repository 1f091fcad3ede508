package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/mimic/internal/adapters/llm"
	"github.com/okian/mimic/internal/adapters/repository"
	app "github.com/okian/mimic/internal/app"
	"github.com/okian/mimic/internal/config"
	"github.com/okian/mimic/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestOpenStore(t *testing.T) {
	convey.Convey("Given store configurations", t, func() {
		ctx := context.Background()

		convey.Convey("The sqlite driver opens a store at the configured path", func() {
			path := filepath.Join(t.TempDir(), "mimic.db")
			store, err := openStore(ctx, config.StoreConfig{Driver: config.DriverSQLite, Path: path})
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = store.Close() }()
			sq, ok := store.(*repository.SQLiteStore)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(sq.Path(), convey.ShouldEqual, path)
		})

		convey.Convey("The memory driver needs no path", func() {
			store, err := openStore(ctx, config.StoreConfig{Driver: config.DriverMemory})
			convey.So(err, convey.ShouldBeNil)
			_, ok := store.(*repository.MemoryStore)
			convey.So(ok, convey.ShouldBeTrue)
		})
	})
}

func TestBuildService(t *testing.T) {
	convey.Convey("Given a configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.AvailableModels = []string{"model-a"}
		cfg.LLM.MinLatencyMS, cfg.LLM.MaxLatencyMS = 0, 1

		convey.Convey("When the store driver is sqlite", func() {
			cfg.Store.Driver = config.DriverSQLite
			cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "mimic.db")

			svc, err := buildService(ctx, cfg, logger.Nop())

			convey.Convey("Then the database file is created and the service is usable", func() {
				convey.So(err, convey.ShouldBeNil)
				defer svc.Stop()
				_, statErr := os.Stat(cfg.Store.Path)
				convey.So(statErr, convey.ShouldBeNil)
				convey.So(svc.AvailableModels(), convey.ShouldResemble, []string{"model-a"})
			})
		})

		convey.Convey("When a questions file is configured", func() {
			path := filepath.Join(t.TempDir(), "questions.yaml")
			convey.So(os.WriteFile(path, []byte("questions:\n  - One?\n  - Two?\n"), 0o600), convey.ShouldBeNil)
			cfg.Benchmark.QuestionsFile = path

			svc, err := buildService(ctx, cfg, logger.Nop())

			convey.Convey("Then the service benchmarks with it", func() {
				convey.So(err, convey.ShouldBeNil)
				defer svc.Stop()
				convey.So(svc.GetStats()["benchmarkQuestions"], convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the questions file is missing", func() {
			cfg.Benchmark.QuestionsFile = filepath.Join(t.TempDir(), "nope.yaml")

			_, err := buildService(ctx, cfg, logger.Nop())

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "benchmark questions")
			})
		})
	})
}

func TestNewLLM(t *testing.T) {
	convey.Convey("Given llm settings", t, func() {
		cfg := config.New().LLM

		convey.Convey("Then the simulated provider is the default", func() {
			_, ok := newLLM(cfg).(*llm.Simulated)
			convey.So(ok, convey.ShouldBeTrue)
		})

		convey.Convey("Then the http provider yields a chat completions client", func() {
			cfg.Provider = config.ProviderHTTP
			_, ok := newLLM(cfg).(*llm.Client)
			convey.So(ok, convey.ShouldBeTrue)
		})
	})
}

func TestNewHTTPServer(t *testing.T) {
	convey.Convey("Given the assembled HTTP server", t, func() {
		ctx := context.Background()
		svc := app.New()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()
		srv := newHTTPServer(ctx, config.New(), svc, logger.Nop())

		convey.Convey("Then API and docs routes are served", func() {
			for _, path := range []string{"/healthz", "/metrics", "/stats", "/models", "/pipelines", "/api-docs", "/openapi.yaml"} {
				w := httptest.NewRecorder()
				srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then a pipeline can be created through it", func() {
			w := httptest.NewRecorder()
			body := strings.NewReader(`{"transcript":"hi there","models":["m1"]}`)
			req := httptest.NewRequest(http.MethodPost, "/pipelines", body)
			req.Header.Set("Content-Type", "application/json")
			srv.Handler.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a configuration on an ephemeral port", t, func() {
		cfg := config.New()
		cfg.Addr = "127.0.0.1:0"

		convey.Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the address is unusable", func() {
			cfg.Addr = "256.0.0.1:bad"

			convey.Convey("Then run reports the listen failure", func() {
				err := run(context.Background(), cfg, logger.Nop())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "http server")
			})
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		svc := app.New()
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("Then one-shot updates do not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loops return when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, svc)
			}, convey.ShouldNotPanic)
		})
	})
}
