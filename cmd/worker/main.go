package main

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayforge/relayforge/app"
	"github.com/relayforge/relayforge/config"
	database "github.com/relayforge/relayforge/db"
	"github.com/relayforge/relayforge/deliveryclient"
	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/fake"
	"github.com/relayforge/relayforge/hook/postgres"
	"github.com/relayforge/relayforge/log"
	"github.com/relayforge/relayforge/preflight"
	"github.com/relayforge/relayforge/pubsub"
	"github.com/relayforge/relayforge/pubsub/nats"
	"github.com/relayforge/relayforge/target"
	"github.com/relayforge/relayforge/telemetry"
	"github.com/relayforge/relayforge/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	name    = "relayforge-worker"
	version = "0.1.0"
)

// stuckClaimGraceMultiplier is the multiple of REQUEST_TIMEOUT_SECS after
// which an unreleased claim is considered orphaned by a crashed worker.
const stuckClaimGraceMultiplier = 2

func main() {
	logger := log.NewLogger("info")

	cfg, err := config.New(logger,
		config.WithPrefix("WORKER_"),
		config.WithWorkerEnv(),
		config.WithFile("config.yaml"),
		config.WithEnvExpansion(),
	)
	if err != nil {
		logger.Errorf("Cannot load config: %v", err)
		os.Exit(1)
	}
	logger = log.NewLogger(cfg.Log.Level)

	if cfg.Worker.Name == "" {
		logger.Errorf("worker.name is required (set WORKER_NAME)")
		os.Exit(1)
	}

	schedule, err := cfg.RetrySchedule()
	if err != nil {
		logger.Errorf("Invalid retry schedule: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.Driver != "fake" && cfg.Database.Host != "" {
		checker := preflight.New(logger)
		checker.Add(preflight.TCPCheck("database", fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)))
		if err := checker.RunAll(ctx); err != nil {
			logger.Errorf("Preflight checks failed: %v", err)
			os.Exit(1)
		}
	}

	// The database is the one component started outside app.Start: the
	// worker and reaper need a live hook.Store at construction time.
	var store hook.Store
	var db *database.Database
	if cfg.Database.Driver == "fake" {
		store = fake.NewStore()
	} else {
		db = database.New(migrationsFS, "postgres", cfg, logger)
		if err := db.Start(ctx); err != nil {
			logger.Errorf("Cannot start database: %v", err)
			os.Exit(1)
		}
		store = postgres.NewStore(db.GetDB())
	}

	validator := target.New(cfg.Worker.AllowedPorts, cfg.Worker.DisableTargetIPCheck)
	if cfg.Worker.DisableTargetIPCheck {
		logger.Errorf("DISABLE_TARGET_IP_CHECK is set: target validation is running in local-testing mode")
	}

	requestTimeout := time.Duration(cfg.Worker.RequestTimeoutSecs) * time.Second
	client := deliveryclient.New(validator, logger, deliveryclient.WithTimeout(requestTimeout))

	metrics := telemetry.NoopMetrics{}

	// The cascade fast path degrades to poll-only reaping when NATS is
	// absent or unreachable, so the broker is also started ahead of
	// app.Start rather than treated as a start-or-die component.
	var cascadeBroker *nats.Broker
	var cascadeSub pubsub.Subscriber
	if cfg.NATS.URL != "" {
		cascadeBroker = nats.NewBroker(nats.Config{
			URL:          cfg.NATS.URL,
			MaxReconnect: cfg.NATS.MaxReconnect,
		}, logger)
		if err := cascadeBroker.Start(ctx); err != nil {
			logger.Errorf("NATS cascade fast-path unavailable, falling back to poll-only reaper: %v", err)
			cascadeBroker = nil
		} else {
			cascadeSub = cascadeBroker
		}
	}

	w := worker.New(
		cfg.Worker.Name,
		store,
		client,
		schedule,
		cfg.Worker.Concurrency,
		cfg.Worker.ClaimBatchSize,
		time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond,
		requestTimeout,
		logger,
		worker.WithMetrics(metrics),
	)

	stuckGrace := time.Duration(cfg.Worker.RequestTimeoutSecs*stuckClaimGraceMultiplier) * time.Second
	reaperOpts := []worker.ReaperOption{worker.WithReaperMetrics(metrics)}
	if cascadeSub != nil {
		reaperOpts = append(reaperOpts, worker.WithCascadeSubscriber(cascadeSub))
	}
	reaper := worker.NewReaper(store, time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond, stuckGrace, logger, reaperOpts...)

	router := app.NewRouter(logger)
	app.ApplyRouterOptions(router,
		app.WithDefaultInternalMiddlewares(),
		app.WithPing(),
		app.WithDebugRoutes(),
		app.WithHealthChecks(name, version),
	)

	starts, stops, registrars := app.Setup(ctx, router, w, reaper)
	if err := app.Start(ctx, logger, starts, stops, registrars, router); err != nil {
		logger.Errorf("Cannot start components: %v", err)
		if cascadeBroker != nil {
			cascadeBroker.Stop(ctx)
		}
		if db != nil {
			db.Stop(ctx)
		}
		os.Exit(1)
	}

	shutdownStops := stops
	if cascadeBroker != nil {
		shutdownStops = append([]func(context.Context) error{cascadeBroker.Stop}, shutdownStops...)
	}
	if db != nil {
		shutdownStops = append([]func(context.Context) error{db.Stop}, shutdownStops...)
	}

	logger.Infof("%s(%s) started as worker %q with concurrency %d", name, version, cfg.Worker.Name, cfg.Worker.Concurrency)

	srv := &http.Server{Addr: cfg.Server.Port, Handler: router}
	go func() {
		logger.Infof("Internal server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stop

	logger.Infof("Shutting down %s(%s)...", name, version)
	cancel()
	app.Shutdown(srv, logger, shutdownStops)

	fmt.Println("Goodbye!")
}
