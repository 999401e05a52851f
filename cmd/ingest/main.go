package main

import (
	"context"
	"embed"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relayforge/relayforge/app"
	"github.com/relayforge/relayforge/config"
	"github.com/relayforge/relayforge/credential"
	database "github.com/relayforge/relayforge/db"
	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/fake"
	"github.com/relayforge/relayforge/hook/handler"
	"github.com/relayforge/relayforge/hook/postgres"
	"github.com/relayforge/relayforge/log"
	"github.com/relayforge/relayforge/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	name    = "relayforge-ingest"
	version = "0.1.0"
)

func main() {
	logger := log.NewLogger("info")

	cfg, err := config.New(logger,
		config.WithPrefix("RELAYFORGE_"),
		config.WithFile("config.yaml"),
		config.WithEnvExpansion(),
	)
	if err != nil {
		logger.Errorf("Cannot load config: %v", err)
		os.Exit(1)
	}
	logger = log.NewLogger(cfg.Log.Level)

	verifier, err := newIngestVerifier(cfg.Credential.PublicKeyHex)
	if err != nil {
		logger.Errorf("Cannot build ingestion verifier: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The database is the one component started outside app.Start: the
	// ingestion handler needs a live hook.Store at construction time, so
	// the store backend must be open before Setup ever sees the handler.
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

	metrics := telemetry.NoopMetrics{}

	router := app.NewRouter(logger)
	// Middleware must be registered ahead of any route, so the metrics
	// middleware goes on before ApplyRouterOptions adds ping/health.
	router.Use(telemetry.MetricsMiddleware(metrics))
	app.ApplyRouterOptions(router,
		app.WithDefaultMiddlewares(),
		app.WithPing(),
		app.WithDebugRoutes(),
		app.WithHealthChecks(name, version),
	)

	eventHandler := handler.NewEventHandler(store, logger,
		handler.WithVerifier(verifier),
		handler.WithMetrics(metrics),
	)

	starts, stops, registrars := app.Setup(ctx, router, eventHandler)
	if err := app.Start(ctx, logger, starts, stops, registrars, router); err != nil {
		logger.Errorf("Cannot start components: %v", err)
		if db != nil {
			db.Stop(ctx)
		}
		os.Exit(1)
	}

	shutdownStops := stops
	if db != nil {
		shutdownStops = append([]func(context.Context) error{db.Stop}, shutdownStops...)
	}

	srv := &http.Server{Addr: cfg.Server.Port, Handler: router}
	go func() {
		logger.Infof("Server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Server error: %v", err)
		}
	}()

	logger.Infof("%s(%s) started successfully", name, version)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stop

	logger.Infof("Shutting down %s(%s)...", name, version)
	cancel()
	app.Shutdown(srv, logger, shutdownStops)

	fmt.Println("Goodbye!")
}

func newIngestVerifier(publicKeyHex string) (*credential.Verifier, error) {
	if publicKeyHex == "" {
		return nil, fmt.Errorf("credential.public_key_hex is required")
	}
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode credential.public_key_hex: %w", err)
	}
	return credential.NewVerifier(raw), nil
}
