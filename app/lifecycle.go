package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/relayforge/relayforge/log"
)

// Startable is implemented by components that need to run background work
// (pollers, brokers, reapers) once the router is ready.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by components that need a chance to drain or
// release resources during shutdown.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// RouteRegistrar is implemented by components that expose HTTP routes.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Setup inspects components via type assertion and partitions them into the
// hooks Start and Shutdown need. It registers nothing and starts nothing
// itself; route registration is deferred until Start succeeds so that a
// component which fails to start never has live routes.
func Setup(ctx context.Context, r chi.Router, components ...any) (
	starts []func(context.Context) error,
	stops []func(context.Context) error,
	registrars []RouteRegistrar,
) {
	for _, c := range components {
		if s, ok := c.(Startable); ok {
			starts = append(starts, s.Start)
		}
		if s, ok := c.(Stoppable); ok {
			stops = append(stops, s.Stop)
		}
		if rr, ok := c.(RouteRegistrar); ok {
			registrars = append(registrars, rr)
		}
	}
	return starts, stops, registrars
}

// Start runs every start hook in order. If one fails, every hook that
// already succeeded is rolled back (in reverse order, via its matching
// stop hook) before the error is returned, and routes are never
// registered. On full success, every registrar's routes are registered
// against r.
func Start(
	ctx context.Context,
	logger log.Logger,
	starts []func(context.Context) error,
	stops []func(context.Context) error,
	registrars []RouteRegistrar,
	r chi.Router,
) error {
	started := 0
	for _, start := range starts {
		if err := start(ctx); err != nil {
			rollback(ctx, logger, stops, started)
			return err
		}
		started++
	}

	for _, rr := range registrars {
		rr.RegisterRoutes(r)
	}

	return nil
}

// rollback stops the first n started components in reverse order, logging
// (but not propagating) any stop error so that the original start error
// stays the one the caller sees.
func rollback(ctx context.Context, logger log.Logger, stops []func(context.Context) error, n int) {
	for i := n - 1; i >= 0; i-- {
		if err := stops[i](ctx); err != nil {
			logger.Error("Rollback stop failed", "error", err)
		}
	}
}

// Shutdown gracefully drains srv and then stops every component in reverse
// registration order, logging rather than failing on individual stop
// errors so that later components still get a chance to stop.
func Shutdown(srv *http.Server, logger log.Logger, stops []func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i](ctx); err != nil {
			logger.Error("Component stop failed", "error", err)
		}
	}
}
