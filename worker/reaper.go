package worker

import (
	"context"
	"time"

	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/service"
	"github.com/relayforge/relayforge/log"
	"github.com/relayforge/relayforge/pubsub"
	"github.com/relayforge/relayforge/telemetry"
)

// Reaper periodically runs the cascade reaper and the stuck-claim sweeper.
// Both of its passes are idempotent, so a missed tick or an overlapping
// run after a restart is harmless.
type Reaper struct {
	store      hook.Store
	interval   time.Duration
	stuckGrace time.Duration
	log        log.Logger
	metrics    telemetry.Metrics
	cascadeSub pubsub.Subscriber

	cancel context.CancelFunc
	done   chan struct{}
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperMetrics attaches a telemetry.Metrics sink; defaults to a no-op.
func WithReaperMetrics(m telemetry.Metrics) ReaperOption {
	return func(r *Reaper) { r.metrics = m }
}

// WithCascadeSubscriber subscribes the reaper to service.CascadeTopic so a
// subscription disable/delete triggers an immediate sweep instead of
// waiting for the next tick. The ticker keeps running regardless, as the
// backstop for a missed or never-delivered message.
func WithCascadeSubscriber(sub pubsub.Subscriber) ReaperOption {
	return func(r *Reaper) { r.cascadeSub = sub }
}

// NewReaper returns a Reaper that ticks every interval, treating a Pending
// attempt as stuck once it has been claimed for longer than stuckGrace.
func NewReaper(store hook.Store, interval, stuckGrace time.Duration, logger log.Logger, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:      store,
		interval:   interval,
		stuckGrace: stuckGrace,
		log:        logger,
		metrics:    telemetry.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the reaper's tick loop in the background, and subscribes
// to the cascade fast-path topic if a subscriber was configured.
func (r *Reaper) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	if r.cascadeSub != nil {
		err := r.cascadeSub.Subscribe(runCtx, service.CascadeTopic, func(ctx context.Context, env pubsub.Envelope) error {
			r.sweep(ctx)
			return nil
		}, pubsub.SubscribeOptions{})
		if err != nil {
			cancel()
			return err
		}
	}

	go r.run(runCtx)
	return nil
}

// Stop cancels the tick loop and waits for the current pass to finish.
func (r *Reaper) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()

	failed, err := service.RunCascadeReaper(ctx, r.store, now)
	if err != nil {
		r.log.Error("cascade reaper failed", "error", err)
	} else if failed > 0 {
		r.log.Info("cascade reaper failed attempts", "count", failed)
		r.metrics.Counter(ctx, "cascade_failed_attempts", float64(failed), nil)
	}

	recovered, err := service.SweepStuckClaims(ctx, r.store, r.stuckGrace, now)
	if err != nil {
		r.log.Error("stuck claim sweep failed", "error", err)
	} else if recovered > 0 {
		r.log.Info("recovered stuck attempts", "count", recovered)
		r.metrics.Counter(ctx, "stuck_attempts_recovered", float64(recovered), nil)
	}
}
