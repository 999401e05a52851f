package service

import (
	"context"
	"time"

	"github.com/relayforge/relayforge/hook"
)

// RunCascadeReaper terminally fails every Waiting or Pending attempt of
// every disabled or deleted subscription, and is safe to re-run: rows
// already terminal are left untouched by the store's FailCascading, so a
// second pass over the same subscriptions changes nothing. Returns the
// number of attempts it failed.
func RunCascadeReaper(ctx context.Context, store hook.Store, now time.Time) (int, error) {
	subs, err := store.ListCascading(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, sub := range subs {
		kind := hook.ErrSubscriptionDisabled
		if sub.DeletedAt != nil {
			kind = hook.ErrSubscriptionDeleted
		}
		n, err := store.FailCascading(ctx, sub.ID, kind, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// SweepStuckClaims resets picked_at/worker_name on every Pending attempt
// claimed more than grace ago, recovering attempts orphaned by a worker
// that crashed or was killed before completing its delivery.
func SweepStuckClaims(ctx context.Context, store hook.Store, grace time.Duration, now time.Time) (int, error) {
	return store.SweepStuck(ctx, now.Add(-grace))
}
