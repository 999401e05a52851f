// Package service holds the pure business logic of the delivery engine:
// fan-out on ingestion, delivery-outcome classification and retry
// scheduling, and cascade/stuck-claim recovery. Every function takes a
// hook.Store (or a transactional slice of one) as a parameter rather than
// holding its own reference, so callers choose the transaction scope.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
)

// IngestEvent inserts event and, in the same atomic unit, creates one
// RequestAttempt for every enabled subscription of event's application
// whose event-type gate and label selector both match. Re-ingesting an
// event whose ID already exists is a no-op: it returns no error and no
// new attempts, so a producer retrying after a transient ingestion
// failure never double-delivers.
func IngestEvent(ctx context.Context, store hook.Store, event *hook.Event) ([]*hook.RequestAttempt, error) {
	if len(event.Labels) > hook.MaxLabelEntries {
		return nil, hook.ErrTooManyLabels
	}
	if len(event.Payload) > hook.MaxPayloadBytes {
		return nil, hook.ErrPayloadTooLarge
	}

	var created []*hook.RequestAttempt
	err := store.WithTx(ctx, func(tx hook.Store) error {
		if err := tx.CreateEvent(ctx, event); err != nil {
			if err == hook.ErrEventAlreadyExists {
				return nil
			}
			return fmt.Errorf("create event: %w", err)
		}

		subs, err := tx.ListActiveForApplication(ctx, event.ApplicationID)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}

		for _, sub := range subs {
			if !sub.AcceptsEventType(event.EventTypeName) {
				continue
			}
			if !sub.MatchesLabels(event.Labels) {
				continue
			}
			attempt := &hook.RequestAttempt{
				ID:             uuid.New(),
				EventID:        event.ID,
				SubscriptionID: sub.ID,
				CreatedAt:      event.ReceivedAt,
			}
			if err := tx.CreateAttempt(ctx, attempt); err != nil {
				return fmt.Errorf("create attempt for subscription %s: %w", sub.ID, err)
			}
			created = append(created, attempt)
		}

		if err := tx.MarkEventDispatched(ctx, event.ID, event.ReceivedAt); err != nil {
			return fmt.Errorf("mark event dispatched: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
