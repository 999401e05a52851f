package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/pubsub"
)

// CascadeTopic is the pubsub topic a subscription disable/delete is
// broadcast on, so a worker's reaper can react immediately instead of
// waiting for its next poll tick. The DB-poll path remains the
// correctness backstop: a worker that never receives (or never
// subscribes to) this topic still converges on its own schedule.
const CascadeTopic = "hook.subscription.cascade"

// PublishCascadeTrigger broadcasts that subscriptionID has just been
// disabled or deleted. Errors are transport-level only; callers should
// log and continue rather than fail the triggering operation, since the
// reaper's poll loop guarantees eventual cleanup regardless.
func PublishCascadeTrigger(ctx context.Context, pub pubsub.Publisher, subscriptionID uuid.UUID) error {
	env := pubsub.NewEnvelope(CascadeTopic, subscriptionID.String())
	return pub.Publish(ctx, CascadeTopic, env)
}
