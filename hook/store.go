package hook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ApplicationStore persists Application rows.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)
}

// SubscriptionStore persists Subscription rows and the queries the fan-out
// trigger and claim loop run against them.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// ListActiveForApplication returns every enabled, non-deleted
	// subscription owned by applicationID, for the fan-out trigger to
	// test against an incoming event.
	ListActiveForApplication(ctx context.Context, applicationID uuid.UUID) ([]*Subscription, error)

	// Disable and Delete are the two cascade-triggering transitions: the
	// cascade reaper watches for subscriptions whose IsEnabled flips to
	// false or whose DeletedAt becomes non-nil.
	DisableSubscription(ctx context.Context, id uuid.UUID) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	// ListCascading returns subscriptions that are disabled or deleted
	// and may still own non-terminal request attempts, for the reaper to
	// sweep. Idempotent to call repeatedly.
	ListCascading(ctx context.Context) ([]*Subscription, error)
}

// EventStore persists Event rows.
type EventStore interface {
	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkEventDispatched(ctx context.Context, id uuid.UUID, dispatchedAt time.Time) error
}

// RequestAttemptStore persists RequestAttempt rows and implements the
// worker's claim/completion/sweep queries.
type RequestAttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *RequestAttempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*RequestAttempt, error)

	// ClaimBatch atomically selects up to limit claimable attempts
	// claimable by workerName and stamps picked_at/worker_name on them,
	// using row-level locking with skip-locked semantics so concurrent
	// workers never block on each other. Returns the now-claimed rows.
	ClaimBatch(ctx context.Context, workerName string, limit int, now time.Time) ([]*RequestAttempt, error)

	// CompleteSuccess marks attemptID Succeeded and attaches responseID.
	CompleteSuccess(ctx context.Context, attemptID uuid.UUID, responseID uuid.UUID, now time.Time) error

	// CompleteFailure marks attemptID Failed and attaches responseID. If
	// retryable is true and nextAttempt is non-nil, nextAttempt is
	// inserted in the same atomic unit as the new Waiting row per the
	// new-row retry pattern.
	CompleteFailure(ctx context.Context, attemptID uuid.UUID, responseID uuid.UUID, retryable bool, nextAttempt *RequestAttempt, now time.Time) error

	// FailCascading terminally fails every Waiting or Pending attempt
	// belonging to subscriptionID with kind, idempotently (rows already
	// terminal are left untouched).
	FailCascading(ctx context.Context, subscriptionID uuid.UUID, kind ErrorKind, now time.Time) (int, error)

	// SweepStuck resets picked_at/worker_name to NULL on every Pending
	// attempt whose picked_at is older than olderThan, recovering
	// attempts orphaned by a crashed worker.
	SweepStuck(ctx context.Context, olderThan time.Time) (int, error)
}

// ResponseStore persists Response rows.
type ResponseStore interface {
	CreateResponse(ctx context.Context, response *Response) error
	GetResponse(ctx context.Context, id uuid.UUID) (*Response, error)
}

// Store aggregates every persistence operation the hook domain needs.
// WithTx runs fn against a Store bound to a single database transaction;
// the fan-out trigger uses it to keep event insertion and attempt
// creation in the same atomic unit, per the fan-out contract.
type Store interface {
	ApplicationStore
	SubscriptionStore
	EventStore
	RequestAttemptStore
	ResponseStore

	WithTx(ctx context.Context, fn func(tx Store) error) error
}
