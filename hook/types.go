// Package hook holds the webhook delivery domain model: applications,
// event types, subscriptions, events, request attempts, and their
// responses, along with the store interfaces and sentinel errors every
// backend (postgres, fake) and layer above (service, handler) depend on.
package hook

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// eventTypeNamePattern matches service.resource.verb, each segment
// restricted to [A-Za-z0-9_]+.
var eventTypeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+\.[A-Za-z0-9_]+\.[A-Za-z0-9_]+$`)

// ValidateEventTypeName reports whether name has the canonical
// service.resource.verb shape.
func ValidateEventTypeName(name string) error {
	if !eventTypeNamePattern.MatchString(name) {
		return ErrInvalidEventType
	}
	return nil
}

// Application is the tenant unit. It owns event types, subscriptions, and
// events. Immutable after creation except for its descriptive fields.
type Application struct {
	ID        uuid.UUID
	Name      string
	OrgID     uuid.UUID
	CreatedAt time.Time
	DeletedAt *time.Time
}

// EventType is a dotted name of the form service.resource.verb, scoped to
// an application. The concatenated Name is the canonical key.
type EventType struct {
	Name          string
	ApplicationID uuid.UUID
}

// TargetHTTP is the only Target kind implemented today: an HTTP method,
// absolute URL, and static headers applied to every delivery.
type TargetHTTP struct {
	ID      uuid.UUID
	Method  string
	URL     string
	Headers map[string]string
}

// Subscription is a delivery rule: which event types it accepts, which
// labels an event must carry, where to deliver, and how to sign the
// request.
type Subscription struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	IsEnabled     bool
	Description   string
	Secret        string
	EventTypes    map[string]bool // empty = accept all
	LabelKey      *string         // legacy single-pair selector
	LabelValue    *string
	Labels        map[string]string // multi-pair selector; nil if unused
	WorkerNames   map[string]bool   // empty = claimable by any worker
	Target        TargetHTTP

	// RetrySchedule is a reserved per-subscription override of the
	// system-wide retry schedule. Unused by the retry policy today, which
	// always applies the system-wide schedule.
	RetrySchedule *[]time.Duration

	CreatedAt time.Time
	DeletedAt *time.Time
}

// HasLabelSelector reports whether sub has either form of selector
// configured; an unconfigured selector matches every event.
func (s *Subscription) HasLabelSelector() bool {
	return s.LabelKey != nil || s.Labels != nil
}

// MatchesLabels implements the two label-selector forms of the fan-out
// matcher. An empty/unconfigured selector matches every event.
func (s *Subscription) MatchesLabels(eventLabels map[string]string) bool {
	if s.LabelKey != nil && s.LabelValue != nil {
		return eventLabels[*s.LabelKey] == *s.LabelValue
	}
	for k, v := range s.Labels {
		if eventLabels[k] != v {
			return false
		}
	}
	return true
}

// AcceptsEventType reports whether sub's accepted-types set contains name,
// or is empty (accept-all).
func (s *Subscription) AcceptsEventType(name string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	return s.EventTypes[name]
}

// ClaimableBy reports whether workerName may claim attempts for sub: true
// when sub has no dedicated-worker bindings, or workerName is one of them.
func (s *Subscription) ClaimableBy(workerName string) bool {
	if len(s.WorkerNames) == 0 {
		return true
	}
	return s.WorkerNames[workerName]
}

// MaxLabelEntries is the inclusive cap on the number of entries an Event's
// Labels may carry. An event with more is rejected at ingestion, not
// truncated.
const MaxLabelEntries = 50

// MaxPayloadBytes is the inclusive cap on an Event's payload size. An
// event one byte over is rejected at ingestion.
const MaxPayloadBytes = 1 << 20

// Event is a single ingested message, immutable after insertion.
type Event struct {
	ID                 uuid.UUID
	ApplicationID      uuid.UUID
	EventTypeName      string
	Payload            []byte
	PayloadContentType string
	OccurredAt         time.Time
	ReceivedAt         time.Time
	DispatchedAt       *time.Time
	Labels             map[string]string
	IngestingTokenID   uuid.UUID
}

// AttemptState is the state of a RequestAttempt, derived from its
// timestamp tuple rather than stored directly.
type AttemptState int

const (
	Waiting AttemptState = iota
	Pending
	Succeeded
	Failed
)

func (s AttemptState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// RequestAttempt is one delivery attempt of one event to one subscription.
// Its State is always derivable from PickedAt/SucceededAt/FailedAt; no
// other field carries state.
type RequestAttempt struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	SubscriptionID uuid.UUID
	CreatedAt      time.Time
	PickedAt       *time.Time
	FailedAt       *time.Time
	SucceededAt    *time.Time
	DelayUntil     *time.Time
	ResponseID     *uuid.UUID
	RetryCount     int16
	WorkerName     *string
}

// State derives the attempt's state from its timestamp tuple, per the
// state machine of the delivery engine: Waiting until claimed, Pending
// while a worker holds it, and exactly one of Succeeded/Failed once a
// terminal timestamp is set.
func (a *RequestAttempt) State() AttemptState {
	if a.SucceededAt != nil {
		return Succeeded
	}
	if a.FailedAt != nil {
		return Failed
	}
	if a.PickedAt != nil {
		return Pending
	}
	return Waiting
}

// Claimable reports whether a is eligible for a worker's claim query: no
// terminal timestamp, not already picked, and its delay (if any) has
// elapsed as of now.
func (a *RequestAttempt) Claimable(now time.Time) bool {
	if a.PickedAt != nil || a.FailedAt != nil || a.SucceededAt != nil {
		return false
	}
	return a.DelayUntil == nil || !a.DelayUntil.After(now)
}

// ErrorKind is one of the fixed response_error enumeration values.
type ErrorKind string

const (
	ErrUnknown               ErrorKind = "E_UNKNOWN"
	ErrInvalidTarget         ErrorKind = "E_INVALID_TARGET"
	ErrConnection            ErrorKind = "E_CONNECTION"
	ErrTimeout               ErrorKind = "E_TIMEOUT"
	ErrHTTP                  ErrorKind = "E_HTTP"
	ErrSubscriptionDisabled  ErrorKind = "E_SUBSCRIPTION_DISABLED"
	ErrSubscriptionDeleted   ErrorKind = "E_SUBSCRIPTION_DELETED"
)

// Response is the outcome of one RequestAttempt. At most one Response
// exists per attempt.
type Response struct {
	ID            uuid.UUID
	ErrorKind     *ErrorKind
	HTTPCode      *int16
	Headers       map[string]string
	Body          []byte
	ElapsedTimeMS int32
}
