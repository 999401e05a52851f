package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/fake"
)

func newTestApp(t *testing.T, store hook.Store) uuid.UUID {
	t.Helper()
	appID := uuid.New()
	if err := store.CreateApplication(context.Background(), &hook.Application{ID: appID, Name: "acme", OrgID: uuid.New()}); err != nil {
		t.Fatalf("CreateApplication() error = %v", err)
	}
	return appID
}

func newTestSubscription(t *testing.T, store hook.Store, appID uuid.UUID, eventTypes map[string]bool, labels map[string]string) *hook.Subscription {
	t.Helper()
	sub := &hook.Subscription{
		ID:            uuid.New(),
		ApplicationID: appID,
		IsEnabled:     true,
		Secret:        "sekret",
		EventTypes:    eventTypes,
		Labels:        labels,
		Target:        hook.TargetHTTP{ID: uuid.New(), Method: "POST", URL: "https://hooks.example.com/p"},
		CreatedAt:     time.Now(),
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	return sub
}

// TestIngestEventSingleMatch checks that one subscription matching both
// the event-type gate and its label selector produces exactly one attempt.
func TestIngestEventSingleMatch(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)
	newTestSubscription(t, store, appID,
		map[string]bool{"billing.invoice.paid": true},
		map[string]string{"tier": "pro"},
	)

	event := &hook.Event{
		ID:            uuid.New(),
		ApplicationID: appID,
		EventTypeName: "billing.invoice.paid",
		Payload:       []byte(`{}`),
		ReceivedAt:    time.Now(),
		Labels:        map[string]string{"tier": "pro", "region": "eu"},
	}

	attempts, err := IngestEvent(context.Background(), store, event)
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("IngestEvent() created %d attempts, want 1", len(attempts))
	}

	got, err := store.GetEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if got.DispatchedAt == nil {
		t.Error("expected DispatchedAt to be set after fan-out")
	}
}

// TestIngestEventNoMatch checks that a selector mismatch produces zero
// attempts, but the event is still marked dispatched.
func TestIngestEventNoMatch(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)
	newTestSubscription(t, store, appID, nil, map[string]string{"tier": "free"})

	event := &hook.Event{
		ID:            uuid.New(),
		ApplicationID: appID,
		EventTypeName: "billing.invoice.paid",
		ReceivedAt:    time.Now(),
		Labels:        map[string]string{"tier": "pro"},
	}

	attempts, err := IngestEvent(context.Background(), store, event)
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("IngestEvent() created %d attempts, want 0", len(attempts))
	}

	got, err := store.GetEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if got.DispatchedAt == nil {
		t.Error("expected DispatchedAt to be set even with zero matches")
	}
}

// TestIngestEventLegacySingleSelector exercises the single-pair legacy
// selector form alongside the multi-pair form.
func TestIngestEventLegacySingleSelector(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)
	key, value := "tier", "pro"
	sub := &hook.Subscription{
		ID:            uuid.New(),
		ApplicationID: appID,
		IsEnabled:     true,
		Secret:        "sekret",
		LabelKey:      &key,
		LabelValue:    &value,
		Target:        hook.TargetHTTP{ID: uuid.New(), Method: "POST", URL: "https://hooks.example.com/p"},
		CreatedAt:     time.Now(),
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}

	event := &hook.Event{
		ID:            uuid.New(),
		ApplicationID: appID,
		EventTypeName: "billing.invoice.paid",
		ReceivedAt:    time.Now(),
		Labels:        map[string]string{"tier": "pro"},
	}

	attempts, err := IngestEvent(context.Background(), store, event)
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("IngestEvent() created %d attempts, want 1", len(attempts))
	}
}

// TestIngestEventDisabledSubscriptionNeverMatches covers the edge case
// that a disabled or deleted subscription never receives fan-out
// attempts, regardless of its selector.
func TestIngestEventDisabledSubscriptionNeverMatches(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)
	sub := newTestSubscription(t, store, appID, nil, nil)
	if err := store.DisableSubscription(context.Background(), sub.ID); err != nil {
		t.Fatalf("DisableSubscription() error = %v", err)
	}

	event := &hook.Event{
		ID:            uuid.New(),
		ApplicationID: appID,
		EventTypeName: "billing.invoice.paid",
		ReceivedAt:    time.Now(),
	}

	attempts, err := IngestEvent(context.Background(), store, event)
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("IngestEvent() created %d attempts for a disabled subscription, want 0", len(attempts))
	}
}

// TestIngestEventIdempotentOnDuplicateID covers the round-trip law: an
// event re-ingested under the same identifier is a no-op.
func TestIngestEventIdempotentOnDuplicateID(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)
	newTestSubscription(t, store, appID, nil, nil)

	eventID := uuid.New()
	event := &hook.Event{ID: eventID, ApplicationID: appID, EventTypeName: "billing.invoice.paid", ReceivedAt: time.Now()}

	first, err := IngestEvent(context.Background(), store, event)
	if err != nil {
		t.Fatalf("first IngestEvent() error = %v", err)
	}

	second, err := IngestEvent(context.Background(), store, event)
	if err != nil {
		t.Fatalf("second IngestEvent() error = %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("re-ingesting the same event ID created %d extra attempts, want 0", len(second))
	}
	if len(first) != 1 {
		t.Fatalf("first IngestEvent() created %d attempts, want 1", len(first))
	}
}

// TestIngestEventTooManyLabelsRejected covers the 50-vs-51 boundary: an
// event with 51 label entries is rejected outright, not truncated.
func TestIngestEventTooManyLabelsRejected(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)

	labels := make(map[string]string, 51)
	for i := 0; i < 51; i++ {
		labels[uuid.New().String()] = "v"
	}

	event := &hook.Event{ID: uuid.New(), ApplicationID: appID, EventTypeName: "billing.invoice.paid", ReceivedAt: time.Now(), Labels: labels}

	_, err := IngestEvent(context.Background(), store, event)
	if err != hook.ErrTooManyLabels {
		t.Fatalf("IngestEvent() error = %v, want ErrTooManyLabels", err)
	}
}

// TestIngestEventPayloadSizeBoundary covers the payload cap: a payload at
// exactly the maximum is accepted, one byte over is rejected.
func TestIngestEventPayloadSizeBoundary(t *testing.T) {
	store := fake.NewStore()
	appID := newTestApp(t, store)
	newTestSubscription(t, store, appID, nil, nil)

	atMax := &hook.Event{
		ID:            uuid.New(),
		ApplicationID: appID,
		EventTypeName: "billing.invoice.paid",
		Payload:       make([]byte, hook.MaxPayloadBytes),
		ReceivedAt:    time.Now(),
	}
	if _, err := IngestEvent(context.Background(), store, atMax); err != nil {
		t.Fatalf("IngestEvent() at max payload size error = %v, want nil", err)
	}

	overMax := &hook.Event{
		ID:            uuid.New(),
		ApplicationID: appID,
		EventTypeName: "billing.invoice.paid",
		Payload:       make([]byte, hook.MaxPayloadBytes+1),
		ReceivedAt:    time.Now(),
	}
	if _, err := IngestEvent(context.Background(), store, overMax); err != hook.ErrPayloadTooLarge {
		t.Fatalf("IngestEvent() over max payload size error = %v, want ErrPayloadTooLarge", err)
	}
}
