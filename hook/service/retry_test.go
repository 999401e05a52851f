package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/fake"
)

var testSchedule = []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute, time.Hour, 6 * time.Hour}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status         int
		wantClass      Classification
		wantKindIsHTTP bool
	}{
		{200, Success, false},
		{201, Success, false},
		{299, Success, false},
		{300, TerminalFailure, true},
		{404, TerminalFailure, true},
		{408, RetryableFailure, true},
		{425, RetryableFailure, true},
		{429, RetryableFailure, true},
		{500, RetryableFailure, true},
		{503, RetryableFailure, true},
	}
	for _, tt := range tests {
		class, kind := ClassifyHTTPStatus(tt.status)
		if class != tt.wantClass {
			t.Errorf("ClassifyHTTPStatus(%d) class = %v, want %v", tt.status, class, tt.wantClass)
		}
		if tt.wantKindIsHTTP && kind != hook.ErrHTTP {
			t.Errorf("ClassifyHTTPStatus(%d) kind = %v, want E_HTTP", tt.status, kind)
		}
	}
}

func TestNextRetryIncrementsAndDelays(t *testing.T) {
	now := time.Now()
	prev := &hook.RequestAttempt{ID: uuid.New(), EventID: uuid.New(), SubscriptionID: uuid.New(), RetryCount: 0}

	next := NextRetry(prev, testSchedule, now)
	if next == nil {
		t.Fatal("NextRetry() = nil, want a new attempt")
	}
	if next.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", next.RetryCount)
	}
	if next.DelayUntil == nil || next.DelayUntil.Before(now.Add(testSchedule[0])) {
		t.Errorf("DelayUntil = %v, want >= %v", next.DelayUntil, now.Add(testSchedule[0]))
	}
	if next.PickedAt != nil || next.FailedAt != nil || next.SucceededAt != nil {
		t.Error("NextRetry() must leave every timestamp but CreatedAt/DelayUntil null")
	}
}

// TestNextRetryExhaustsSchedule covers the boundary: retry count equal to
// the schedule length produces a terminal (nil) result.
func TestNextRetryExhaustsSchedule(t *testing.T) {
	prev := &hook.RequestAttempt{ID: uuid.New(), RetryCount: int16(len(testSchedule))}
	if next := NextRetry(prev, testSchedule, time.Now()); next != nil {
		t.Errorf("NextRetry() at exhausted schedule = %+v, want nil", next)
	}
}

// TestCompleteDeliverySuccessTransition covers a successful delivery.
func TestCompleteDeliverySuccessTransition(t *testing.T) {
	store := fake.NewStore()
	ctx := context.Background()
	appID := uuid.New()
	_ = store.CreateApplication(ctx, &hook.Application{ID: appID, OrgID: uuid.New()})

	attempt := &hook.RequestAttempt{ID: uuid.New(), EventID: uuid.New(), SubscriptionID: uuid.New(), CreatedAt: time.Now()}
	_ = store.CreateAttempt(ctx, attempt)

	status := int16(200)
	response := &hook.Response{ID: uuid.New(), HTTPCode: &status}

	if err := CompleteDelivery(ctx, store, attempt, response, Success, testSchedule, time.Now()); err != nil {
		t.Fatalf("CompleteDelivery() error = %v", err)
	}

	got, err := store.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.State() != hook.Succeeded {
		t.Errorf("attempt state = %v, want Succeeded", got.State())
	}
}

// TestCompleteDeliveryRetryableInsertsNextRow covers the retry path: a retryable
// failure fails the current row and inserts a new Waiting row with an
// incremented retry count and a delay at or after the failure time plus
// the schedule's first entry.
func TestCompleteDeliveryRetryableInsertsNextRow(t *testing.T) {
	store := fake.NewStore()
	ctx := context.Background()

	sub := &hook.Subscription{ID: uuid.New(), IsEnabled: true}
	_ = store.CreateSubscription(ctx, sub)

	attempt := &hook.RequestAttempt{ID: uuid.New(), EventID: uuid.New(), SubscriptionID: sub.ID, CreatedAt: time.Now()}
	_ = store.CreateAttempt(ctx, attempt)

	status := int16(503)
	response := &hook.Response{ID: uuid.New(), HTTPCode: &status}
	now := time.Now()

	if err := CompleteDelivery(ctx, store, attempt, response, RetryableFailure, testSchedule, now); err != nil {
		t.Fatalf("CompleteDelivery() error = %v", err)
	}

	failedRow, err := store.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("GetAttempt(first) error = %v", err)
	}
	if failedRow.State() != hook.Failed {
		t.Errorf("first attempt state = %v, want Failed", failedRow.State())
	}
	if failedRow.ResponseID == nil || *failedRow.ResponseID != response.ID {
		t.Error("first attempt must have the response attached")
	}

	// The successor row CompleteDelivery inserted becomes claimable once its
	// delay elapses: same event/subscription, retry_count+1, delay >= now
	// plus the schedule's first entry.
	successors, err := store.ClaimBatch(ctx, "worker-1", 10, now.Add(testSchedule[0]))
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(successors) != 1 {
		t.Fatalf("ClaimBatch() returned %d rows, want the 1 successor row", len(successors))
	}
	expectedNext := successors[0]
	if expectedNext.EventID != attempt.EventID || expectedNext.SubscriptionID != attempt.SubscriptionID {
		t.Error("successor must belong to the failed attempt's event and subscription")
	}
	if expectedNext.RetryCount != 1 {
		t.Errorf("successor RetryCount = %d, want 1", expectedNext.RetryCount)
	}
	if expectedNext.DelayUntil == nil {
		t.Fatal("successor DelayUntil = nil, want >= now + schedule[0]")
	}
	if expectedNext.DelayUntil.Before(failedRow.CreatedAt) {
		t.Error("successor DelayUntil must not precede the failed attempt's creation")
	}
	if expectedNext.DelayUntil.Before(now.Add(testSchedule[0])) {
		t.Errorf("successor DelayUntil = %v, want >= now + schedule[0]", expectedNext.DelayUntil)
	}
}

// TestCompleteDeliveryTerminalNoRetrySchedulesNothing covers a 404-style outcome: a
// terminal classification leaves no successor row.
func TestCompleteDeliveryTerminalNoRetrySchedulesNothing(t *testing.T) {
	store := fake.NewStore()
	ctx := context.Background()

	attempt := &hook.RequestAttempt{ID: uuid.New(), EventID: uuid.New(), SubscriptionID: uuid.New(), CreatedAt: time.Now()}
	_ = store.CreateAttempt(ctx, attempt)

	status := int16(404)
	response := &hook.Response{ID: uuid.New(), HTTPCode: &status}

	if err := CompleteDelivery(ctx, store, attempt, response, TerminalFailure, testSchedule, time.Now()); err != nil {
		t.Fatalf("CompleteDelivery() error = %v", err)
	}

	got, err := store.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.State() != hook.Failed {
		t.Errorf("attempt state = %v, want Failed", got.State())
	}
}
