package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
)

// Classification is the outcome of one delivery, before it is applied to
// the attempt's state.
type Classification int

const (
	Success Classification = iota
	RetryableFailure
	TerminalFailure
)

// ClassifyHTTPStatus implements the status-code table of the delivery
// outcome classification: 2xx succeeds, 408/425/429/5xx retry, every
// other non-2xx is a terminal failure.
func ClassifyHTTPStatus(status int) (Classification, hook.ErrorKind) {
	if status >= 200 && status < 300 {
		return Success, ""
	}
	if status == 408 || status == 425 || status == 429 || status >= 500 {
		return RetryableFailure, hook.ErrHTTP
	}
	return TerminalFailure, hook.ErrHTTP
}

// NextRetry builds the replacement RequestAttempt row for a retryable
// failure of prev, per the new-row retry pattern: retry_count increments,
// delay_until is now plus the schedule entry at the previous retry count,
// and every other timestamp starts null. Returns nil once prev has
// exhausted the schedule, signaling a terminal failure instead.
func NextRetry(prev *hook.RequestAttempt, schedule []time.Duration, now time.Time) *hook.RequestAttempt {
	if int(prev.RetryCount) >= len(schedule) {
		return nil
	}
	delayUntil := now.Add(schedule[prev.RetryCount])
	return &hook.RequestAttempt{
		ID:             uuid.New(),
		EventID:        prev.EventID,
		SubscriptionID: prev.SubscriptionID,
		CreatedAt:      now,
		DelayUntil:     &delayUntil,
		RetryCount:     prev.RetryCount + 1,
	}
}

// CompleteDelivery records response and applies classification to
// attempt: a success row is marked Succeeded, a retryable failure inserts
// the next attempt in the same call as it fails the current one, and a
// terminal failure (whether classified terminal, or retryable but out of
// schedule) leaves no successor.
func CompleteDelivery(ctx context.Context, store hook.Store, attempt *hook.RequestAttempt, response *hook.Response, classification Classification, schedule []time.Duration, now time.Time) error {
	if err := store.CreateResponse(ctx, response); err != nil {
		return fmt.Errorf("create response: %w", err)
	}

	if classification == Success {
		return store.CompleteSuccess(ctx, attempt.ID, response.ID, now)
	}

	var next *hook.RequestAttempt
	retryable := classification == RetryableFailure
	if retryable {
		next = NextRetry(attempt, schedule, now)
		retryable = next != nil
	}
	return store.CompleteFailure(ctx, attempt.ID, response.ID, retryable, next, now)
}
