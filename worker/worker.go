// Package worker hosts the delivery engine's runtime loops: a named
// worker claiming and dispatching request attempts under bounded
// concurrency, and a reaper sweeping cascaded and stuck claims. Both
// satisfy app.Startable/app.Stoppable so cmd/worker can wire them through
// the same lifecycle the ingest service uses for its HTTP components.
package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/crypto"
	"github.com/relayforge/relayforge/deliveryclient"
	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/service"
	"github.com/relayforge/relayforge/log"
	"github.com/relayforge/relayforge/target"
	"github.com/relayforge/relayforge/telemetry"
)

// Worker claims due RequestAttempts and delivers them under a bounded
// pool of concurrent in-flight deliveries.
type Worker struct {
	name           string
	store          hook.Store
	client         *deliveryclient.Client
	schedule       []time.Duration
	concurrency    int
	claimBatchSize int
	pollInterval   time.Duration
	requestTimeout time.Duration
	log            log.Logger
	metrics        telemetry.Metrics

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics attaches a telemetry.Metrics sink; defaults to a no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New returns a Worker named name, claiming up to claimBatchSize attempts
// at a time and running up to concurrency deliveries simultaneously.
func New(name string, store hook.Store, client *deliveryclient.Client, schedule []time.Duration,
	concurrency, claimBatchSize int, pollInterval, requestTimeout time.Duration, logger log.Logger, opts ...Option) *Worker {
	w := &Worker{
		name:           name,
		store:          store,
		client:         client,
		schedule:       schedule,
		concurrency:    concurrency,
		claimBatchSize: claimBatchSize,
		pollInterval:   pollInterval,
		requestTimeout: requestTimeout,
		log:            logger,
		metrics:        telemetry.NoopMetrics{},
		sem:            make(chan struct{}, concurrency),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the claim loop in the background. It never blocks.
func (w *Worker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx)
	return nil
}

// Stop cancels the claim loop and waits for in-flight deliveries to
// finish their individual timeouts, up to ctx's deadline.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
			w.claimAndDispatch(ctx)
		}
	}
}

func (w *Worker) claimAndDispatch(ctx context.Context) {
	limit := w.claimBatchSize
	if available := cap(w.sem) - len(w.sem); available < limit {
		limit = available
	}
	if limit <= 0 {
		return
	}

	attempts, err := w.store.ClaimBatch(ctx, w.name, limit, time.Now())
	if err != nil {
		w.log.Error("claim batch failed", "worker", w.name, "error", err)
		return
	}
	if len(attempts) > 0 {
		w.metrics.Counter(ctx, "attempts_claimed", float64(len(attempts)), map[string]string{"worker": w.name})
	}

	for _, attempt := range attempts {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(a *hook.RequestAttempt) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			// Shutdown stops the claim loop only; a delivery already in
			// flight runs to its own timeout and still records its outcome.
			w.deliver(context.WithoutCancel(ctx), a)
		}(attempt)
	}
}

func (w *Worker) deliver(ctx context.Context, attempt *hook.RequestAttempt) {
	sub, err := w.store.GetSubscription(ctx, attempt.SubscriptionID)
	if err != nil {
		w.log.Error("load subscription failed", "attempt", attempt.ID, "error", err)
		return
	}
	event, err := w.store.GetEvent(ctx, attempt.EventID)
	if err != nil {
		w.log.Error("load event failed", "attempt", attempt.ID, "error", err)
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()

	ts := time.Now().Unix()
	signatureHeaders := []string{"x-event-id", "x-event-type", "x-hook0-delivery-attempt"}
	signatureValues := map[string]string{
		"x-event-id":               event.ID.String(),
		"x-event-type":             event.EventTypeName,
		"x-hook0-delivery-attempt": strconv.Itoa(int(attempt.RetryCount)),
	}
	signature := crypto.Sign(event.Payload, []byte(sub.Secret), ts, crypto.SignedHeaders{
		Names:  signatureHeaders,
		Values: signatureValues,
	})

	headers := make(map[string]string, len(sub.Target.Headers)+4)
	for name, value := range sub.Target.Headers {
		headers[name] = value
	}
	headers["X-Event-Id"] = signatureValues["x-event-id"]
	headers["X-Event-Type"] = signatureValues["x-event-type"]
	headers["X-Hook0-Delivery-Attempt"] = signatureValues["x-hook0-delivery-attempt"]
	headers["Signature"] = signature

	result, deliverErr := w.client.Deliver(deliverCtx, deliveryclient.Request{
		Method:  sub.Target.Method,
		URL:     sub.Target.URL,
		Headers: headers,
		Body:    event.Payload,
	})

	now := time.Now()
	response := &hook.Response{ID: uuid.New()}

	var classification service.Classification
	var kind hook.ErrorKind
	if deliverErr != nil {
		classification, kind = classifyDeliveryError(deliverCtx, deliverErr)
		response.ErrorKind = &kind
	} else {
		classification, kind = service.ClassifyHTTPStatus(result.StatusCode)
		code := int16(result.StatusCode)
		response.HTTPCode = &code
		response.Headers = result.Headers
		response.Body = result.Body
		response.ElapsedTimeMS = result.ElapsedTimeMS
		if classification != service.Success {
			response.ErrorKind = &kind
		}
	}

	if err := service.CompleteDelivery(ctx, w.store, attempt, response, classification, w.schedule, now); err != nil {
		w.log.Error("complete delivery failed", "attempt", attempt.ID, "error", err)
		return
	}

	switch classification {
	case service.Success:
		w.metrics.Counter(ctx, "attempts_succeeded", 1, map[string]string{"worker": w.name})
	case service.RetryableFailure:
		w.metrics.Counter(ctx, "attempts_retried", 1, map[string]string{"worker": w.name})
	default:
		w.metrics.Counter(ctx, "attempts_failed", 1, map[string]string{"worker": w.name})
	}
}

// classifyDeliveryError maps a transport-level failure to a
// classification and response_error kind: validator rejections are
// terminal, deadline/timeout errors and network-shaped failures are
// retryable, and anything unclassifiable is a terminal unknown.
func classifyDeliveryError(ctx context.Context, err error) (service.Classification, hook.ErrorKind) {
	if errors.Is(err, target.ErrInvalidTarget) {
		return service.TerminalFailure, hook.ErrInvalidTarget
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return service.RetryableFailure, hook.ErrTimeout
	}

	// url.Error reports Timeout for whatever it wraps, so unwrap it
	// first: only a genuinely network-shaped inner error may classify as
	// a connection failure.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return service.RetryableFailure, hook.ErrTimeout
		}
		return service.RetryableFailure, hook.ErrConnection
	}
	// A peer closing the connection mid-response surfaces as a bare EOF.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return service.RetryableFailure, hook.ErrConnection
	}
	return service.TerminalFailure, hook.ErrUnknown
}
