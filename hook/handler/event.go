package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
	"github.com/relayforge/relayforge/hook/service"
	"github.com/relayforge/relayforge/log"
	"github.com/relayforge/relayforge/middleware"
	"github.com/relayforge/relayforge/telemetry"
	"github.com/relayforge/relayforge/validation"
)

// EventHandler exposes the event ingestion endpoint.
type EventHandler struct {
	store    hook.Store
	log      log.Logger
	metrics  telemetry.Metrics
	verifier middleware.IngestVerifier
}

// Option configures an EventHandler.
type Option func(*EventHandler)

// WithMetrics attaches a telemetry.Metrics sink; defaults to a no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(h *EventHandler) { h.metrics = m }
}

// WithVerifier makes RegisterRoutes guard the ingestion endpoint with
// middleware.IngestAuth(verifier). Without it, callers must place the
// auth middleware ahead of the route themselves.
func WithVerifier(verifier middleware.IngestVerifier) Option {
	return func(h *EventHandler) { h.verifier = verifier }
}

// NewEventHandler returns an EventHandler backed by store.
func NewEventHandler(store hook.Store, logger log.Logger, opts ...Option) *EventHandler {
	h := &EventHandler{store: store, log: logger, metrics: telemetry.NoopMetrics{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the ingestion endpoint on r, guarded by
// IngestAuth when a verifier was configured. Handlers read
// ApplicationID/IngestTokenID from the request context either way.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(gr chi.Router) {
		if h.verifier != nil {
			gr.Use(middleware.IngestAuth(h.verifier))
		}
		gr.Post("/event", h.handleIngestEvent)
	})
}

// IngestEventRequest is the body of POST /event. EventID is optional; a
// producer that supplies it gets idempotent retries keyed on that value.
type IngestEventRequest struct {
	EventID            *uuid.UUID        `json:"event_id,omitempty"`
	EventType          string            `json:"event_type"`
	Payload            json.RawMessage   `json:"payload"`
	PayloadContentType string            `json:"payload_content_type"`
	OccurredAt         time.Time         `json:"occurred_at"`
	Labels             map[string]string `json:"labels,omitempty"`
}

// IngestEventResponse reports the accepted event and the attempts fan-out
// created for it.
type IngestEventResponse struct {
	EventID    uuid.UUID   `json:"event_id"`
	AttemptIDs []uuid.UUID `json:"attempt_ids"`
}

func (h *EventHandler) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := middleware.ApplicationID(r.Context())
	if !ok {
		h.rejected(r, "unauthorized")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing ingestion credentials")
		return
	}
	tokenID, _ := middleware.IngestTokenID(r.Context())

	// Bound the request body a little above the payload cap so the
	// payload-size check below produces the precise error, not a socket
	// read failure.
	r.Body = http.MaxBytesReader(w, r.Body, hook.MaxPayloadBytes+64*1024)

	var req IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rejected(r, "invalid_body")
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	if verrs := validateIngestEventRequest(req); verrs.HasErrors() {
		h.rejected(r, "validation")
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", verrs.Error())
		return
	}

	if err := hook.ValidateEventTypeName(req.EventType); err != nil {
		h.rejected(r, "event_type")
		handleServiceError(w, err)
		return
	}

	eventID := uuid.New()
	if req.EventID != nil {
		eventID = *req.EventID
	}

	contentType := req.PayloadContentType
	if contentType == "" {
		contentType = "application/json"
	}

	event := &hook.Event{
		ID:                 eventID,
		ApplicationID:      applicationID,
		EventTypeName:      req.EventType,
		Payload:            []byte(req.Payload),
		PayloadContentType: contentType,
		OccurredAt:         req.OccurredAt,
		ReceivedAt:         time.Now(),
		Labels:             req.Labels,
		IngestingTokenID:   tokenID,
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = event.ReceivedAt
	}

	attempts, err := service.IngestEvent(r.Context(), h.store, event)
	if err != nil {
		h.rejected(r, "service")
		h.log.Error("ingest event failed", "event_id", event.ID, "error", err)
		handleServiceError(w, err)
		return
	}

	h.metrics.Counter(r.Context(), "events_accepted", 1, nil)
	h.metrics.Counter(r.Context(), "attempts_fanned_out", float64(len(attempts)), nil)

	attemptIDs := make([]uuid.UUID, len(attempts))
	for i, a := range attempts {
		attemptIDs[i] = a.ID
	}

	writeJSON(w, http.StatusAccepted, IngestEventResponse{EventID: event.ID, AttemptIDs: attemptIDs})
}

func (h *EventHandler) rejected(r *http.Request, reason string) {
	h.metrics.Counter(r.Context(), "events_rejected", 1, map[string]string{"reason": reason})
}

// validateIngestEventRequest checks the shape of the request body, ahead
// of hook.ValidateEventTypeName and the service-layer domain rules.
func validateIngestEventRequest(req IngestEventRequest) validation.ValidationErrors {
	var errs validation.ValidationErrors
	if err := validation.RequiredString("event_type", req.EventType); err.Field != "" {
		errs.AddError(err)
	}
	if len(req.Payload) == 0 {
		errs.Add("payload", "is required")
	}
	if len(req.Payload) > hook.MaxPayloadBytes {
		errs.Add("payload", fmt.Sprintf("must be at most %d bytes", hook.MaxPayloadBytes))
	}
	if len(req.Labels) > hook.MaxLabelEntries {
		errs.Add("labels", fmt.Sprintf("must have at most %d entries", hook.MaxLabelEntries))
	}
	return errs
}
