package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relayforge/relayforge/hook"
)

// ErrorResponse is the JSON body written for every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hook.ErrApplicationNotFound):
		writeError(w, http.StatusNotFound, "APPLICATION_NOT_FOUND", err.Error())
	case errors.Is(err, hook.ErrEventAlreadyExists):
		writeError(w, http.StatusConflict, "EVENT_ALREADY_EXISTS", err.Error())
	case errors.Is(err, hook.ErrInvalidEventType):
		writeError(w, http.StatusBadRequest, "INVALID_EVENT_TYPE", err.Error())
	case errors.Is(err, hook.ErrTooManyLabels):
		writeError(w, http.StatusBadRequest, "TOO_MANY_LABELS", err.Error())
	case errors.Is(err, hook.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
