package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/browniz421/twinsync/internal/hub"
	"github.com/browniz421/twinsync/internal/twin"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodePreconditionFailed = "precondition_failed"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeBadGateway         = "delivery_failed"
	ErrCodeTooLarge           = "body_too_large"
)

// twinFailure is how a twin or hub error is reported to HTTP clients.
type twinFailure struct {
	target error
	status int
	code   string
}

// twinFailures is checked in order; the first matching target wins.
var twinFailures = []twinFailure{
	{twin.ErrTwinNotFound, http.StatusNotFound, ErrCodeNotFound},
	{twin.ErrInvalidDeviceID, http.StatusBadRequest, ErrCodeValidation},
	{twin.ErrInvalidPatch, http.StatusBadRequest, ErrCodeValidation},
	{twin.ErrVersionConflict, http.StatusConflict, ErrCodeConflict},
	{twin.ErrTwinExists, http.StatusConflict, ErrCodeConflict},
	{hub.ErrDeltaNotDelivered, http.StatusBadGateway, ErrCodeBadGateway},
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes an ErrorResponse.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Status: status, Code: code, Message: message})
}

// writeTwinError maps err onto an HTTP error reply. Unknown errors are
// logged and hidden behind a generic 500.
func (s *Server) writeTwinError(w http.ResponseWriter, err error) {
	for _, f := range twinFailures {
		if errors.Is(err, f.target) {
			writeError(w, f.status, f.code, err.Error())
			return
		}
	}
	s.logger.Error("twin operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}
