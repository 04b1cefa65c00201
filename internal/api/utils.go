package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hong710/nexhub/internal/ipam"
	"github.com/hong710/nexhub/internal/log"
	"github.com/hong710/nexhub/internal/reconcile"
	"github.com/hong710/nexhub/internal/repository"
)

// ErrorResponse is the JSON body for every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDomainError maps engine and validation errors to HTTP statuses.
// The message always names the violated input or invariant.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ipam.ErrInvalidNetwork),
		errors.Is(err, ipam.ErrInvalidRange),
		errors.Is(err, ipam.ErrOverlappingRanges),
		errors.Is(err, repository.ErrInvalidEntity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ipam.ErrAmbiguousSubnet):
		// Configuration error, not a malformed request
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reconcile.ErrInvalidFieldState),
		errors.Is(err, reconcile.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, reconcile.ErrAddressQuarantined),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, reconcile.ErrConflictRetryExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
