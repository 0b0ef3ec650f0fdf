package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/faturas-core/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to the HTTP status of the ops surface.
func statusFor(kind string) int {
	switch kind {
	case domain.KindNotFound, domain.KindUnknownCard:
		return http.StatusNotFound
	case domain.KindValidation, domain.KindInvalidAmount, domain.KindInvalidRecurrence:
		return http.StatusBadRequest
	case domain.KindInvoiceNotOpen, domain.KindInvalidTransition, domain.KindStorageConflict:
		return http.StatusConflict
	case domain.KindAmountMismatch:
		return http.StatusUnprocessableEntity
	case domain.KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	var storage *domain.ErrStorage
	switch {
	case status == http.StatusInternalServerError && errors.As(err, &storage):
		logger.Error("storage failure", zap.String("op", storage.Op), zap.Error(err))
		writeError(w, status, kind, "storage unavailable")
	case status == http.StatusInternalServerError:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, status, kind, "internal server error")
	case status == http.StatusServiceUnavailable:
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, status, kind, err.Error())
	default:
		logger.Debug("request rejected", zap.String("kind", kind), zap.String("error", err.Error()))
		writeError(w, status, kind, err.Error())
	}
}
