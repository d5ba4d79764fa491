package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/http/middleware"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
	maxBodyBytes     = 1 << 20
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	writeJSON(w, status, errorResponse{Error: string(kind), Message: message})
}

// respondError maps err to its HTTP status. Unclassified errors are logged and hidden.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		writeError(w, status, kind, "internal server error")
		return
	}
	writeError(w, status, kind, apperr.MessageOf(err))
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidArgument, apperr.KindInvalidState, apperr.KindInsufficientBalance,
		apperr.KindBalanceCheckFailed, apperr.KindAlreadyPaid, apperr.KindAddressInvalid:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into dst. An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.InvalidArgument("invalid json: %v", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperr.InvalidArgument("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// authorizeUser rejects requests about another user when the caller is authenticated.
// It returns the effective user id.
func authorizeUser(r *http.Request, requested string) (string, bool) {
	caller, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return requested, true
	}
	if requested == "" {
		return caller, true
	}
	return requested, requested == caller
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, apperr.KindAuthentication, "access to another user's data is not allowed")
}
