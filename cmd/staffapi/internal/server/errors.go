package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/service"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

// writeError maps service errors to status codes and {detail} bodies.
// Unrecognised errors are logged and reported as 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrAccountDisabled):
		writeDetail(w, http.StatusForbidden, "Account disabled")
	case errors.Is(err, service.ErrInvalidOTP):
		writeDetail(w, http.StatusBadRequest, "Invalid or expired code")
	case errors.Is(err, service.ErrOTPLocked):
		writeDetail(w, http.StatusBadRequest, "Too many attempts. Please sign in again.")
	case errors.Is(err, service.ErrRoleNotAssigned):
		writeDetail(w, http.StatusForbidden, "Role not assigned to user")
	case errors.Is(err, service.ErrInvalidRefreshToken):
		writeDetail(w, http.StatusBadRequest, "Token is invalid or expired")
	default:
		logger.Error("request failed", "op", op, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}
