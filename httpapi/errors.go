package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/profile"
)

type errorBody struct {
	Error        string       `json:"error"`
	Message      string       `json:"message,omitempty"`
	ExistingRole profile.Role `json:"existing_role,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeEngineError maps engine sentinels onto statuses. Backend failures are
// logged; the client only sees the code.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *portalAuth.DuplicateAccountError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:        "duplicate_account",
			Message:      dup.Error(),
			ExistingRole: dup.Role,
		})
	case errors.Is(err, portalAuth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "")
	case errors.Is(err, portalAuth.ErrNoActiveUser):
		writeError(w, http.StatusUnauthorized, "no_active_user", "")
	case errors.Is(err, portalAuth.ErrSignInRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "")
	case errors.Is(err, portalAuth.ErrPasswordPolicy):
		writeError(w, http.StatusUnprocessableEntity, "password_policy", err.Error())
	case errors.Is(err, portalAuth.ErrInvalidRole), errors.Is(err, profile.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid_role", "")
	case errors.Is(err, portalAuth.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", "")
	case errors.Is(err, portalAuth.ErrEmailCheckUnavailable):
		s.logger.Error("email registry unavailable", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "email_check_unavailable", "")
	case errors.Is(err, portalAuth.ErrProfileUpdateFailed):
		s.logger.Error("profile update failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "profile_update_failed", "")
	case errors.Is(err, portalAuth.ErrEngineNotReady):
		writeError(w, http.StatusServiceUnavailable, "engine_not_ready", "")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "timeout", "")
	default:
		s.logger.Error("backend failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "backend_unavailable", "")
	}
}
