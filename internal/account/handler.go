package account

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chronoflow/timetracker/internal/api"
	appctx "github.com/chronoflow/timetracker/internal/context"
	"github.com/chronoflow/timetracker/internal/repository"
)

// SecuritySettingsView is the client-facing settings representation.
type SecuritySettingsView struct {
	SessionTimeoutMinutes      int  `json:"sessionTimeout"`
	AllowMultipleSessions      bool `json:"allowMultipleSessions"`
	MaxFailedAttempts          int  `json:"maxFailedAttempts"`
	LockoutDurationMinutes     int  `json:"lockoutDuration"`
	RequirePasswordChangeEvery int  `json:"requirePasswordChangeEvery"`
}

// Handler exposes security settings and password changes over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func newSettingsView(s *repository.UserSecuritySettings) SecuritySettingsView {
	return SecuritySettingsView{
		SessionTimeoutMinutes:      s.SessionTimeoutMinutes,
		AllowMultipleSessions:      s.AllowMultipleSessions,
		MaxFailedAttempts:          s.MaxFailedAttempts,
		LockoutDurationMinutes:     s.LockoutDurationMinutes,
		RequirePasswordChangeEvery: s.RequirePasswordChangeEvery,
	}
}

// callerMatches enforces that the caller acts only on its own account.
func callerMatches(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
		return "", false
	}
	if pathID := chi.URLParam(r, "userID"); pathID != callerID {
		api.WriteError(w, http.StatusForbidden, api.CodeUnauthorizedAccess, "Cannot act on another user's account")
		return "", false
	}
	return callerID, true
}

// UpdateSecuritySettings handles security-settings updates
// PUT /users/{userID}/security-settings
func (h *Handler) UpdateSecuritySettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerMatches(w, r)
	if !ok {
		return
	}

	var req UpdateSecuritySettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Invalid request body")
		return
	}

	updated, err := h.service.UpdateSecuritySettings(r.Context(), userID, req)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			api.WriteErrorDetails(w, http.StatusBadRequest, api.CodeValidationError,
				"Invalid security settings", validationDetails(verrs))
			return
		}
		h.logger.Error("security settings update failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not update settings")
		return
	}

	api.WriteSuccess(w, http.StatusOK, newSettingsView(updated))
}

// ChangePassword handles credential changes
// POST /users/{userID}/change-password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerMatches(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError,
			"Current and new password are required")
		return
	}

	err := h.service.ChangePassword(r.Context(), userID, req, r.UserAgent(), api.GetClientIP(r))
	switch {
	case err == nil:
		api.WriteSuccess(w, http.StatusOK, map[string]string{
			"message": "Password changed",
		})
	case errors.Is(err, ErrAccountLocked):
		api.WriteError(w, http.StatusLocked, api.CodeAccountLocked,
			"Account is temporarily locked")
	case errors.Is(err, ErrWeakPassword):
		api.WriteError(w, http.StatusBadRequest, api.CodeWeakPassword,
			"Password does not meet strength requirements")
	case errors.Is(err, ErrPasswordReused):
		api.WriteError(w, http.StatusBadRequest, api.CodePasswordReused,
			"Password was used recently")
	case errors.Is(err, ErrInvalidCurrentPassword):
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidCurrentPassword,
			"Current password is incorrect")
	default:
		h.logger.Error("password change failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "Could not change password")
	}
}

func validationDetails(verrs validator.ValidationErrors) map[string][]string {
	details := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = append(details[fe.Field()], fe.Tag())
	}
	return details
}

// RegisterRoutes mounts the account endpoints on r. rateLimit guards the
// change-password endpoint; pass nil to mount it unguarded.
func (h *Handler) RegisterRoutes(r chi.Router, rateLimit func(http.Handler) http.Handler) {
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Put("/security-settings", h.UpdateSecuritySettings)
		if rateLimit != nil {
			r.With(rateLimit).Post("/change-password", h.ChangePassword)
		} else {
			r.Post("/change-password", h.ChangePassword)
		}
	})
}
