package session

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chronoflow/timetracker/internal/api"
	appctx "github.com/chronoflow/timetracker/internal/context"
	"github.com/chronoflow/timetracker/internal/metrics"
	"github.com/chronoflow/timetracker/internal/repository"
)

// LocationView is the optional coarse location attached to a session.
type LocationView struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// SessionView is the client-facing session representation.
type SessionView struct {
	ID           uuid.UUID     `json:"id"`
	IPAddress    string        `json:"ipAddress"`
	UserAgent    string        `json:"userAgent"`
	LoginTime    time.Time     `json:"loginTime"`
	LastActivity time.Time     `json:"lastActivity"`
	IsCurrent    bool          `json:"isCurrent"`
	Location     *LocationView `json:"location,omitempty"`
}

// CreateSessionRequest is the session-creation payload. All fields are
// optional; request metadata (IP, user agent) comes from the transport.
type CreateSessionRequest struct {
	Location *LocationView `json:"location,omitempty"`
}

// Handler exposes the session lifecycle over HTTP.
type Handler struct {
	lifecycle *LifecycleManager
	logger    *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(lifecycle *LifecycleManager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

func newView(s *repository.Session, isCurrent bool) SessionView {
	view := SessionView{
		ID:           s.ID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		LoginTime:    s.LoginTime,
		LastActivity: s.LastActivity,
		IsCurrent:    isCurrent,
	}
	if s.City != nil || s.Country != nil {
		loc := &LocationView{}
		if s.City != nil {
			loc.City = *s.City
		}
		if s.Country != nil {
			loc.Country = *s.Country
		}
		view.Location = loc
	}
	return view
}

// callerMatches enforces that the caller acts only on its own resources.
func callerMatches(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
		return "", false
	}
	if pathID := chi.URLParam(r, "userID"); pathID != callerID {
		api.WriteError(w, http.StatusForbidden, api.CodeUnauthorizedAccess, "Cannot act on another user's sessions")
		return "", false
	}
	return callerID, true
}

// Create handles session creation
// POST /users/{userID}/sessions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerMatches(w, r)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Invalid request body")
		return
	}

	in := CreateSessionInput{
		UserID:    userID,
		IPAddress: api.GetClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if req.Location != nil {
		in.City = &req.Location.City
		in.Country = &req.Location.Country
	}

	created, err := h.lifecycle.CreateSession(r.Context(), in)
	if err != nil {
		h.logger.Error("session creation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not create session")
		return
	}

	metrics.SessionsCreatedTotal.Inc()
	api.WriteSuccess(w, http.StatusCreated, newView(created, true))
}

// List handles session listing, most-recent-and-current first
// GET /users/{userID}/sessions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerMatches(w, r)
	if !ok {
		return
	}

	sessions, err := h.lifecycle.ListValidSessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("session listing failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not list sessions")
		return
	}

	current, _ := IdentifyCurrent(sessions, r.UserAgent(), api.GetClientIP(r))

	// Store order is most-recent first; the current session moves to the top.
	views := make([]SessionView, 0, len(sessions))
	if current != nil {
		views = append(views, newView(current, true))
	}
	for _, s := range sessions {
		if current != nil && s.ID == current.ID {
			continue
		}
		views = append(views, newView(s, false))
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"sessions": views,
	})
}

// Terminate handles explicit session termination. The session identified as
// the caller's current one is refused, protecting the caller from locking
// itself out.
// DELETE /users/{userID}/sessions/{sessionID}
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerMatches(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
		return
	}

	target, err := h.lifecycle.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not load session")
		return
	}

	// Inactive or expired sessions read as absent to the caller.
	if target.UserID != userID || !target.IsValid(time.Now().UTC()) {
		api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
		return
	}

	current, found, err := h.lifecycle.CurrentSession(r.Context(), userID, r.UserAgent(), api.GetClientIP(r))
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not resolve current session")
		return
	}
	if found && current.ID == sessionID {
		api.WriteError(w, http.StatusBadRequest, api.CodeCannotTerminateCurrent,
			"Cannot terminate the session serving this request")
		return
	}

	if err := h.lifecycle.TerminateSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not terminate session")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"sessionId": sessionID.String(),
	})
}

// Heartbeat advances a session's last-activity time
// POST /users/{userID}/sessions/{sessionID}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerMatches(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
		return
	}

	target, err := h.lifecycle.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not load session")
		return
	}
	if target.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
		return
	}

	if err := h.lifecycle.Heartbeat(r.Context(), sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not record heartbeat")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"sessionId": sessionID.String(),
	})
}

// Logout deletes the caller's current session. Idempotent: it returns 200
// even when no session matches the request's metadata.
// POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
		return
	}

	data := map[string]string{"message": "Logged out"}

	current, found, err := h.lifecycle.CurrentSession(r.Context(), userID, r.UserAgent(), api.GetClientIP(r))
	if err == nil && found {
		if err := h.lifecycle.TerminateSession(r.Context(), current.ID); err != nil {
			h.logger.Warn("failed to delete session at logout",
				slog.String("session_id", current.ID.String()),
				slog.String("error", err.Error()))
		} else {
			data["sessionId"] = current.ID.String()
		}
	}

	// Opportunistic housekeeping; never blocks the logout.
	h.lifecycle.CleanupExpiredSessions(r.Context(), userID)

	api.WriteSuccess(w, http.StatusOK, data)
}
