// Package session implements the session lifecycle: validity computation,
// timeout enforcement, bulk invalidation, cleanup, and the current-session
// heuristic, plus the HTTP handlers that expose them.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chronoflow/timetracker/internal/repository"
)

// Invalidation reason tags recorded on soft-deleted sessions.
const (
	ReasonRollingTimeout = "rolling_timeout"
	ReasonSinglePolicy   = "single_session_policy"
	ReasonPasswordChange = "password_change"
	ReasonAdminAction    = "admin_action"
)

// orphanCeiling is the hard age limit on any session, independent of timeout
// settings. Bounds storage growth even for sessions that heartbeat forever.
const orphanCeiling = 30 * 24 * time.Hour

// Sweep deletion reasons returned by ShouldDeleteSession.
const (
	DeleteReasonExpired  = "expired"
	DeleteReasonInactive = "inactive"
	DeleteReasonOrphaned = "orphaned"
)

// ErrSessionNotFound mirrors the store error for callers of this package.
var ErrSessionNotFound = repository.ErrSessionNotFound

// ValidationResult summarizes a user's valid sessions.
type ValidationResult struct {
	HasActiveSessions bool
	SessionCount      int
}

// CreateSessionInput carries the request metadata recorded on a new session.
type CreateSessionInput struct {
	UserID       string
	IPAddress    string
	UserAgent    string
	City         *string
	Country      *string
	CredentialID *string
}

// LifecycleManager applies session business rules on top of the store
// adapter. Stateless beyond its injected dependencies.
type LifecycleManager struct {
	sessions repository.SessionRepository
	settings repository.SecuritySettingsRepository
	logger   *slog.Logger

	// absoluteLifetime sets expires_at on new sessions.
	absoluteLifetime time.Duration
	// batchSize and batchDelay throttle bulk deletes against store limits.
	batchSize  int
	batchDelay time.Duration
}

// NewLifecycleManager creates a new LifecycleManager instance. Zero or
// negative batch options fall back to defaults.
func NewLifecycleManager(
	sessions repository.SessionRepository,
	settings repository.SecuritySettingsRepository,
	absoluteLifetime time.Duration,
	batchSize int,
	batchDelay time.Duration,
	logger *slog.Logger,
) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	if absoluteLifetime <= 0 {
		absoluteLifetime = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	if batchDelay <= 0 {
		batchDelay = 200 * time.Millisecond
	}
	return &LifecycleManager{
		sessions:         sessions,
		settings:         settings,
		logger:           logger,
		absoluteLifetime: absoluteLifetime,
		batchSize:        batchSize,
		batchDelay:       batchDelay,
	}
}

// validSessions returns the user's sessions that pass both the store-level
// check (active, before the absolute deadline) and the rolling-timeout check.
// Sessions that fail only the rolling timeout are marked inactive
// asynchronously, best-effort; a failed mark never fails the read.
func (m *LifecycleManager) validSessions(ctx context.Context, userID string) ([]*repository.Session, error) {
	now := time.Now().UTC()
	sessions, err := m.sessions.GetActiveByUserID(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	var valid []*repository.Session
	for _, s := range sessions {
		if s.IsTimedOut(now) {
			go m.markTimedOut(s.ID)
			continue
		}
		valid = append(valid, s)
	}
	return valid, nil
}

// markTimedOut marks a session inactive from a housekeeping goroutine.
func (m *LifecycleManager) markTimedOut(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.sessions.MarkInactive(ctx, id, ReasonRollingTimeout); err != nil {
		m.logger.Warn("failed to mark timed-out session inactive",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()))
	}
}

// ValidateUserSessions reports whether the user holds any valid session.
// Read failures propagate; the authorization layer treats them as "no active
// sessions" and denies.
func (m *LifecycleManager) ValidateUserSessions(ctx context.Context, userID string) (ValidationResult, error) {
	valid, err := m.validSessions(ctx, userID)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		HasActiveSessions: len(valid) > 0,
		SessionCount:      len(valid),
	}, nil
}

// ListValidSessions returns the user's valid sessions, most recently active
// first (the store adapter orders by last_activity).
func (m *LifecycleManager) ListValidSessions(ctx context.Context, userID string) ([]*repository.Session, error) {
	return m.validSessions(ctx, userID)
}

// defaultSecuritySettings is the explicit fail-open fallback used when the
// settings store is unreachable during session creation. Deliberately
// permissive; every use is logged so the fallback stays auditable.
func defaultSecuritySettings(userID string) *repository.UserSecuritySettings {
	return &repository.UserSecuritySettings{
		UserID:                 userID,
		SessionTimeoutMinutes:  repository.DefaultSessionTimeoutMinutes,
		AllowMultipleSessions:  true,
		MaxFailedAttempts:      repository.DefaultMaxFailedAttempts,
		LockoutDurationMinutes: repository.DefaultLockoutDurationMinutes,
	}
}

// CreateSession persists a new session for the user. If the user's policy
// forbids multiple sessions, every other active session is invalidated first,
// best-effort: a failed invalidation is logged and does not block the create.
func (m *LifecycleManager) CreateSession(ctx context.Context, in CreateSessionInput) (*repository.Session, error) {
	settings, err := m.settings.GetOrCreate(ctx, in.UserID)
	if err != nil {
		m.logger.Error("security settings unreachable, using permissive defaults",
			slog.String("user_id", in.UserID),
			slog.String("error", err.Error()))
		settings = defaultSecuritySettings(in.UserID)
	}

	if !settings.AllowMultipleSessions {
		m.invalidateOthers(ctx, in.UserID)
	}

	now := time.Now().UTC()
	session := &repository.Session{
		ID:             uuid.New(),
		UserID:         in.UserID,
		LoginTime:      now,
		LastActivity:   now,
		ExpiresAt:      now.Add(m.absoluteLifetime),
		IsActive:       true,
		TimeoutMinutes: settings.SessionTimeoutMinutes,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		City:           in.City,
		Country:        in.Country,
		CredentialID:   in.CredentialID,
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// invalidateOthers marks every active session for the user inactive under the
// single-session policy.
func (m *LifecycleManager) invalidateOthers(ctx context.Context, userID string) {
	now := time.Now().UTC()
	others, err := m.sessions.GetActiveByUserID(ctx, userID, now)
	if err != nil {
		m.logger.Warn("could not list sessions for single-session policy",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	for _, s := range others {
		if err := m.sessions.MarkInactive(ctx, s.ID, ReasonSinglePolicy); err != nil {
			m.logger.Warn("failed to invalidate session under single-session policy",
				slog.String("session_id", s.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}

// GetSession fetches a session by id.
func (m *LifecycleManager) GetSession(ctx context.Context, id uuid.UUID) (*repository.Session, error) {
	return m.sessions.GetByID(ctx, id)
}

// TerminateSession hard-deletes a session by id.
func (m *LifecycleManager) TerminateSession(ctx context.Context, id uuid.UUID) error {
	return m.sessions.Delete(ctx, id)
}

// Heartbeat advances the session's last-activity time. The store guarantees
// the write is monotonic within one session.
func (m *LifecycleManager) Heartbeat(ctx context.Context, id uuid.UUID) error {
	return m.sessions.TouchActivity(ctx, id, time.Now().UTC())
}

// InvalidateAllUserSessions marks every active session for the user inactive
// with the given reason tag. Per-item failures are logged, not escalated.
// Returns the number successfully invalidated.
func (m *LifecycleManager) InvalidateAllUserSessions(ctx context.Context, userID, reason string) int {
	now := time.Now().UTC()
	sessions, err := m.sessions.GetActiveByUserID(ctx, userID, now)
	if err != nil {
		m.logger.Warn("could not list sessions for bulk invalidation",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return 0
	}

	var ids []uuid.UUID
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return m.InvalidateSpecificSessions(ctx, ids, reason)
}

// InvalidateSpecificSessions marks the given sessions inactive with a reason
// tag. Per-item failures are logged, not escalated.
func (m *LifecycleManager) InvalidateSpecificSessions(ctx context.Context, ids []uuid.UUID, reason string) int {
	invalidated := 0
	for _, id := range ids {
		if err := m.sessions.MarkInactive(ctx, id, reason); err != nil {
			m.logger.Warn("failed to invalidate session",
				slog.String("session_id", id.String()),
				slog.String("reason", reason),
				slog.String("error", err.Error()))
			continue
		}
		invalidated++
	}
	return invalidated
}

// CleanupExpiredSessions deletes the user's inactive, expired, or timed-out
// sessions. Opportunistic housekeeping: failures are logged and swallowed so
// the operation that triggered the cleanup still succeeds.
func (m *LifecycleManager) CleanupExpiredSessions(ctx context.Context, userID string) int64 {
	deleted, err := m.sessions.DeleteDefunctForUser(ctx, userID, time.Now().UTC())
	if err != nil {
		m.logger.Warn("session cleanup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return 0
	}
	return deleted
}

// GetAllSessions pages through every session record for a maintenance sweep.
func (m *LifecycleManager) GetAllSessions(ctx context.Context, pageSize int) ([]*repository.Session, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	var all []*repository.Session
	after := uuid.Nil
	for {
		page, err := m.sessions.List(ctx, after, pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		after = page[len(page)-1].ID
	}
}

// DeleteSessions removes sessions in throttled batches, falling back to
// per-item deletes when a batch fails. Partial success is success: the return
// value is a best-effort count of deletions.
func (m *LifecycleManager) DeleteSessions(ctx context.Context, ids []uuid.UUID) int64 {
	var deleted int64
	for start := 0; start < len(ids); start += m.batchSize {
		end := start + m.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		n, err := m.sessions.DeleteBatch(ctx, batch)
		if err != nil {
			m.logger.Warn("batch delete failed, falling back to per-item deletes",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			for _, id := range batch {
				if err := m.sessions.Delete(ctx, id); err != nil {
					if !errors.Is(err, repository.ErrSessionNotFound) {
						m.logger.Warn("failed to delete session",
							slog.String("session_id", id.String()),
							slog.String("error", err.Error()))
					}
					continue
				}
				deleted++
			}
		} else {
			deleted += n
		}

		if end < len(ids) {
			time.Sleep(m.batchDelay)
		}
	}
	return deleted
}

// ShouldDeleteSession decides whether a maintenance sweep should remove the
// session, and why. Reasons are checked in priority order.
func ShouldDeleteSession(s *repository.Session, now time.Time) (bool, string) {
	if s.IsExpired(now) {
		return true, DeleteReasonExpired
	}
	if !s.IsActive {
		return true, DeleteReasonInactive
	}
	if s.IsTimedOut(now) {
		return true, DeleteReasonExpired
	}
	if now.Sub(s.LoginTime) > orphanCeiling {
		return true, DeleteReasonOrphaned
	}
	return false, ""
}
