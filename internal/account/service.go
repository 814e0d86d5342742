package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/chronoflow/timetracker/internal/idp"
	"github.com/chronoflow/timetracker/internal/repository"
	"github.com/chronoflow/timetracker/internal/session"
)

// Account service errors
var (
	ErrAccountLocked          = errors.New("account is locked")
	ErrWeakPassword           = errors.New("password does not meet requirements")
	ErrPasswordReused         = errors.New("password was used recently")
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
)

// UpdateSecuritySettingsRequest is the settings-update payload. Bounds:
// session timeout 15 minutes to 30 days, password rotation 0 (never) to a
// year.
type UpdateSecuritySettingsRequest struct {
	SessionTimeoutMinutes      int  `json:"sessionTimeout" validate:"required,min=15,max=43200"`
	AllowMultipleSessions      bool `json:"allowMultipleSessions"`
	MaxFailedAttempts          int  `json:"maxFailedAttempts" validate:"omitempty,min=1,max=20"`
	LockoutDurationMinutes     int  `json:"lockoutDuration" validate:"omitempty,min=1,max=1440"`
	RequirePasswordChangeEvery int  `json:"requirePasswordChangeEvery" validate:"min=0,max=365"`
}

// ChangePasswordRequest is the change-password payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// Service applies security-settings and credential-change policy before
// delegating credential updates to the identity provider.
type Service struct {
	settings  repository.SecuritySettingsRepository
	history   repository.PasswordHistoryRepository
	lifecycle *session.LifecycleManager
	provider  idp.Client
	policy    *PasswordPolicy
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService creates a new Service instance
func NewService(
	settings repository.SecuritySettingsRepository,
	history repository.PasswordHistoryRepository,
	lifecycle *session.LifecycleManager,
	provider idp.Client,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings:  settings,
		history:   history,
		lifecycle: lifecycle,
		provider:  provider,
		policy:    NewPasswordPolicy(),
		validate:  validator.New(),
		logger:    logger,
	}
}

// UpdateSecuritySettings validates and persists new policy values.
func (s *Service) UpdateSecuritySettings(ctx context.Context, userID string, req UpdateSecuritySettingsRequest) (*repository.UserSecuritySettings, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	settings.SessionTimeoutMinutes = req.SessionTimeoutMinutes
	settings.AllowMultipleSessions = req.AllowMultipleSessions
	if req.MaxFailedAttempts > 0 {
		settings.MaxFailedAttempts = req.MaxFailedAttempts
	}
	if req.LockoutDurationMinutes > 0 {
		settings.LockoutDurationMinutes = req.LockoutDurationMinutes
	}
	settings.RequirePasswordChangeEvery = req.RequirePasswordChangeEvery

	if err := s.settings.Update(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// ChangePassword checks lockout state, strength, and reuse before delegating
// to the identity provider, then records history and resets failure counters.
// Other sessions are invalidated; the caller's current session survives so a
// password change never locks the caller out of its own session.
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest, userAgent, ipAddress string) error {
	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if settings.IsLockedOut(now) {
		return ErrAccountLocked
	}

	if problems := s.policy.Validate(req.NewPassword); len(problems) > 0 {
		return ErrWeakPassword
	}

	recent, err := s.history.GetRecent(ctx, userID, repository.PasswordHistoryRetention)
	if err != nil {
		return err
	}
	for _, entry := range recent {
		if s.policy.Matches(entry.PasswordHash, req.NewPassword) {
			return ErrPasswordReused
		}
	}

	if err := s.provider.UpdateCredential(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, idp.ErrInvalidCurrentPassword) {
			s.recordFailedAttempt(ctx, userID, settings, now)
			return ErrInvalidCurrentPassword
		}
		if errors.Is(err, idp.ErrWeakPassword) {
			return ErrWeakPassword
		}
		return err
	}

	s.recordSuccess(ctx, userID, req.NewPassword, now)
	s.invalidateOtherSessions(ctx, userID, userAgent, ipAddress)
	return nil
}

// recordFailedAttempt bumps the failure counter and applies lockout when the
// threshold is reached. Counter maintenance is housekeeping: failures are
// logged, never escalated.
func (s *Service) recordFailedAttempt(ctx context.Context, userID string, settings *repository.UserSecuritySettings, now time.Time) {
	count, err := s.settings.IncrementFailedAttempts(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to record failed attempt",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	if count >= settings.MaxFailedAttempts {
		until := now.Add(time.Duration(settings.LockoutDurationMinutes) * time.Minute)
		if err := s.settings.SetLockout(ctx, userID, until); err != nil {
			s.logger.Warn("failed to apply lockout",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Warn("account locked after repeated credential failures",
			slog.String("user_id", userID),
			slog.Time("until", until))
	}
}

// recordSuccess appends password history and clears failure state, all
// best-effort: the credential is already changed at the provider.
func (s *Service) recordSuccess(ctx context.Context, userID, newPassword string, now time.Time) {
	hash, err := s.policy.Hash(newPassword)
	if err != nil {
		s.logger.Warn("failed to hash password for history",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	} else {
		entry := &repository.PasswordHistoryEntry{
			UserID:       userID,
			CreatedAt:    now,
			PasswordHash: hash,
			ExpiresAt:    now.Add(repository.PasswordHistoryTTL),
		}
		if err := s.history.Add(ctx, entry); err != nil {
			s.logger.Warn("failed to record password history",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		if _, err := s.history.PruneUser(ctx, userID); err != nil {
			s.logger.Warn("failed to prune password history",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
	}

	if err := s.settings.RecordPasswordChange(ctx, userID, now); err != nil {
		s.logger.Warn("failed to stamp password change",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
	if err := s.settings.ResetFailedAttempts(ctx, userID); err != nil {
		s.logger.Warn("failed to reset failed attempts",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

// invalidateOtherSessions marks every session except the caller's current one
// inactive after a credential change.
func (s *Service) invalidateOtherSessions(ctx context.Context, userID, userAgent, ipAddress string) {
	sessions, err := s.lifecycle.ListValidSessions(ctx, userID)
	if err != nil {
		s.logger.Warn("could not list sessions after password change",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}

	current, _ := session.IdentifyCurrent(sessions, userAgent, ipAddress)
	var others []uuid.UUID
	for _, sess := range sessions {
		if current != nil && sess.ID == current.ID {
			continue
		}
		others = append(others, sess.ID)
	}
	s.lifecycle.InvalidateSpecificSessions(ctx, others, session.ReasonPasswordChange)
}
