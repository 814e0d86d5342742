package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Security settings repository errors
var (
	ErrSettingsNotFound = errors.New("security settings not found")
)

// Default security policy applied when a user is seen for the first time.
const (
	DefaultSessionTimeoutMinutes  = 480
	DefaultMaxFailedAttempts      = 5
	DefaultLockoutDurationMinutes = 30
)

// SecuritySettingsRepository provides access to per-user security policy.
type SecuritySettingsRepository interface {
	// GetOrCreate returns the user's settings, creating a default row on
	// first access.
	GetOrCreate(ctx context.Context, userID string) (*UserSecuritySettings, error)
	Update(ctx context.Context, settings *UserSecuritySettings) error
	// IncrementFailedAttempts bumps the counter and returns the new value.
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	SetLockout(ctx context.Context, userID string, until time.Time) error
	RecordPasswordChange(ctx context.Context, userID string, at time.Time) error
}

type securitySettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSecuritySettingsRepository creates a new SecuritySettingsRepository instance
func NewSecuritySettingsRepository(pool *pgxpool.Pool) SecuritySettingsRepository {
	return &securitySettingsRepository{pool: pool}
}

const settingsColumns = `user_id, session_timeout_minutes, allow_multiple_sessions,
	max_failed_attempts, lockout_duration_minutes, require_password_change_days,
	password_last_changed, failed_login_attempts, account_locked_until, created_at, updated_at`

func scanSettings(row pgx.Row) (*UserSecuritySettings, error) {
	s := &UserSecuritySettings{}
	err := row.Scan(
		&s.UserID,
		&s.SessionTimeoutMinutes,
		&s.AllowMultipleSessions,
		&s.MaxFailedAttempts,
		&s.LockoutDurationMinutes,
		&s.RequirePasswordChangeEvery,
		&s.PasswordLastChanged,
		&s.FailedLoginAttempts,
		&s.AccountLockedUntil,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrCreate returns the settings row, lazily inserting defaults on first access
func (r *securitySettingsRepository) GetOrCreate(ctx context.Context, userID string) (*UserSecuritySettings, error) {
	query := `
		INSERT INTO user_security_settings
			(user_id, session_timeout_minutes, allow_multiple_sessions,
			 max_failed_attempts, lockout_duration_minutes, require_password_change_days)
		VALUES ($1, $2, true, $3, $4, 0)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + settingsColumns

	return scanSettings(r.pool.QueryRow(ctx, query, userID,
		DefaultSessionTimeoutMinutes,
		DefaultMaxFailedAttempts,
		DefaultLockoutDurationMinutes,
	))
}

// Update persists the policy fields of a settings row
func (r *securitySettingsRepository) Update(ctx context.Context, settings *UserSecuritySettings) error {
	query := `
		UPDATE user_security_settings
		SET session_timeout_minutes = $2,
			allow_multiple_sessions = $3,
			max_failed_attempts = $4,
			lockout_duration_minutes = $5,
			require_password_change_days = $6,
			updated_at = now()
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		settings.UserID,
		settings.SessionTimeoutMinutes,
		settings.AllowMultipleSessions,
		settings.MaxFailedAttempts,
		settings.LockoutDurationMinutes,
		settings.RequirePasswordChangeEvery,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

// IncrementFailedAttempts bumps the failed-attempt counter
func (r *securitySettingsRepository) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	query := `
		UPDATE user_security_settings
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING failed_login_attempts
	`

	var count int
	err := r.pool.QueryRow(ctx, query, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSettingsNotFound
		}
		return 0, err
	}
	return count, nil
}

// ResetFailedAttempts clears the failed-attempt counter and any lockout
func (r *securitySettingsRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	query := `
		UPDATE user_security_settings
		SET failed_login_attempts = 0, account_locked_until = NULL, updated_at = now()
		WHERE user_id = $1
	`

	_, err := r.pool.Exec(ctx, query, userID)
	return err
}

// SetLockout locks the account until the given time
func (r *securitySettingsRepository) SetLockout(ctx context.Context, userID string, until time.Time) error {
	query := `
		UPDATE user_security_settings
		SET account_locked_until = $2, updated_at = now()
		WHERE user_id = $1
	`

	_, err := r.pool.Exec(ctx, query, userID, until)
	return err
}

// RecordPasswordChange stamps password_last_changed
func (r *securitySettingsRepository) RecordPasswordChange(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE user_security_settings
		SET password_last_changed = $2, updated_at = now()
		WHERE user_id = $1
	`

	_, err := r.pool.Exec(ctx, query, userID, at)
	return err
}
