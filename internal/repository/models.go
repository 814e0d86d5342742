package repository

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one authenticated client instance. A session is valid
// when it is active, before its absolute deadline, and within its rolling
// inactivity timeout. The absolute deadline and the rolling timeout are
// independent checks.
type Session struct {
	ID             uuid.UUID `db:"id"`
	UserID         string    `db:"user_id"`
	LoginTime      time.Time `db:"login_time"`
	LastActivity   time.Time `db:"last_activity"`
	ExpiresAt      time.Time `db:"expires_at"`
	IsActive       bool      `db:"is_active"`
	TimeoutMinutes int       `db:"timeout_minutes"`
	IPAddress      string    `db:"ip_address"`
	UserAgent      string    `db:"user_agent"`
	City           *string   `db:"city"`
	Country        *string   `db:"country"`
	CredentialID   *string   `db:"credential_id"`
	InactiveReason *string   `db:"inactive_reason"`
}

// IsExpired reports whether the session is past its absolute deadline.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsTimedOut reports whether the session exceeded its rolling inactivity
// timeout. The timeout was copied from the owner's security settings at
// creation time and may differ per session if settings changed later.
func (s *Session) IsTimedOut(now time.Time) bool {
	timeout := time.Duration(s.TimeoutMinutes) * time.Minute
	return now.Sub(s.LastActivity) > timeout
}

// IsValid reports whether the session authorizes requests at the given time.
func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive && !s.IsExpired(now) && !s.IsTimedOut(now)
}

// UserSecuritySettings holds per-user session and credential policy.
// Created lazily with defaults on first access; never hard-deleted.
type UserSecuritySettings struct {
	UserID                     string     `db:"user_id"`
	SessionTimeoutMinutes      int        `db:"session_timeout_minutes"`
	AllowMultipleSessions      bool       `db:"allow_multiple_sessions"`
	MaxFailedAttempts          int        `db:"max_failed_attempts"`
	LockoutDurationMinutes     int        `db:"lockout_duration_minutes"`
	RequirePasswordChangeEvery int        `db:"require_password_change_days"`
	PasswordLastChanged        *time.Time `db:"password_last_changed"`
	FailedLoginAttempts        int        `db:"failed_login_attempts"`
	AccountLockedUntil         *time.Time `db:"account_locked_until"`
	CreatedAt                  time.Time  `db:"created_at"`
	UpdatedAt                  time.Time  `db:"updated_at"`
}

// IsLockedOut reports whether the account lockout is still in force.
func (s *UserSecuritySettings) IsLockedOut(now time.Time) bool {
	return s.AccountLockedUntil != nil && now.Before(*s.AccountLockedUntil)
}

// PasswordHistoryEntry records a previous credential hash for reuse checks.
// Append-only except for retention pruning.
type PasswordHistoryEntry struct {
	UserID       string    `db:"user_id"`
	CreatedAt    time.Time `db:"created_at"`
	PasswordHash string    `db:"password_hash"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// Client represents a billable client owned by a user.
type Client struct {
	ID           uuid.UUID `db:"id"`
	UserID       string    `db:"user_id"`
	Name         string    `db:"name"`
	ContactEmail *string   `db:"contact_email"`
	Notes        *string   `db:"notes"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Project represents a time-tracked project for a client.
type Project struct {
	ID              uuid.UUID `db:"id"`
	UserID          string    `db:"user_id"`
	ClientID        uuid.UUID `db:"client_id"`
	Name            string    `db:"name"`
	HourlyRateCents int64     `db:"hourly_rate_cents"`
	IsArchived      bool      `db:"is_archived"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Invoice represents an issued invoice.
type Invoice struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	ClientID    uuid.UUID  `db:"client_id" json:"client_id"`
	ProjectID   *uuid.UUID `db:"project_id" json:"project_id,omitempty"`
	Number      string     `db:"number" json:"number"`
	Status      string     `db:"status" json:"status"`
	AmountCents int64      `db:"amount_cents" json:"amount_cents"`
	Currency    string     `db:"currency" json:"currency"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	IssuedAt    time.Time  `db:"issued_at" json:"issued_at"`
	DueAt       *time.Time `db:"due_at" json:"due_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ListInvoiceParams holds parameters for listing invoices
type ListInvoiceParams struct {
	Page     int
	Limit    int
	ClientID *uuid.UUID
	Status   string
}
