package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordHistoryRetention is how many recent entries survive pruning.
const PasswordHistoryRetention = 5

// PasswordHistoryTTL is the age past which entries are dropped regardless of
// count.
const PasswordHistoryTTL = 365 * 24 * time.Hour

// PasswordHistoryRepository stores previous credential hashes for reuse checks.
type PasswordHistoryRepository interface {
	Add(ctx context.Context, entry *PasswordHistoryEntry) error
	// GetRecent returns up to limit entries, newest first.
	GetRecent(ctx context.Context, userID string, limit int) ([]*PasswordHistoryEntry, error)
	// PruneUser keeps only the most recent PasswordHistoryRetention entries.
	PruneUser(ctx context.Context, userID string) (int64, error)
	// DeleteExpired drops entries past their TTL across all users.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type passwordHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPasswordHistoryRepository creates a new PasswordHistoryRepository instance
func NewPasswordHistoryRepository(pool *pgxpool.Pool) PasswordHistoryRepository {
	return &passwordHistoryRepository{pool: pool}
}

// Add appends a history entry
func (r *passwordHistoryRepository) Add(ctx context.Context, entry *PasswordHistoryEntry) error {
	query := `
		INSERT INTO password_history (user_id, created_at, password_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.UserID,
		entry.CreatedAt,
		entry.PasswordHash,
		entry.ExpiresAt,
	)
	return err
}

// GetRecent returns the newest entries for a user
func (r *passwordHistoryRepository) GetRecent(ctx context.Context, userID string, limit int) ([]*PasswordHistoryEntry, error) {
	query := `
		SELECT user_id, created_at, password_hash, expires_at
		FROM password_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*PasswordHistoryEntry
	for rows.Next() {
		e := &PasswordHistoryEntry{}
		if err := rows.Scan(&e.UserID, &e.CreatedAt, &e.PasswordHash, &e.ExpiresAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneUser drops all but the newest PasswordHistoryRetention entries
func (r *passwordHistoryRepository) PruneUser(ctx context.Context, userID string) (int64, error) {
	query := `
		DELETE FROM password_history
		WHERE user_id = $1 AND created_at NOT IN (
			SELECT created_at FROM password_history
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`

	result, err := r.pool.Exec(ctx, query, userID, PasswordHistoryRetention)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// DeleteExpired drops entries past their TTL
func (r *passwordHistoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM password_history WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
