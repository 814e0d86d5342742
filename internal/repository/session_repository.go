package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository is the store adapter for session records: CRUD by primary
// key, a by-user secondary lookup, and a paginated full scan for maintenance
// sweeps.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// GetActiveByUserID returns sessions that are active and not past their
	// absolute deadline. The rolling-timeout check is the lifecycle manager's
	// job; the store cannot express it with an index.
	GetActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*Session, error)
	// TouchActivity advances last_activity monotonically; a stale heartbeat
	// never moves it backwards.
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkInactive(ctx context.Context, id uuid.UUID, reason string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteBatch removes the given sessions in one statement and returns the
	// number actually deleted.
	DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error)
	// List pages through all sessions in id order. Pass uuid.Nil to start.
	List(ctx context.Context, afterID uuid.UUID, limit int) ([]*Session, error)
	// DeleteDefunctForUser removes the user's sessions that are inactive,
	// past their absolute deadline, or past their rolling timeout.
	DeleteDefunctForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, login_time, last_activity, expires_at, is_active,
	timeout_minutes, ip_address, user_agent, city, country, credential_id, inactive_reason`

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.LoginTime,
		&s.LastActivity,
		&s.ExpiresAt,
		&s.IsActive,
		&s.TimeoutMinutes,
		&s.IPAddress,
		&s.UserAgent,
		&s.City,
		&s.Country,
		&s.CredentialID,
		&s.InactiveReason,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new session record
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, login_time, last_activity, expires_at, is_active,
			timeout_minutes, ip_address, user_agent, city, country, credential_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.LoginTime,
		session.LastActivity,
		session.ExpiresAt,
		session.IsActive,
		session.TimeoutMinutes,
		session.IPAddress,
		session.UserAgent,
		session.City,
		session.Country,
		session.CredentialID,
	)
	return err
}

// GetByID retrieves a session by primary key
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// GetActiveByUserID retrieves active, unexpired sessions via the user_id index
func (r *sessionRepository) GetActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY last_activity DESC
	`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchActivity advances last_activity, never backwards
func (r *sessionRepository) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE sessions
		SET last_activity = GREATEST(last_activity, $2)
		WHERE id = $1 AND is_active = true
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// MarkInactive soft-deletes a session with a reason tag
func (r *sessionRepository) MarkInactive(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE sessions
		SET is_active = false, inactive_reason = $2
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete hard-deletes a session by id
func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteBatch hard-deletes a set of sessions in one statement
func (r *sessionRepository) DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `DELETE FROM sessions WHERE id = ANY($1)`

	result, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// List pages through all sessions in id order for maintenance sweeps
func (r *sessionRepository) List(ctx context.Context, afterID uuid.UUID, limit int) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteDefunctForUser removes a user's inactive, expired, or timed-out sessions
func (r *sessionRepository) DeleteDefunctForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1 AND (
			is_active = false
			OR expires_at <= $2
			OR last_activity + make_interval(mins => timeout_minutes) < $2
		)
	`

	result, err := r.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
