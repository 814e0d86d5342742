package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Client repository errors
var (
	ErrClientNotFound = errors.New("client not found")
)

// ClientRepository provides CRUD over billable clients.
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	ListByUser(ctx context.Context, userID string) ([]*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type clientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository creates a new ClientRepository instance
func NewClientRepository(pool *pgxpool.Pool) ClientRepository {
	return &clientRepository{pool: pool}
}

func (r *clientRepository) Create(ctx context.Context, client *Client) error {
	query := `
		INSERT INTO clients (id, user_id, name, contact_email, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return r.pool.QueryRow(ctx, query,
		client.ID, client.UserID, client.Name, client.ContactEmail, client.Notes,
	).Scan(&client.CreatedAt, &client.UpdatedAt)
}

func (r *clientRepository) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	query := `
		SELECT id, user_id, name, contact_email, notes, created_at, updated_at
		FROM clients WHERE id = $1
	`

	c := &Client{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.Name, &c.ContactEmail, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *clientRepository) ListByUser(ctx context.Context, userID string) ([]*Client, error) {
	query := `
		SELECT id, user_id, name, contact_email, notes, created_at, updated_at
		FROM clients WHERE user_id = $1
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c := &Client{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.ContactEmail, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *clientRepository) Update(ctx context.Context, client *Client) error {
	query := `
		UPDATE clients
		SET name = $2, contact_email = $3, notes = $4, updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, client.ID, client.Name, client.ContactEmail, client.Notes)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (r *clientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM clients WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}
