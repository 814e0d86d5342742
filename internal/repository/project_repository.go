package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Project repository errors
var (
	ErrProjectNotFound = errors.New("project not found")
)

// ProjectRepository provides CRUD over projects.
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
	ListByUser(ctx context.Context, userID string) ([]*Project, error)
	Update(ctx context.Context, project *Project) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type projectRepository struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a new ProjectRepository instance
func NewProjectRepository(pool *pgxpool.Pool) ProjectRepository {
	return &projectRepository{pool: pool}
}

func (r *projectRepository) Create(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO projects (id, user_id, client_id, name, hourly_rate_cents, is_archived)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	return r.pool.QueryRow(ctx, query,
		project.ID, project.UserID, project.ClientID, project.Name,
		project.HourlyRateCents, project.IsArchived,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
}

func (r *projectRepository) GetByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	query := `
		SELECT id, user_id, client_id, name, hourly_rate_cents, is_archived, created_at, updated_at
		FROM projects WHERE id = $1
	`

	p := &Project{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.ClientID, &p.Name, &p.HourlyRateCents,
		&p.IsArchived, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *projectRepository) ListByUser(ctx context.Context, userID string) ([]*Project, error) {
	query := `
		SELECT id, user_id, client_id, name, hourly_rate_cents, is_archived, created_at, updated_at
		FROM projects WHERE user_id = $1
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.ClientID, &p.Name, &p.HourlyRateCents,
			&p.IsArchived, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *projectRepository) Update(ctx context.Context, project *Project) error {
	query := `
		UPDATE projects
		SET name = $2, hourly_rate_cents = $3, is_archived = $4, updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.HourlyRateCents, project.IsArchived)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM projects WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}
