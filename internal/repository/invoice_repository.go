package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Invoice repository errors
var (
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// InvoiceRepository provides CRUD and filtered listing over invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	List(ctx context.Context, userID string, params ListInvoiceParams) ([]Invoice, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InvoiceRepo implements InvoiceRepository using PostgreSQL via sqlx
type InvoiceRepo struct {
	db *sqlx.DB
}

// NewInvoiceRepo creates a new InvoiceRepo instance
func NewInvoiceRepo(db *sqlx.DB) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

func (r *InvoiceRepo) Create(ctx context.Context, invoice *Invoice) error {
	query := `
		INSERT INTO invoices (id, user_id, client_id, project_id, number, status,
			amount_cents, currency, notes, issued_at, due_at)
		VALUES (:id, :user_id, :client_id, :project_id, :number, :status,
			:amount_cents, :currency, :notes, :issued_at, :due_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, invoice)
	return err
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	query := `
		SELECT id, user_id, client_id, project_id, number, status, amount_cents,
			currency, notes, issued_at, due_at, created_at
		FROM invoices WHERE id = $1
	`

	invoice := &Invoice{}
	if err := r.db.GetContext(ctx, invoice, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return invoice, nil
}

// List retrieves invoices for a user with pagination and optional filters
func (r *InvoiceRepo) List(ctx context.Context, userID string, params ListInvoiceParams) ([]Invoice, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}

	baseQuery := ` FROM invoices WHERE user_id = $1`
	args := []interface{}{userID}
	argIdx := 2

	if params.ClientID != nil {
		baseQuery += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, *params.ClientID)
		argIdx++
	}
	if params.Status != "" {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+baseQuery, args...); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, user_id, client_id, project_id, number, status, amount_cents,
		currency, notes, issued_at, due_at, created_at` + baseQuery +
		fmt.Sprintf(" ORDER BY issued_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, (params.Page-1)*params.Limit)

	var invoices []Invoice
	if err := r.db.SelectContext(ctx, &invoices, listQuery, args...); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func (r *InvoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM invoices WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
