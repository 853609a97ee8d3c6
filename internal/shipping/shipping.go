package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mstepanov-dev/storefront-core/internal/db"
	"github.com/shopspring/decimal"
)

var ErrChargeNotFound = errors.New("shipping charge not found")

// Charge is an opaque lookup owned by the shipping subsystem: a flat amount
// for a delivery method.
type Charge struct {
	ID       uuid.UUID       `json:"id" db:"id"`
	Name     string          `json:"name" db:"name"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	IsActive bool            `json:"is_active" db:"is_active"`
}

type Repository interface {
	ChargeByID(ctx context.Context, id uuid.UUID) (*Charge, error)
}

type PostgresRepository struct {
	db db.Querier
}

func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{db: q}
}

func (r *PostgresRepository) ChargeByID(ctx context.Context, id uuid.UUID) (*Charge, error) {
	query := `SELECT id, name, amount, is_active FROM shipping_charges WHERE id = $1 AND is_active`

	var c Charge
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Amount, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("repository: failed to select shipping charge %s: %w", id, err)
	}
	return &c, nil
}
