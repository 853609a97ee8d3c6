package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mstepanov-dev/storefront-core/internal/db"
)

// Ledger is the append-only stock log. Record never rejects a movement for
// driving the balance negative; callers validate availability first.
type Ledger interface {
	AvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, error)
	Record(ctx context.Context, m *Movement) (*Movement, error)
}

type PostgresLedger struct {
	db db.Querier
}

// NewPostgresLedger accepts either a pool or an open transaction, so the
// settlement engine can append movements inside its own atomic unit.
func NewPostgresLedger(q db.Querier) *PostgresLedger {
	return &PostgresLedger{db: q}
}

const balanceQuery = `
	SELECT COALESCE(SUM(CASE
		WHEN type IN ('PURCHASE', 'RETURN') THEN quantity
		WHEN type IN ('SALE', 'DAMAGE') THEN -quantity
		ELSE quantity
	END), 0)
	FROM stock_movements
	WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2
`

func (l *PostgresLedger) AvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, error) {
	var available int
	err := l.db.QueryRow(ctx, balanceQuery, productID, variantID).Scan(&available)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to compute available stock for product %s: %w", productID, err)
	}
	return available, nil
}

func (l *PostgresLedger) Record(ctx context.Context, m *Movement) (*Movement, error) {
	if m.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("repository: failed to generate movement ID: %w", err)
		}
		m.ID = id
	}
	m.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO stock_movements (id, product_id, variant_id, type, quantity, reference, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := l.db.Exec(ctx, query,
		m.ID,
		m.ProductID,
		m.VariantID,
		string(m.Type),
		m.Quantity,
		m.Reference,
		m.ActorID,
		m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to insert stock movement for product %s: %w", m.ProductID, err)
	}

	return m, nil
}
