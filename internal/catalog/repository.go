package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mstepanov-dev/storefront-core/internal/db"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
)

type Repository interface {
	ProductByID(ctx context.Context, id uuid.UUID) (*Product, error)
}

type PostgresRepository struct {
	db db.Querier
}

func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{db: q}
}

func (r *PostgresRepository) ProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, company_id, name, price, on_sale, sale_percentage, has_variants, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.CompanyID,
		&p.Name,
		&p.Price,
		&p.OnSale,
		&p.SalePercentage,
		&p.HasVariants,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	if !p.HasVariants {
		return &p, nil
	}

	variantsQuery := `
		SELECT id, product_id, name, attributes, price, stock, created_at
		FROM product_variants
		WHERE product_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, variantsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query variants for product %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Attributes, &v.Price, &v.Stock, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan variant for product %s: %w", id, err)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating variants for product %s: %w", id, err)
	}

	return &p, nil
}

// LockProducts takes row locks on the given products in id order, so two
// concurrent checkouts touching the same stock serialize instead of racing
// the balance computation. Must run inside a transaction.
func LockProducts(ctx context.Context, q db.Querier, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := q.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to lock product rows: %w", err)
	}
	defer rows.Close()

	locked := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("repository: failed to scan locked product row: %w", err)
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error locking product rows: %w", err)
	}
	if locked != len(uniqueIDs(ids)) {
		return ErrProductNotFound
	}
	return nil
}

// SetVariantStock writes the derived stock of a variant back and refreshes
// the parent product's summed aggregate.
func SetVariantStock(ctx context.Context, q db.Querier, productID, variantID uuid.UUID, stock int) error {
	if _, err := q.Exec(ctx, `UPDATE product_variants SET stock = $1 WHERE id = $2`, stock, variantID); err != nil {
		return fmt.Errorf("repository: failed to update variant %s stock: %w", variantID, err)
	}
	query := `
		UPDATE products
		SET stock = (SELECT COALESCE(SUM(stock), 0) FROM product_variants WHERE product_id = $1),
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, productID); err != nil {
		return fmt.Errorf("repository: failed to refresh product %s stock: %w", productID, err)
	}
	return nil
}

// SetProductStock writes the derived stock of a variant-less product back.
func SetProductStock(ctx context.Context, q db.Querier, productID uuid.UUID, stock int) error {
	_, err := q.Exec(ctx, `UPDATE products SET stock = $1, updated_at = now() WHERE id = $2`, stock, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to update product %s stock: %w", productID, err)
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
