package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mstepanov-dev/storefront-core/internal/db"
)

// PostgresAddressReader resolves a stored account address into a shipping
// destination. The address book itself is owned by another subsystem; this
// is a read-only lookup scoped to the owning customer.
type PostgresAddressReader struct {
	db db.Querier
}

func NewPostgresAddressReader(q db.Querier) *PostgresAddressReader {
	return &PostgresAddressReader{db: q}
}

func (r *PostgresAddressReader) DestinationByID(ctx context.Context, addressID, customerID uuid.UUID) (*Destination, error) {
	query := `
		SELECT recipient, phone, line1, city, postal_code
		FROM addresses
		WHERE id = $1 AND customer_id = $2
	`
	var d Destination
	err := r.db.QueryRow(ctx, query, addressID, customerID).Scan(&d.Recipient, &d.Phone, &d.Line1, &d.City, &d.PostalCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidShippingAddress
		}
		return nil, fmt.Errorf("repository: failed to select address %s: %w", addressID, err)
	}
	return &d, nil
}
