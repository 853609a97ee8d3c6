package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mstepanov-dev/storefront-core/internal/db"
)

// ErrCouponExhausted is returned when the conditional increment finds the
// coupon already at its limit (or deactivated) — the losing side of a race
// that the pre-flight validation could not see.
var ErrCouponExhausted = errors.New("coupon usage limit reached")

type Repository interface {
	CouponByCode(ctx context.Context, code string) (*Coupon, error)
	ActiveOffers(ctx context.Context, companyIDs []uuid.UUID, now time.Time) ([]SpecialOffer, error)
	IncrementUsage(ctx context.Context, couponID uuid.UUID) error
}

type PostgresRepository struct {
	db db.Querier
}

func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// CouponByCode returns (nil, nil) for an unknown code; ValidateCoupon turns
// that into ErrInvalidCoupon.
func (r *PostgresRepository) CouponByCode(ctx context.Context, code string) (*Coupon, error) {
	query := `
		SELECT id, code, discount_type, discount_amount, maximum_discount, minimum_purchase,
		       usage_limit, used_count, start_date, end_date, is_active
		FROM coupons
		WHERE code = $1
	`

	var c Coupon
	err := r.db.QueryRow(ctx, query, code).Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.DiscountAmount,
		&c.MaximumDiscount,
		&c.MinimumPurchase,
		&c.UsageLimit,
		&c.UsedCount,
		&c.StartDate,
		&c.EndDate,
		&c.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: failed to select coupon %q: %w", code, err)
	}

	return &c, nil
}

func (r *PostgresRepository) ActiveOffers(ctx context.Context, companyIDs []uuid.UUID, now time.Time) ([]SpecialOffer, error) {
	if len(companyIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, company_id, discount, start_date, end_date, is_active
		FROM special_offers
		WHERE company_id = ANY($1) AND is_active AND start_date <= $2 AND end_date >= $2
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, companyIDs, now)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query special offers: %w", err)
	}
	defer rows.Close()

	var offers []SpecialOffer
	offerIndex := make(map[uuid.UUID]int)
	for rows.Next() {
		var o SpecialOffer
		if err := rows.Scan(&o.ID, &o.CompanyID, &o.Discount, &o.StartDate, &o.EndDate, &o.IsActive); err != nil {
			return nil, fmt.Errorf("repository: failed to scan special offer: %w", err)
		}
		offerIndex[o.ID] = len(offers)
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating special offers: %w", err)
	}
	if len(offers) == 0 {
		return nil, nil
	}

	offerIDs := make([]uuid.UUID, 0, len(offers))
	for _, o := range offers {
		offerIDs = append(offerIDs, o.ID)
	}

	productRows, err := r.db.Query(ctx, `SELECT offer_id, product_id FROM special_offer_products WHERE offer_id = ANY($1)`, offerIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query offer products: %w", err)
	}
	defer productRows.Close()

	for productRows.Next() {
		var offerID, productID uuid.UUID
		if err := productRows.Scan(&offerID, &productID); err != nil {
			return nil, fmt.Errorf("repository: failed to scan offer product: %w", err)
		}
		if i, ok := offerIndex[offerID]; ok {
			offers[i].ProductIDs = append(offers[i].ProductIDs, productID)
		}
	}
	if err := productRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating offer products: %w", err)
	}

	return offers, nil
}

// IncrementUsage bumps used_count in a single conditional statement, so the
// limit check and the increment cannot be split by a concurrent checkout.
func (r *PostgresRepository) IncrementUsage(ctx context.Context, couponID uuid.UUID) error {
	query := `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND is_active AND (usage_limit IS NULL OR used_count < usage_limit)
	`
	tag, err := r.db.Exec(ctx, query, couponID)
	if err != nil {
		return fmt.Errorf("repository: failed to increment coupon %s usage: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponExhausted
	}
	return nil
}
