package promotion

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	Code            string           `json:"code" db:"code"`
	DiscountType    DiscountType     `json:"discount_type" db:"discount_type"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	MaximumDiscount *decimal.Decimal `json:"maximum_discount,omitempty" db:"maximum_discount"`
	MinimumPurchase decimal.Decimal  `json:"minimum_purchase" db:"minimum_purchase"`
	UsageLimit      *int             `json:"usage_limit,omitempty" db:"usage_limit"`
	UsedCount       int              `json:"used_count" db:"used_count"`
	StartDate       time.Time        `json:"start_date" db:"start_date"`
	EndDate         time.Time        `json:"end_date" db:"end_date"`
	IsActive        bool             `json:"is_active" db:"is_active"`
}

// SpecialOffer is a time-bounded percent discount scoped to a seller
// company. An empty ProductIDs list applies the offer to every product the
// company sells.
type SpecialOffer struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	CompanyID  uuid.UUID       `json:"company_id" db:"company_id"`
	Discount   decimal.Decimal `json:"discount" db:"discount"`
	StartDate  time.Time       `json:"start_date" db:"start_date"`
	EndDate    time.Time       `json:"end_date" db:"end_date"`
	IsActive   bool            `json:"is_active" db:"is_active"`
	ProductIDs []uuid.UUID     `json:"product_ids" db:"-"`
}

func (o *SpecialOffer) appliesTo(productID uuid.UUID, now time.Time) bool {
	if !o.IsActive || now.Before(o.StartDate) || now.After(o.EndDate) {
		return false
	}
	if len(o.ProductIDs) == 0 {
		return true
	}
	for _, id := range o.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}
