package promotion

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mstepanov-dev/storefront-core/internal/catalog"
	"github.com/shopspring/decimal"
)

// ErrInvalidCoupon covers every user-facing rejection: unknown code,
// inactive, outside the validity window, below minimum purchase, or usage
// limit reached. Handlers match on it with errors.Is.
var ErrInvalidCoupon = errors.New("coupon is invalid or expired")

var hundred = decimal.NewFromInt(100)

// ValidateCoupon reports whether the coupon can be applied to a cart with
// the given subtotal.
func ValidateCoupon(c *Coupon, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: unknown code", ErrInvalidCoupon)
	case !c.IsActive:
		return fmt.Errorf("%w: %s is not active", ErrInvalidCoupon, c.Code)
	case now.Before(c.StartDate) || now.After(c.EndDate):
		return fmt.Errorf("%w: %s is outside its validity window", ErrInvalidCoupon, c.Code)
	case subtotal.LessThan(c.MinimumPurchase):
		return fmt.Errorf("%w: subtotal %s is below the minimum purchase %s", ErrInvalidCoupon, subtotal, c.MinimumPurchase)
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return fmt.Errorf("%w: %s has reached its usage limit", ErrInvalidCoupon, c.Code)
	}
	return nil
}

// CouponDiscount computes the discount amount for a validated coupon.
// Percentage discounts are capped at MaximumDiscount when set; fixed
// discounts apply verbatim.
func CouponDiscount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if c.DiscountType == DiscountPercentage {
		d := subtotal.Mul(c.DiscountAmount).Div(hundred)
		if c.MaximumDiscount != nil && d.GreaterThan(*c.MaximumDiscount) {
			d = *c.MaximumDiscount
		}
		return d
	}
	return c.DiscountAmount
}

// BestOffer picks the single winning offer for a product: the highest
// discount among offers that are active, inside their window, and scoped to
// the product (or company-wide). Ties break by ascending id so selection is
// deterministic.
func BestOffer(offers []SpecialOffer, productID uuid.UUID, now time.Time) *SpecialOffer {
	var best *SpecialOffer
	for i := range offers {
		o := &offers[i]
		if !o.appliesTo(productID, now) {
			continue
		}
		if best == nil || o.Discount.GreaterThan(best.Discount) {
			best = o
			continue
		}
		if o.Discount.Equal(best.Discount) && bytes.Compare(o.ID.Bytes(), best.ID.Bytes()) < 0 {
			best = o
		}
	}
	return best
}

// LineDiscount is the resolved sale terms for one product.
type LineDiscount struct {
	Percent    decimal.Decimal
	FinalPrice decimal.Decimal
}

// Apply computes the discounted price for any unit price using the winning
// percent. Used for variants, which each price the same discount
// individually.
func (d LineDiscount) Apply(price decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(d.Percent)).Div(hundred).Round(2)
}

// ResolveLineDiscount finds the best special offer for the product among
// offers gathered for its seller company, falling back to the product's own
// static sale flag when none qualify.
func ResolveLineDiscount(p *catalog.Product, offers []SpecialOffer, now time.Time) LineDiscount {
	percent := decimal.Zero
	if best := BestOffer(offers, p.ID, now); best != nil {
		percent = best.Discount
	} else if p.OnSale {
		percent = p.SalePercentage
	}

	d := LineDiscount{Percent: percent}
	d.FinalPrice = d.Apply(p.Price)
	return d
}
