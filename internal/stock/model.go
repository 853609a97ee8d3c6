package stock

import (
	"time"

	"github.com/gofrs/uuid"
)

type MovementType string

const (
	TypePurchase   MovementType = "PURCHASE"
	TypeSale       MovementType = "SALE"
	TypeReturn     MovementType = "RETURN"
	TypeDamage     MovementType = "DAMAGE"
	TypeAdjustment MovementType = "ADJUSTMENT"
)

func (t MovementType) String() string {
	return string(t)
}

// Movement is one immutable ledger entry. Quantity is stored positive for
// every type except ADJUSTMENT, which carries its correction sign in the
// quantity itself.
type Movement struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	ProductID uuid.UUID    `json:"product_id" db:"product_id"`
	VariantID *uuid.UUID   `json:"variant_id,omitempty" db:"variant_id"`
	Type      MovementType `json:"type" db:"type"`
	Quantity  int          `json:"quantity" db:"quantity"`
	Reference string       `json:"reference" db:"reference"`
	ActorID   string       `json:"actor_id" db:"actor_id"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Signed returns the movement's contribution to the available balance:
// PURCHASE and RETURN add, SALE and DAMAGE subtract, ADJUSTMENT is taken
// as-is.
func (m Movement) Signed() int {
	switch m.Type {
	case TypePurchase, TypeReturn:
		return m.Quantity
	case TypeSale, TypeDamage:
		return -m.Quantity
	default:
		return m.Quantity
	}
}

// Balance folds a sequence of movements into the available quantity. The
// fold is a plain sum, so insertion order does not matter.
func Balance(movements []Movement) int {
	total := 0
	for _, m := range movements {
		total += m.Signed()
	}
	return total
}
