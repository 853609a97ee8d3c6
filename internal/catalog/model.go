package catalog

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Variant carries its own price and stock when the parent product sells in
// variants. Attributes hold the selectable options ("size": "L").
type Variant struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	ProductID  uuid.UUID         `json:"product_id" db:"product_id"`
	Name       string            `json:"name" db:"name"`
	Attributes map[string]string `json:"attributes" db:"attributes"`
	Price      decimal.Decimal   `json:"price" db:"price"`
	Stock      int               `json:"stock" db:"stock"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// Product is owned by the catalog subsystem. The settlement core only reads
// it, except for the derived stock columns which it writes back after
// appending movements. When HasVariants is set, Price and Stock are derived
// aggregates over the variants.
type Product struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	CompanyID      uuid.UUID       `json:"company_id" db:"company_id"`
	Name           string          `json:"name" db:"name"`
	Price          decimal.Decimal `json:"price" db:"price"`
	OnSale         bool            `json:"on_sale" db:"on_sale"`
	SalePercentage decimal.Decimal `json:"sale_percentage" db:"sale_percentage"`
	HasVariants    bool            `json:"has_variants" db:"has_variants"`
	Stock          int             `json:"stock" db:"stock"`
	Variants       []Variant       `json:"variants,omitempty" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// VariantByID returns the variant with the given id, or nil.
func (p *Product) VariantByID(id uuid.UUID) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}
