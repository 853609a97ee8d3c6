package settlement

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type OrderPaymentStatus string

const (
	PaymentPending OrderPaymentStatus = "PENDING"
	PaymentPaid    OrderPaymentStatus = "PAID"
)

type PaymentStatus string

const (
	TxnPending   PaymentStatus = "pending"
	TxnSuccess   PaymentStatus = "success"
	TxnFailed    PaymentStatus = "failed"
	TxnCancelled PaymentStatus = "cancelled"
)

type PendingStatus string

const (
	PendingActive    PendingStatus = "pending"
	PendingFailed    PendingStatus = "failed"
	PendingCancelled PendingStatus = "cancelled"
)

// Outcome is the gateway's verdict delivered on the callback.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeCancel  Outcome = "cancel"
)

// GatewayCOD marks cash-on-delivery payment transactions.
const GatewayCOD = "cod"

// Destination is the resolved shipping target — from a stored account
// address or from ad-hoc guest info, decided once at the top of checkout.
type Destination struct {
	Recipient  string `json:"recipient"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
}

// GuestInfo is the ad-hoc destination carried on a guest checkout request.
type GuestInfo struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type CartLine struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity"`
}

// CheckoutRequest is the common input to both settlement paths.
type CheckoutRequest struct {
	CustomerID       *uuid.UUID `json:"customer_id,omitempty"`
	AddressID        *uuid.UUID `json:"address_id,omitempty"`
	Guest            *GuestInfo `json:"guest,omitempty"`
	Lines            []CartLine `json:"lines"`
	CouponCode       string     `json:"coupon_code,omitempty"`
	ShippingChargeID uuid.UUID  `json:"shipping_charge_id"`
}

// OrderItem snapshots product name, unit price, and selected variant
// attributes at time of purchase; later catalog edits never change it.
type OrderItem struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	OrderID     uuid.UUID         `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID         `json:"product_id" db:"product_id"`
	VariantID   *uuid.UUID        `json:"variant_id,omitempty" db:"variant_id"`
	ProductName string            `json:"product_name" db:"product_name"`
	VariantName string            `json:"variant_name,omitempty" db:"variant_name"`
	Attributes  map[string]string `json:"attributes,omitempty" db:"attributes"`
	UnitPrice   decimal.Decimal   `json:"unit_price" db:"unit_price"`
	Quantity    int               `json:"quantity" db:"quantity"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Order is the durable purchase record. FinalAmount = Subtotal +
// ShippingCost − Discount, never negative.
type Order struct {
	ID               uuid.UUID          `json:"id" db:"id"`
	CustomerID       *uuid.UUID         `json:"customer_id,omitempty" db:"customer_id"`
	Destination      Destination        `json:"destination" db:"destination"`
	Items            []OrderItem        `json:"items" db:"-"`
	Subtotal         decimal.Decimal    `json:"subtotal" db:"subtotal"`
	ShippingCost     decimal.Decimal    `json:"shipping_cost" db:"shipping_cost"`
	Discount         decimal.Decimal    `json:"discount" db:"discount"`
	FinalAmount      decimal.Decimal    `json:"final_amount" db:"final_amount"`
	PaymentStatus    OrderPaymentStatus `json:"payment_status" db:"payment_status"`
	Status           OrderStatus        `json:"status" db:"status"`
	CouponID         *uuid.UUID         `json:"coupon_id,omitempty" db:"coupon_id"`
	ShippingChargeID uuid.UUID          `json:"shipping_charge_id" db:"shipping_charge_id"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// PendingItem is the jsonb line snapshot stored on a pending order at
// initiate, so the eventual order items cannot drift if the catalog changes
// while the customer sits on the payment page.
type PendingItem struct {
	ProductID   uuid.UUID         `json:"product_id"`
	VariantID   *uuid.UUID        `json:"variant_id,omitempty"`
	ProductName string            `json:"product_name"`
	VariantName string            `json:"variant_name,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	Quantity    int               `json:"quantity"`
}

// PendingOrder bridges cart submission and the gateway callback. Exactly one
// live row per transaction id; deleted once the callback is processed.
type PendingOrder struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	TransactionID    string          `json:"transaction_id" db:"transaction_id"`
	CustomerID       *uuid.UUID      `json:"customer_id,omitempty" db:"customer_id"`
	Destination      Destination     `json:"destination" db:"destination"`
	Items            []PendingItem   `json:"items" db:"items"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	ShippingCost     decimal.Decimal `json:"shipping_cost" db:"shipping_cost"`
	Discount         decimal.Decimal `json:"discount" db:"discount"`
	Total            decimal.Decimal `json:"total" db:"total"`
	Status           PendingStatus   `json:"status" db:"status"`
	CouponID         *uuid.UUID      `json:"coupon_id,omitempty" db:"coupon_id"`
	ShippingChargeID uuid.UUID       `json:"shipping_charge_id" db:"shipping_charge_id"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

type PaymentTransaction struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrderID       *uuid.UUID      `json:"order_id,omitempty" db:"order_id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	Gateway       string          `json:"gateway" db:"gateway"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Status        PaymentStatus   `json:"status" db:"status"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
