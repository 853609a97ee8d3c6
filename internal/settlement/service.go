package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mstepanov-dev/storefront-core/internal/audit"
	"github.com/mstepanov-dev/storefront-core/internal/catalog"
	"github.com/mstepanov-dev/storefront-core/internal/promotion"
	"github.com/mstepanov-dev/storefront-core/internal/shipping"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type PromotionReader interface {
	CouponByCode(ctx context.Context, code string) (*promotion.Coupon, error)
	ActiveOffers(ctx context.Context, companyIDs []uuid.UUID, now time.Time) ([]promotion.SpecialOffer, error)
}

type StockReader interface {
	AvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, error)
}

type ShippingReader interface {
	ChargeByID(ctx context.Context, id uuid.UUID) (*shipping.Charge, error)
}

type AddressReader interface {
	DestinationByID(ctx context.Context, addressID, customerID uuid.UUID) (*Destination, error)
}

type Redirector interface {
	Name() string
	PaymentURL(transactionID string, amount decimal.Decimal) string
}

type EventPublisher interface {
	OrderCreated(ctx context.Context, o *Order)
}

type Deps struct {
	Repo      Repository
	Catalog   catalog.Repository
	Promos    PromotionReader
	Stock     StockReader
	Shipping  ShippingReader
	Addresses AddressReader
	Gateway   Redirector
	Audit     *audit.BestEffort
	Events    EventPublisher
	Now       func() time.Time
}

// Service drives checkout through the two settlement paths. Pre-flight
// validation happens here against live reads; the repository repeats the
// race-sensitive checks under row locks inside its transaction.
type Service struct {
	repo      Repository
	catalog   catalog.Repository
	promos    PromotionReader
	stock     StockReader
	shipping  ShippingReader
	addresses AddressReader
	gateway   Redirector
	audit     *audit.BestEffort
	events    EventPublisher
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:      d.Repo,
		catalog:   d.Catalog,
		promos:    d.Promos,
		stock:     d.Stock,
		shipping:  d.Shipping,
		addresses: d.Addresses,
		gateway:   d.Gateway,
		audit:     d.Audit,
		events:    d.Events,
		now:       d.Now,
	}
}

// destinationSource abstracts where the shipping target comes from, so the
// two checkout flavors share one code path instead of branching on "is there
// a customer id" everywhere.
type destinationSource interface {
	resolve(ctx context.Context) (*Destination, error)
}

type guestSource struct {
	info *GuestInfo
}

func (g guestSource) resolve(context.Context) (*Destination, error) {
	if g.info.Name == "" || g.info.Line1 == "" || g.info.City == "" {
		return nil, ErrInvalidShippingAddress
	}
	return &Destination{
		Recipient:  g.info.Name,
		Email:      g.info.Email,
		Phone:      g.info.Phone,
		Line1:      g.info.Line1,
		City:       g.info.City,
		PostalCode: g.info.PostalCode,
	}, nil
}

type accountSource struct {
	addresses  AddressReader
	customerID uuid.UUID
	addressID  uuid.UUID
}

func (a accountSource) resolve(ctx context.Context) (*Destination, error) {
	d, err := a.addresses.DestinationByID(ctx, a.addressID, a.customerID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) destinationSource(req *CheckoutRequest) (destinationSource, error) {
	switch {
	case req.Guest != nil:
		return guestSource{info: req.Guest}, nil
	case req.CustomerID != nil && req.AddressID != nil:
		return accountSource{addresses: s.addresses, customerID: *req.CustomerID, addressID: *req.AddressID}, nil
	default:
		return nil, ErrInvalidShippingAddress
	}
}

// quote is the priced cart coming out of pre-flight validation; nothing has
// been written when it is produced.
type quote struct {
	destination Destination
	items       []PendingItem
	subtotal    decimal.Decimal
	shipping    decimal.Decimal
	discount    decimal.Decimal
	total       decimal.Decimal
	coupon      *promotion.Coupon
	charge      *shipping.Charge
}

func (s *Service) preflight(ctx context.Context, req *CheckoutRequest) (*quote, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("service: %w", ErrEmptyCart)
	}
	now := s.now()

	source, err := s.destinationSource(req)
	if err != nil {
		return nil, err
	}
	destination, err := source.resolve(ctx)
	if err != nil {
		return nil, err
	}

	charge, err := s.shipping.ChargeByID(ctx, req.ShippingChargeID)
	if err != nil {
		return nil, err
	}

	products := make(map[uuid.UUID]*catalog.Product, len(req.Lines))
	companySet := make(map[uuid.UUID]struct{})
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("service: quantity for product %s must be greater than zero", line.ProductID)
		}
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		p, err := s.catalog.ProductByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		products[line.ProductID] = p
		companySet[p.CompanyID] = struct{}{}
	}

	companyIDs := make([]uuid.UUID, 0, len(companySet))
	for id := range companySet {
		companyIDs = append(companyIDs, id)
	}
	offers, err := s.promos.ActiveOffers(ctx, companyIDs, now)
	if err != nil {
		return nil, err
	}

	// Duplicate lines for the same product or variant draw from one balance,
	// so availability is checked against the running total per key.
	type stockKey struct {
		product uuid.UUID
		variant uuid.UUID
	}
	requested := make(map[stockKey]int, len(req.Lines))

	q := &quote{destination: *destination, shipping: charge.Amount, charge: charge}
	for _, line := range req.Lines {
		p := products[line.ProductID]
		discount := promotion.ResolveLineDiscount(p, offers, now)

		item := PendingItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			UnitPrice:   discount.FinalPrice,
		}
		if p.HasVariants {
			if line.VariantID == nil {
				return nil, fmt.Errorf("%w: product %s sells in variants", catalog.ErrVariantNotFound, p.ID)
			}
			v := p.VariantByID(*line.VariantID)
			if v == nil {
				return nil, catalog.ErrVariantNotFound
			}
			item.VariantID = &v.ID
			item.VariantName = v.Name
			item.Attributes = v.Attributes
			item.UnitPrice = discount.Apply(v.Price)
		} else if line.VariantID != nil {
			return nil, catalog.ErrVariantNotFound
		}

		k := stockKey{product: item.ProductID}
		if item.VariantID != nil {
			k.variant = *item.VariantID
		}
		requested[k] += line.Quantity

		available, err := s.stock.AvailableStock(ctx, item.ProductID, item.VariantID)
		if err != nil {
			return nil, err
		}
		if available < requested[k] {
			return nil, &InsufficientStockError{ProductName: p.Name, Available: available, Requested: requested[k]}
		}

		q.items = append(q.items, item)
		q.subtotal = q.subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	if req.CouponCode != "" {
		coupon, err := s.promos.CouponByCode(ctx, req.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("service: failed to look up coupon: %w", err)
		}
		if err := promotion.ValidateCoupon(coupon, q.subtotal, now); err != nil {
			return nil, err
		}
		q.coupon = coupon
		q.discount = promotion.CouponDiscount(coupon, q.subtotal)
	}

	q.total = q.subtotal.Add(q.shipping).Sub(q.discount)
	if q.total.IsNegative() {
		// A fixed coupon can exceed the cart; the order never goes below zero.
		q.discount = q.subtotal.Add(q.shipping)
		q.total = decimal.Zero
	}

	return q, nil
}

func actorFor(req *CheckoutRequest) string {
	if req.CustomerID != nil {
		return req.CustomerID.String()
	}
	return "guest"
}

// InitiateGatewayCheckout validates the cart, reserves the coupon use, and
// parks the priced cart as a pending order keyed by a fresh transaction id.
// The coupon use is reserved before payment completes on purpose: it keeps
// the code from being raced past its limit, at the cost of a burned use when
// the customer abandons the payment page.
func (s *Service) InitiateGatewayCheckout(ctx context.Context, req *CheckoutRequest) (*PendingOrder, string, error) {
	q, err := s.preflight(ctx, req)
	if err != nil {
		return nil, "", err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, "", fmt.Errorf("service: failed to generate pending order ID: %w", err)
	}
	transactionID, err := uuid.NewV4()
	if err != nil {
		return nil, "", fmt.Errorf("service: failed to generate transaction ID: %w", err)
	}

	pending := &PendingOrder{
		ID:               id,
		TransactionID:    transactionID.String(),
		CustomerID:       req.CustomerID,
		Destination:      q.destination,
		Items:            q.items,
		Subtotal:         q.subtotal,
		ShippingCost:     q.shipping,
		Discount:         q.discount,
		Total:            q.total,
		ShippingChargeID: req.ShippingChargeID,
	}
	if q.coupon != nil {
		pending.CouponID = &q.coupon.ID
	}

	if err := s.repo.CreatePending(ctx, pending); err != nil {
		if errors.Is(err, promotion.ErrCouponExhausted) {
			return nil, "", fmt.Errorf("%w: usage limit reached", promotion.ErrInvalidCoupon)
		}
		log.Error().Err(err).Str("transaction_id", pending.TransactionID).Msg("service: failed to create pending order")
		return nil, "", err
	}

	s.audit.Record(ctx, audit.Entry{
		TableName: "pending_orders",
		RecordID:  pending.TransactionID,
		Action:    audit.ActionCreate,
		New:       pending,
		ChangedBy: actorFor(req),
	})
	log.Info().Str("transaction_id", pending.TransactionID).Stringer("total", pending.Total).Msg("service: gateway checkout initiated")

	return pending, s.gateway.PaymentURL(pending.TransactionID, pending.Total), nil
}

// FinalizeGateway processes the gateway callback. It may be invoked more
// than once for the same transaction id; replays converge on "order exists
// exactly once" and report success. A nil order with a nil error means the
// transaction was already finalized.
func (s *Service) FinalizeGateway(ctx context.Context, transactionID string, outcome Outcome, payload json.RawMessage) (*Order, error) {
	switch outcome {
	case OutcomeSuccess:
		order, err := s.repo.FinalizeSuccess(ctx, transactionID, s.gateway.Name(), "gateway", payload)
		if err != nil {
			if errors.Is(err, ErrPendingOrderNotFound) {
				log.Info().Str("transaction_id", transactionID).Msg("service: finalize replay, pending order already settled")
				return nil, nil
			}
			log.Error().Err(err).Str("transaction_id", transactionID).Msg("service: failed to finalize gateway payment")
			return nil, err
		}

		s.audit.Record(ctx, audit.Entry{
			TableName: "orders",
			RecordID:  order.ID.String(),
			Action:    audit.ActionCreate,
			New:       order,
			ChangedBy: "gateway",
		})
		if s.events != nil {
			s.events.OrderCreated(ctx, order)
		}
		log.Info().Str("transaction_id", transactionID).Stringer("order_id", order.ID).Msg("service: gateway order settled")
		return order, nil

	case OutcomeFail, OutcomeCancel:
		pending, err := s.repo.FinalizeFailure(ctx, transactionID, s.gateway.Name(), outcome, payload)
		if err != nil {
			if errors.Is(err, ErrPendingOrderNotFound) {
				log.Info().Str("transaction_id", transactionID).Msg("service: finalize replay, pending order already settled")
				return nil, nil
			}
			log.Error().Err(err).Str("transaction_id", transactionID).Msg("service: failed to record gateway failure")
			return nil, err
		}

		s.audit.Record(ctx, audit.Entry{
			TableName: "pending_orders",
			RecordID:  transactionID,
			Action:    audit.ActionDelete,
			Previous:  pending,
			ChangedBy: "gateway",
		})
		log.Info().Str("transaction_id", transactionID).Str("status", string(pending.Status)).Msg("service: gateway checkout closed without order")
		return nil, nil

	default:
		return nil, fmt.Errorf("service: unknown gateway outcome %q", outcome)
	}
}

// CreateCODOrder settles a cash-on-delivery checkout in a single phase:
// stock is decremented at order placement, not at delivery confirmation.
func (s *Service) CreateCODOrder(ctx context.Context, req *CheckoutRequest) (*Order, error) {
	q, err := s.preflight(ctx, req)
	if err != nil {
		return nil, err
	}

	order := &Order{
		CustomerID:       req.CustomerID,
		Destination:      q.destination,
		Subtotal:         q.subtotal,
		ShippingCost:     q.shipping,
		Discount:         q.discount,
		FinalAmount:      q.total,
		PaymentStatus:    PaymentPending,
		Status:           OrderStatusPending,
		ShippingChargeID: req.ShippingChargeID,
	}
	if q.coupon != nil {
		order.CouponID = &q.coupon.ID
	}
	order.Items = make([]OrderItem, 0, len(q.items))
	for _, it := range q.items {
		order.Items = append(order.Items, OrderItem{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Attributes:  it.Attributes,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	transactionID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate transaction ID: %w", err)
	}

	if err := s.repo.CreateCOD(ctx, order, transactionID.String(), actorFor(req)); err != nil {
		if errors.Is(err, promotion.ErrCouponExhausted) {
			return nil, fmt.Errorf("%w: usage limit reached", promotion.ErrInvalidCoupon)
		}
		log.Error().Err(err).Msg("service: failed to create COD order")
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		TableName: "orders",
		RecordID:  order.ID.String(),
		Action:    audit.ActionCreate,
		New:       order,
		ChangedBy: actorFor(req),
	})
	if s.events != nil {
		s.events.OrderCreated(ctx, order)
	}
	log.Info().Stringer("order_id", order.ID).Stringer("final_amount", order.FinalAmount).Msg("service: COD order created")

	return order, nil
}

// ConfirmCODPayment marks a cash order collected: payment status PAID, order
// COMPLETED, payment transaction success.
func (s *Service) ConfirmCODPayment(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	previous, err := s.repo.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.ConfirmCODPayment(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to confirm COD payment")
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		TableName: "orders",
		RecordID:  orderID.String(),
		Action:    audit.ActionUpdate,
		Previous:  previous,
		New:       order,
		ChangedBy: "admin",
	})
	log.Info().Stringer("order_id", orderID).Msg("service: COD payment confirmed")
	return order, nil
}

func (s *Service) OrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.OrderByID(ctx, id)
}

// AvailableStock reports the ledger balance for a product or variant.
func (s *Service) AvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, error) {
	p, err := s.catalog.ProductByID(ctx, productID)
	if err != nil {
		return 0, err
	}
	if variantID != nil && (!p.HasVariants || p.VariantByID(*variantID) == nil) {
		return 0, catalog.ErrVariantNotFound
	}
	return s.stock.AvailableStock(ctx, productID, variantID)
}
