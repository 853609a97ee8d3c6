package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mstepanov-dev/storefront-core/internal/catalog"
	"github.com/mstepanov-dev/storefront-core/internal/db"
	"github.com/mstepanov-dev/storefront-core/internal/promotion"
	"github.com/mstepanov-dev/storefront-core/internal/stock"
	"github.com/rs/zerolog/log"
)

// Repository owns the atomic units of settlement. Every method that writes
// runs a single transaction covering stock validation, coupon usage, and all
// record creation, so partial completion is never observable.
type Repository interface {
	CreatePending(ctx context.Context, p *PendingOrder) error
	PendingByTransactionID(ctx context.Context, transactionID string) (*PendingOrder, error)
	FinalizeSuccess(ctx context.Context, transactionID, gatewayName, actorID string, payload json.RawMessage) (*Order, error)
	FinalizeFailure(ctx context.Context, transactionID, gatewayName string, outcome Outcome, payload json.RawMessage) (*PendingOrder, error)
	CreateCOD(ctx context.Context, o *Order, transactionID, actorID string) error
	ConfirmCODPayment(ctx context.Context, orderID uuid.UUID) (*Order, error)
	OrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// lineRef is the common shape of a stock-affecting line across pending
// snapshots and order items.
type lineRef struct {
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	ProductName string
	Quantity    int
}

func pendingLines(items []PendingItem) []lineRef {
	out := make([]lineRef, 0, len(items))
	for _, it := range items {
		out = append(out, lineRef{ProductID: it.ProductID, VariantID: it.VariantID, ProductName: it.ProductName, Quantity: it.Quantity})
	}
	return out
}

func orderLines(items []OrderItem) []lineRef {
	out := make([]lineRef, 0, len(items))
	for _, it := range items {
		out = append(out, lineRef{ProductID: it.ProductID, VariantID: it.VariantID, ProductName: it.ProductName, Quantity: it.Quantity})
	}
	return out
}

func productIDs(lines []lineRef) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// validateLines re-checks availability inside the transaction, after the
// product rows are locked. The pre-flight check outside the transaction
// exists only to fail fast; this one is the authoritative check that makes
// oversell impossible.
func validateLines(ctx context.Context, q db.Querier, lines []lineRef) error {
	ledger := stock.NewPostgresLedger(q)
	type stockKey struct {
		product uuid.UUID
		variant uuid.UUID
	}
	requested := make(map[stockKey]int, len(lines))
	for _, l := range lines {
		k := stockKey{product: l.ProductID}
		if l.VariantID != nil {
			k.variant = *l.VariantID
		}
		requested[k] += l.Quantity

		available, err := ledger.AvailableStock(ctx, l.ProductID, l.VariantID)
		if err != nil {
			return err
		}
		if available < requested[k] {
			return &InsufficientStockError{ProductName: l.ProductName, Available: available, Requested: requested[k]}
		}
	}
	return nil
}

// applySaleMovements appends one SALE movement per line and writes the
// derived stock back to the catalog, all on the supplied transaction.
func applySaleMovements(ctx context.Context, q db.Querier, lines []lineRef, reference, actorID string) error {
	ledger := stock.NewPostgresLedger(q)
	for _, l := range lines {
		available, err := ledger.AvailableStock(ctx, l.ProductID, l.VariantID)
		if err != nil {
			return err
		}
		_, err = ledger.Record(ctx, &stock.Movement{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Type:      stock.TypeSale,
			Quantity:  l.Quantity,
			Reference: reference,
			ActorID:   actorID,
		})
		if err != nil {
			return err
		}

		remaining := available - l.Quantity
		if l.VariantID != nil {
			err = catalog.SetVariantStock(ctx, q, l.ProductID, *l.VariantID, remaining)
		} else {
			err = catalog.SetProductStock(ctx, q, l.ProductID, remaining)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CreatePending writes the pending order and reserves the coupon use in one
// transaction. No order, item, movement, or payment row exists yet.
func (r *PostgresRepository) CreatePending(ctx context.Context, p *PendingOrder) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		lines := pendingLines(p.Items)
		if err := catalog.LockProducts(ctx, tx, productIDs(lines)); err != nil {
			return err
		}
		if err := validateLines(ctx, tx, lines); err != nil {
			return err
		}
		if p.CouponID != nil {
			if err := promotion.NewPostgresRepository(tx).IncrementUsage(ctx, *p.CouponID); err != nil {
				return err
			}
		}

		destination, err := json.Marshal(p.Destination)
		if err != nil {
			return fmt.Errorf("repository: failed to marshal destination: %w", err)
		}
		items, err := json.Marshal(p.Items)
		if err != nil {
			return fmt.Errorf("repository: failed to marshal pending items: %w", err)
		}

		p.Status = PendingActive
		p.CreatedAt = time.Now().UTC()
		query := `
			INSERT INTO pending_orders (id, transaction_id, customer_id, destination, items, subtotal,
			                            shipping_cost, discount, total, status, coupon_id, shipping_charge_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		_, err = tx.Exec(ctx, query,
			p.ID, p.TransactionID, p.CustomerID, destination, items,
			p.Subtotal, p.ShippingCost, p.Discount, p.Total,
			string(p.Status), p.CouponID, p.ShippingChargeID, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert pending order %s: %w", p.TransactionID, err)
		}
		return nil
	})
}

const pendingColumns = `id, transaction_id, customer_id, destination, items, subtotal,
	shipping_cost, discount, total, status, coupon_id, shipping_charge_id, created_at`

func scanPending(row pgx.Row) (*PendingOrder, error) {
	var p PendingOrder
	var destination, items []byte
	err := row.Scan(
		&p.ID, &p.TransactionID, &p.CustomerID, &destination, &items,
		&p.Subtotal, &p.ShippingCost, &p.Discount, &p.Total,
		&p.Status, &p.CouponID, &p.ShippingChargeID, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPendingOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to scan pending order: %w", err)
	}
	if err := json.Unmarshal(destination, &p.Destination); err != nil {
		return nil, fmt.Errorf("repository: failed to unmarshal destination: %w", err)
	}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("repository: failed to unmarshal pending items: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) PendingByTransactionID(ctx context.Context, transactionID string) (*PendingOrder, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_orders WHERE transaction_id = $1`
	return scanPending(r.pool.QueryRow(ctx, query, transactionID))
}

// lockPending selects the pending order FOR UPDATE. The row is the
// idempotency key for finalize: a missing row means an earlier callback
// already settled this transaction.
func lockPending(ctx context.Context, tx pgx.Tx, transactionID string) (*PendingOrder, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_orders WHERE transaction_id = $1 FOR UPDATE`
	return scanPending(tx.QueryRow(ctx, query, transactionID))
}

// FinalizeSuccess converts the pending order into the durable records in one
// atomic unit: order, items, success payment, SALE movements, derived stock
// writeback, and the pending row deletion. Stock is not re-validated here —
// the customer's payment already succeeded, and the ledger accepts the
// movements regardless (the initiate-time validation is the gate).
func (r *PostgresRepository) FinalizeSuccess(ctx context.Context, transactionID, gatewayName, actorID string, payload json.RawMessage) (*Order, error) {
	var order *Order
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPending(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		lines := pendingLines(p.Items)
		if err := catalog.LockProducts(ctx, tx, productIDs(lines)); err != nil {
			return err
		}

		o := &Order{
			CustomerID:       p.CustomerID,
			Destination:      p.Destination,
			Subtotal:         p.Subtotal,
			ShippingCost:     p.ShippingCost,
			Discount:         p.Discount,
			FinalAmount:      p.Total,
			PaymentStatus:    PaymentPaid,
			Status:           OrderStatusProcessing,
			CouponID:         p.CouponID,
			ShippingChargeID: p.ShippingChargeID,
		}
		o.Items = make([]OrderItem, 0, len(p.Items))
		for _, it := range p.Items {
			o.Items = append(o.Items, OrderItem{
				ProductID:   it.ProductID,
				VariantID:   it.VariantID,
				ProductName: it.ProductName,
				VariantName: it.VariantName,
				Attributes:  it.Attributes,
				UnitPrice:   it.UnitPrice,
				Quantity:    it.Quantity,
			})
		}
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := insertPayment(ctx, tx, &PaymentTransaction{
			OrderID:       &o.ID,
			TransactionID: transactionID,
			Gateway:       gatewayName,
			Amount:        p.Total,
			Status:        TxnSuccess,
			Metadata:      payload,
		}); err != nil {
			return err
		}
		if err := applySaleMovements(ctx, tx, lines, o.ID.String(), actorID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pending_orders WHERE id = $1`, p.ID); err != nil {
			return fmt.Errorf("repository: failed to delete pending order %s: %w", transactionID, err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// FinalizeFailure records the gateway's fail/cancel verdict and retires the
// pending order. No order or movement is created, and the coupon use
// reserved at initiate stays spent.
func (r *PostgresRepository) FinalizeFailure(ctx context.Context, transactionID, gatewayName string, outcome Outcome, payload json.RawMessage) (*PendingOrder, error) {
	status := PendingFailed
	txnStatus := TxnFailed
	if outcome == OutcomeCancel {
		status = PendingCancelled
		txnStatus = TxnCancelled
	}

	var pending *PendingOrder
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPending(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE pending_orders SET status = $1 WHERE id = $2`, string(status), p.ID); err != nil {
			return fmt.Errorf("repository: failed to update pending order %s status: %w", transactionID, err)
		}
		p.Status = status

		if err := insertPayment(ctx, tx, &PaymentTransaction{
			TransactionID: transactionID,
			Gateway:       gatewayName,
			Amount:        p.Total,
			Status:        txnStatus,
			Metadata:      payload,
		}); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pending_orders WHERE id = $1`, p.ID); err != nil {
			return fmt.Errorf("repository: failed to delete pending order %s: %w", transactionID, err)
		}
		pending = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// CreateCOD settles a cash-on-delivery order in one transaction: stock is
// validated under row locks and decremented at placement, the coupon use is
// reserved, and the payment row starts pending until delivery confirmation.
// Any failure rolls everything back, including the coupon increment.
func (r *PostgresRepository) CreateCOD(ctx context.Context, o *Order, transactionID, actorID string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		lines := orderLines(o.Items)
		if err := catalog.LockProducts(ctx, tx, productIDs(lines)); err != nil {
			return err
		}
		if err := validateLines(ctx, tx, lines); err != nil {
			return err
		}
		if o.CouponID != nil {
			if err := promotion.NewPostgresRepository(tx).IncrementUsage(ctx, *o.CouponID); err != nil {
				return err
			}
		}
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := insertPayment(ctx, tx, &PaymentTransaction{
			OrderID:       &o.ID,
			TransactionID: transactionID,
			Gateway:       GatewayCOD,
			Amount:        o.FinalAmount,
			Status:        TxnPending,
		}); err != nil {
			return err
		}
		return applySaleMovements(ctx, tx, lines, o.ID.String(), actorID)
	})
}

// ConfirmCODPayment flips the order to PAID/COMPLETED and the cash payment
// row to success together.
func (r *PostgresRepository) ConfirmCODPayment(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET payment_status = $1, status = $2, updated_at = now()
			WHERE id = $3
		`, string(PaymentPaid), string(OrderStatusCompleted), orderID)
		if err != nil {
			return fmt.Errorf("repository: failed to update order %s payment status: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE payment_transactions SET status = $1
			WHERE order_id = $2 AND gateway = $3 AND status = $4
		`, string(TxnSuccess), orderID, GatewayCOD, string(TxnPending))
		if err != nil {
			return fmt.Errorf("repository: failed to update payment transaction for order %s: %w", orderID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.OrderByID(ctx, orderID)
}

func (r *PostgresRepository) OrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `
		SELECT id, customer_id, destination, subtotal, shipping_cost, discount, final_amount,
		       payment_status, status, coupon_id, shipping_charge_id, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	var o Order
	var destination []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.CustomerID, &destination, &o.Subtotal, &o.ShippingCost, &o.Discount, &o.FinalAmount,
		&o.PaymentStatus, &o.Status, &o.CouponID, &o.ShippingChargeID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", id, err)
	}
	if err := json.Unmarshal(destination, &o.Destination); err != nil {
		return nil, fmt.Errorf("repository: failed to unmarshal destination for order %s: %w", id, err)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, variant_id, product_name, variant_name, attributes, unit_price, quantity, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, itemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items for order %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		var attributes []byte
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.ProductName,
			&it.VariantName, &attributes, &it.UnitPrice, &it.Quantity, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan item for order %s: %w", id, err)
		}
		if len(attributes) > 0 {
			if err := json.Unmarshal(attributes, &it.Attributes); err != nil {
				return nil, fmt.Errorf("repository: failed to unmarshal item attributes for order %s: %w", id, err)
			}
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating items for order %s: %w", id, err)
	}

	return &o, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	destination, err := json.Marshal(o.Destination)
	if err != nil {
		return fmt.Errorf("repository: failed to marshal destination: %w", err)
	}

	query := `
		INSERT INTO orders (id, customer_id, destination, subtotal, shipping_cost, discount, final_amount,
		                    payment_status, status, coupon_id, shipping_charge_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		o.ID, o.CustomerID, destination, o.Subtotal, o.ShippingCost, o.Discount, o.FinalAmount,
		string(o.PaymentStatus), string(o.Status), o.CouponID, o.ShippingChargeID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, variant_name, attributes, unit_price, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i := range o.Items {
		it := &o.Items[i]
		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		it.ID = itemID
		it.OrderID = o.ID
		it.CreatedAt = now

		attributes, err := json.Marshal(it.Attributes)
		if err != nil {
			return fmt.Errorf("repository: failed to marshal item attributes: %w", err)
		}
		_, err = tx.Exec(ctx, itemQuery,
			it.ID, it.OrderID, it.ProductID, it.VariantID, it.ProductName,
			it.VariantName, attributes, it.UnitPrice, it.Quantity, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}
	return nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, p *PaymentTransaction) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate payment transaction ID: %w", err)
	}
	p.ID = id
	p.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO payment_transactions (id, order_id, transaction_id, gateway, amount, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, query,
		p.ID, p.OrderID, p.TransactionID, p.Gateway, p.Amount, string(p.Status), []byte(p.Metadata), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment transaction %s: %w", p.TransactionID, err)
	}
	return nil
}
