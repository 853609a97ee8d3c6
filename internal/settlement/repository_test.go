package settlement_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mstepanov-dev/storefront-core/internal/promotion"
	"github.com/mstepanov-dev/storefront-core/internal/settlement"
	"github.com/mstepanov-dev/storefront-core/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestMain(m *testing.M) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		envOr("DB_HOST", "localhost"), envOr("DB_PORT", "5432"), envOr("DB_USER", "postgres"),
		envOr("DB_PASSWORD", "123456"), envOr("DB_NAME", "storefront_test"), envOr("DB_SSLMODE", "disable"))

	var err error
	testDB, err = pgxpool.New(context.Background(), connStr)
	if err == nil {
		err = testDB.Ping(context.Background())
	}
	if err != nil {
		log.Printf("Skipping repository tests, test database unreachable: %v", err)
		os.Exit(0)
	}

	exitCode := m.Run()

	testDB.Close()

	os.Exit(exitCode)
}

func setupRepo(t *testing.T) *settlement.PostgresRepository {
	t.Helper()
	truncate := func() {
		_, err := testDB.Exec(context.Background(), `
			TRUNCATE TABLE audit_logs, payment_transactions, order_items, orders, pending_orders,
			               stock_movements, special_offer_products, special_offers, coupons,
			               product_variants, products, shipping_charges, addresses
			RESTART IDENTITY CASCADE
		`)
		if err != nil {
			t.Fatalf("Failed to truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)

	return settlement.NewPostgresRepository(testDB)
}

func seedProduct(t *testing.T, initialStock int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	_, err := testDB.Exec(ctx, `
		INSERT INTO products (id, company_id, name, price, stock)
		VALUES ($1, $2, 'Desk Lamp', 100.00, $3)
	`, id, uuid.Must(uuid.NewV4()), initialStock)
	require.NoError(t, err)

	if initialStock > 0 {
		ledger := stock.NewPostgresLedger(testDB)
		_, err = ledger.Record(ctx, &stock.Movement{
			ProductID: id,
			Type:      stock.TypePurchase,
			Quantity:  initialStock,
			Reference: "seed",
		})
		require.NoError(t, err)
	}
	return id
}

func seedCharge(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO shipping_charges (id, name, amount, is_active)
		VALUES ($1, 'standard', 20.00, true)
	`, id)
	require.NoError(t, err)
	return id
}

func seedCoupon(t *testing.T, usageLimit int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO coupons (id, code, discount_type, discount_amount, start_date, end_date, usage_limit)
		VALUES ($1, 'SAVE10', 'percentage', 10.00, now() - interval '1 day', now() + interval '1 day', $2)
	`, id, usageLimit)
	require.NoError(t, err)
	return id
}

func codOrder(productID, chargeID uuid.UUID, quantity int) *settlement.Order {
	unit := decimal.NewFromInt(100)
	subtotal := unit.Mul(decimal.NewFromInt(int64(quantity)))
	shipping := decimal.NewFromInt(20)
	return &settlement.Order{
		Destination:      settlement.Destination{Recipient: "Alex Doe", Line1: "1 Main St", City: "Springfield"},
		Items:            []settlement.OrderItem{{ProductID: productID, ProductName: "Desk Lamp", UnitPrice: unit, Quantity: quantity}},
		Subtotal:         subtotal,
		ShippingCost:     shipping,
		Discount:         decimal.Zero,
		FinalAmount:      subtotal.Add(shipping),
		PaymentStatus:    settlement.PaymentPending,
		Status:           settlement.OrderStatusPending,
		ShippingChargeID: chargeID,
	}
}

func pendingOrder(productID, chargeID uuid.UUID, quantity int) *settlement.PendingOrder {
	unit := decimal.NewFromInt(100)
	subtotal := unit.Mul(decimal.NewFromInt(int64(quantity)))
	shipping := decimal.NewFromInt(20)
	return &settlement.PendingOrder{
		ID:               uuid.Must(uuid.NewV4()),
		TransactionID:    uuid.Must(uuid.NewV4()).String(),
		Destination:      settlement.Destination{Recipient: "Alex Doe", Line1: "1 Main St", City: "Springfield"},
		Items:            []settlement.PendingItem{{ProductID: productID, ProductName: "Desk Lamp", UnitPrice: unit, Quantity: quantity}},
		Subtotal:         subtotal,
		ShippingCost:     shipping,
		Discount:         decimal.Zero,
		Total:            subtotal.Add(shipping),
		ShippingChargeID: chargeID,
	}
}

func TestPostgresRepository_CreateCOD(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 5)
	chargeID := seedCharge(t)

	order := codOrder(productID, chargeID, 2)
	err := repo.CreateCOD(ctx, order, uuid.Must(uuid.NewV4()).String(), "guest")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, order.ID)

	saved, err := repo.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, saved.FinalAmount.Equal(decimal.NewFromInt(220)), "final amount %s", saved.FinalAmount)
	assert.Equal(t, settlement.PaymentPending, saved.PaymentStatus)
	require.Len(t, saved.Items, 1)
	assert.Equal(t, 2, saved.Items[0].Quantity)

	// The sale shows up in the ledger and the derived stock column.
	ledger := stock.NewPostgresLedger(testDB)
	available, err := ledger.AvailableStock(ctx, productID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, available)

	var derived int
	err = testDB.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&derived)
	require.NoError(t, err)
	assert.Equal(t, 3, derived)

	var paymentStatus string
	err = testDB.QueryRow(ctx, `SELECT status FROM payment_transactions WHERE order_id = $1 AND gateway = 'cod'`, order.ID).Scan(&paymentStatus)
	require.NoError(t, err)
	assert.Equal(t, "pending", paymentStatus)
}

func TestPostgresRepository_CreateCOD_InsufficientStock(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 1)
	chargeID := seedCharge(t)

	err := repo.CreateCOD(ctx, codOrder(productID, chargeID, 2), uuid.Must(uuid.NewV4()).String(), "guest")

	var stockErr *settlement.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)

	// Nothing may survive the rollback.
	var orders int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Equal(t, 0, orders)

	var sales int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM stock_movements WHERE type = 'SALE'`).Scan(&sales))
	assert.Equal(t, 0, sales)
}

func TestPostgresRepository_CreateCOD_RollsBackAfterPartialWrites(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 5)
	chargeID := seedCharge(t)
	couponID := seedCoupon(t, 1)

	// A zero-quantity line slips past availability validation but trips the
	// order_items quantity check, failing the transaction after the coupon
	// increment and the order row have already been written.
	order := codOrder(productID, chargeID, 2)
	order.CouponID = &couponID
	order.Items = append(order.Items, settlement.OrderItem{
		ProductID:   productID,
		ProductName: "Desk Lamp",
		UnitPrice:   decimal.NewFromInt(100),
		Quantity:    0,
	})

	err := repo.CreateCOD(ctx, order, uuid.Must(uuid.NewV4()).String(), "guest")
	require.Error(t, err)

	// Everything written before the failure must be rolled back.
	for _, table := range []string{"orders", "order_items", "payment_transactions"} {
		var count int
		require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&count))
		assert.Equal(t, 0, count, "%s must be empty after rollback", table)
	}

	var sales int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM stock_movements WHERE type = 'SALE'`).Scan(&sales))
	assert.Equal(t, 0, sales)

	var used int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT used_count FROM coupons WHERE id = $1`, couponID).Scan(&used))
	assert.Equal(t, 0, used, "coupon increment must roll back with the order")

	ledger := stock.NewPostgresLedger(testDB)
	available, err := ledger.AvailableStock(ctx, productID, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestPostgresRepository_CreateCOD_DuplicateLinesShareBalance(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 5)
	chargeID := seedCharge(t)

	order := codOrder(productID, chargeID, 3)
	order.Items = append(order.Items, settlement.OrderItem{
		ProductID:   productID,
		ProductName: "Desk Lamp",
		UnitPrice:   decimal.NewFromInt(100),
		Quantity:    3,
	})

	err := repo.CreateCOD(ctx, order, uuid.Must(uuid.NewV4()).String(), "guest")

	var stockErr *settlement.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 6, stockErr.Requested)

	ledger := stock.NewPostgresLedger(testDB)
	available, err := ledger.AvailableStock(ctx, productID, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestPostgresRepository_CouponLimitIsAtomic(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 10)
	chargeID := seedCharge(t)
	couponID := seedCoupon(t, 1)

	first := pendingOrder(productID, chargeID, 1)
	first.CouponID = &couponID
	require.NoError(t, repo.CreatePending(ctx, first))

	second := pendingOrder(productID, chargeID, 1)
	second.CouponID = &couponID
	err := repo.CreatePending(ctx, second)
	assert.ErrorIs(t, err, promotion.ErrCouponExhausted)

	// The losing attempt must not leave a pending order behind.
	var pendings int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM pending_orders`).Scan(&pendings))
	assert.Equal(t, 1, pendings)

	var used int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT used_count FROM coupons WHERE id = $1`, couponID).Scan(&used))
	assert.Equal(t, 1, used)
}

func TestPostgresRepository_FinalizeSuccess_Idempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 5)
	chargeID := seedCharge(t)

	pending := pendingOrder(productID, chargeID, 2)
	require.NoError(t, repo.CreatePending(ctx, pending))

	order, err := repo.FinalizeSuccess(ctx, pending.TransactionID, "flexipay", "gateway", []byte(`{"bank":"ok"}`))
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, settlement.PaymentPaid, order.PaymentStatus)
	assert.Equal(t, settlement.OrderStatusProcessing, order.Status)

	// Replay: the pending row is gone, so the callback is a no-op.
	_, err = repo.FinalizeSuccess(ctx, pending.TransactionID, "flexipay", "gateway", []byte(`{"bank":"ok"}`))
	assert.ErrorIs(t, err, settlement.ErrPendingOrderNotFound)

	var orders int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Equal(t, 1, orders)

	var successPayments int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM payment_transactions WHERE status = 'success'`).Scan(&successPayments))
	assert.Equal(t, 1, successPayments)

	ledger := stock.NewPostgresLedger(testDB)
	available, err := ledger.AvailableStock(ctx, productID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, available, "stock decremented exactly once")
}

func TestPostgresRepository_FinalizeFailure(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 5)
	chargeID := seedCharge(t)

	pending := pendingOrder(productID, chargeID, 2)
	require.NoError(t, repo.CreatePending(ctx, pending))

	retired, err := repo.FinalizeFailure(ctx, pending.TransactionID, "flexipay", settlement.OutcomeFail, []byte(`{"reason":"declined"}`))
	require.NoError(t, err)
	assert.Equal(t, settlement.PendingFailed, retired.Status)

	var orders int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Equal(t, 0, orders)

	var pendings int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM pending_orders`).Scan(&pendings))
	assert.Equal(t, 0, pendings)

	// No sale happened, stock stays untouched.
	ledger := stock.NewPostgresLedger(testDB)
	available, err := ledger.AvailableStock(ctx, productID, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, available)

	var failedPayments int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT count(*) FROM payment_transactions WHERE status = 'failed'`).Scan(&failedPayments))
	assert.Equal(t, 1, failedPayments)
}

func TestPostgresRepository_ConfirmCODPayment(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 5)
	chargeID := seedCharge(t)

	order := codOrder(productID, chargeID, 1)
	require.NoError(t, repo.CreateCOD(ctx, order, uuid.Must(uuid.NewV4()).String(), "guest"))

	confirmed, err := repo.ConfirmCODPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PaymentPaid, confirmed.PaymentStatus)
	assert.Equal(t, settlement.OrderStatusCompleted, confirmed.Status)

	var paymentStatus string
	err = testDB.QueryRow(ctx, `SELECT status FROM payment_transactions WHERE order_id = $1 AND gateway = 'cod'`, order.ID).Scan(&paymentStatus)
	require.NoError(t, err)
	assert.Equal(t, "success", paymentStatus)
}

func TestPostgresRepository_ConfirmCODPayment_NotFound(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.ConfirmCODPayment(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, settlement.ErrOrderNotFound)
}

func TestPostgresRepository_ConcurrentCOD_NoOversell(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	productID := seedProduct(t, 3)
	chargeID := seedCharge(t)

	// Two concurrent orders for 2 units each against stock 3: exactly one
	// may win, the loser fails validation under the row lock.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- repo.CreateCOD(ctx, codOrder(productID, chargeID, 2), uuid.Must(uuid.NewV4()).String(), "guest")
		}()
	}

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			var stockErr *settlement.InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two competing orders may fail")

	ledger := stock.NewPostgresLedger(testDB)
	available, err := ledger.AvailableStock(ctx, productID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, available)
}
