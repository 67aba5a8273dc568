package storage

import (
	"context"
	"database/sql"

	"github.com/dshills/orderflow/pkg/types"
)

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// Every operation goes through the transaction's querier. Delegating to the
// outer storage would need a second connection, which the pool does not have.

func (t *sqliteTx) UpsertProduct(ctx context.Context, product *types.Product) error {
	return t.storage.upsertProductWithQuerier(ctx, t.querier(), product)
}

func (t *sqliteTx) GetProduct(ctx context.Context, productID string) (*types.Product, error) {
	return t.storage.getProductWithQuerier(ctx, t.querier(), productID)
}

func (t *sqliteTx) ReserveStock(ctx context.Context, productID string, quantity int) (int, error) {
	return t.storage.reserveStockWithQuerier(ctx, t.querier(), productID, quantity)
}

func (t *sqliteTx) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	return t.storage.releaseStockWithQuerier(ctx, t.querier(), productID, quantity)
}

func (t *sqliteTx) CreateOrder(ctx context.Context, order *types.Order) error {
	return t.storage.createOrderWithQuerier(ctx, t.querier(), order)
}

func (t *sqliteTx) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	return t.storage.getOrderWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) ListOrderLines(ctx context.Context, orderID string) ([]types.OrderLine, error) {
	return t.storage.listOrderLinesWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, int, error) {
	return t.storage.listOrdersWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) AdvanceOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) error {
	return t.storage.advanceOrderStatusWithQuerier(ctx, t.querier(), orderID, from, to)
}

func (t *sqliteTx) MarkOrderPaymentPending(ctx context.Context, orderID string) (bool, error) {
	return t.storage.markOrderPaymentPendingWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) ConfirmOrderPayment(ctx context.Context, orderID string) (bool, error) {
	return t.storage.confirmOrderPaymentWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) CancelOrder(ctx context.Context, orderID string, cancel Cancellation) (bool, error) {
	return t.storage.cancelOrderWithQuerier(ctx, t.querier(), orderID, cancel)
}

func (t *sqliteTx) CreatePayment(ctx context.Context, payment *types.Payment) error {
	return t.storage.createPaymentWithQuerier(ctx, t.querier(), payment)
}

func (t *sqliteTx) GetPayment(ctx context.Context, paymentID string) (*types.Payment, error) {
	return t.storage.getPaymentWithQuerier(ctx, t.querier(), paymentID)
}

func (t *sqliteTx) GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*types.Payment, error) {
	return t.storage.getPaymentByCheckoutIDWithQuerier(ctx, t.querier(), checkoutRequestID)
}

func (t *sqliteTx) GetLivePayment(ctx context.Context, orderID string) (*types.Payment, error) {
	return t.storage.getLivePaymentWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) MarkPaymentPending(ctx context.Context, paymentID, merchantRequestID, checkoutRequestID string) (bool, error) {
	return t.storage.markPaymentPendingWithQuerier(ctx, t.querier(), paymentID, merchantRequestID, checkoutRequestID)
}

func (t *sqliteTx) CompletePayment(ctx context.Context, paymentID string, outcome types.PaymentOutcome) (bool, error) {
	return t.storage.completePaymentWithQuerier(ctx, t.querier(), paymentID, outcome)
}

func (t *sqliteTx) FailPayment(ctx context.Context, paymentID string, outcome types.PaymentOutcome) (bool, error) {
	return t.storage.failPaymentWithQuerier(ctx, t.querier(), paymentID, outcome)
}

func (t *sqliteTx) Ping(ctx context.Context) error {
	var one int
	return t.tx.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errNestedTx
}
