package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/orderflow/pkg/types"
)

// Order operations

const orderColumns = `
	id, buyer_id, seller_id, status, payment_status, total_amount,
	delivery_address, delivery_notes, expected_delivery,
	cancellation_reason, cancelled_by, cancelled_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*types.Order, error) {
	var o types.Order
	var reason, by sql.NullString
	var cancelledAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.Status, &o.PaymentStatus, &o.TotalAmount,
		&o.DeliveryAddress, &o.DeliveryNotes, &o.ExpectedDelivery,
		&reason, &by, &cancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.CancellationReason = reason.String
	o.CancelledBy = by.String
	o.CancelledAt = timePtr(cancelledAt)
	return &o, nil
}

// createOrderWithQuerier inserts the order and its lines. Callers wanting
// all-or-nothing semantics run it inside a transaction.
func (s *SQLiteStorage) createOrderWithQuerier(ctx context.Context, q querier, order *types.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := s.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	query := `
		INSERT INTO orders (
			id, buyer_id, seller_id, status, payment_status, total_amount,
			delivery_address, delivery_notes, expected_delivery, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		order.ID, order.BuyerID, order.SellerID, string(order.Status), string(order.PaymentStatus),
		order.TotalAmount.String(), order.DeliveryAddress, order.DeliveryNotes,
		order.ExpectedDelivery.UTC(), order.CreatedAt.UTC(), order.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	lineQuery := `
		INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price, subtotal, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		line.OrderID = order.ID
		_, err := q.ExecContext(ctx, lineQuery,
			line.ID, line.OrderID, line.ProductID, line.Quantity,
			line.UnitPrice.String(), line.Subtotal.String(), i)
		if err != nil {
			return fmt.Errorf("failed to create order line: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) CreateOrder(ctx context.Context, order *types.Order) error {
	return s.createOrderWithQuerier(ctx, s.querier(), order)
}

// getOrderWithQuerier loads the order together with its lines
func (s *SQLiteStorage) getOrderWithQuerier(ctx context.Context, q querier, orderID string) (*types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	order, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	order.Lines, err = s.listOrderLinesWithQuerier(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *SQLiteStorage) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	return s.getOrderWithQuerier(ctx, s.querier(), orderID)
}

// listOrderLinesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listOrderLinesWithQuerier(ctx context.Context, q querier, orderID string) ([]types.OrderLine, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal
		FROM order_lines
		WHERE order_id = ?
		ORDER BY position
	`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := make([]types.OrderLine, 0)
	for rows.Next() {
		var l types.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLiteStorage) ListOrderLines(ctx context.Context, orderID string) ([]types.OrderLine, error) {
	return s.listOrderLinesWithQuerier(ctx, s.querier(), orderID)
}

// listOrdersWithQuerier returns one page of orders, newest first, and the total match count
func (s *SQLiteStorage) listOrdersWithQuerier(ctx context.Context, q querier, filter OrderFilter) ([]*types.Order, int, error) {
	var where []string
	var args []interface{}
	if filter.PartyID != "" {
		where = append(where, "(buyer_id = ? OR seller_id = ?)")
		args = append(args, filter.PartyID, filter.PartyID)
	}
	if filter.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, filter.SellerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + clause +
		` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	orders := make([]*types.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, 0, err
	}
	// Close before issuing the line queries: the pool has a single connection
	_ = rows.Close()

	for _, o := range orders {
		if o.Lines, err = s.listOrderLinesWithQuerier(ctx, q, o.ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

func (s *SQLiteStorage) ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, int, error) {
	return s.listOrdersWithQuerier(ctx, s.querier(), filter)
}

// advanceOrderStatusWithQuerier moves the order from the observed status to the next one.
// It returns ErrConflict when the order is no longer in the observed status.
func (s *SQLiteStorage) advanceOrderStatusWithQuerier(ctx context.Context, q querier, orderID string, from, to types.OrderStatus) error {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := q.ExecContext(ctx, query, string(to), s.now(), orderID, string(from))
	if err != nil {
		return fmt.Errorf("failed to advance order status: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStorage) AdvanceOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) error {
	return s.advanceOrderStatusWithQuerier(ctx, s.querier(), orderID, from, to)
}

// markOrderPaymentPendingWithQuerier records that a gateway push was accepted
func (s *SQLiteStorage) markOrderPaymentPendingWithQuerier(ctx context.Context, q querier, orderID string) (bool, error) {
	query := `
		UPDATE orders SET payment_status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'pending-payment' AND payment_status IN ('not-initiated', 'pending')
	`
	result, err := q.ExecContext(ctx, query, s.now(), orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order payment pending: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStorage) MarkOrderPaymentPending(ctx context.Context, orderID string) (bool, error) {
	return s.markOrderPaymentPendingWithQuerier(ctx, s.querier(), orderID)
}

// confirmOrderPaymentWithQuerier marks the order paid. The status moves to
// payment-confirmed only from pending-payment so a seller who already advanced
// the order is not moved backward.
func (s *SQLiteStorage) confirmOrderPaymentWithQuerier(ctx context.Context, q querier, orderID string) (bool, error) {
	query := `
		UPDATE orders
		SET payment_status = 'paid',
		    status = CASE WHEN status = 'pending-payment' THEN 'payment-confirmed' ELSE status END,
		    updated_at = ?
		WHERE id = ? AND payment_status <> 'paid' AND status NOT IN ('cancelled', 'refunded')
	`
	result, err := q.ExecContext(ctx, query, s.now(), orderID)
	if err != nil {
		return false, fmt.Errorf("failed to confirm order payment: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStorage) ConfirmOrderPayment(ctx context.Context, orderID string) (bool, error) {
	return s.confirmOrderPaymentWithQuerier(ctx, s.querier(), orderID)
}

// cancelOrderWithQuerier cancels an order still awaiting payment
func (s *SQLiteStorage) cancelOrderWithQuerier(ctx context.Context, q querier, orderID string, cancel Cancellation) (bool, error) {
	at := cancel.At
	if at.IsZero() {
		at = s.now()
	}
	query := `
		UPDATE orders
		SET status = 'cancelled', payment_status = 'failed',
		    cancellation_reason = ?, cancelled_by = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending-payment'
	`
	result, err := q.ExecContext(ctx, query, cancel.Reason, cancel.By, at.UTC(), s.now(), orderID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStorage) CancelOrder(ctx context.Context, orderID string, cancel Cancellation) (bool, error) {
	return s.cancelOrderWithQuerier(ctx, s.querier(), orderID, cancel)
}
