package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/orderflow/pkg/types"
)

// Payment operations

const paymentColumns = `
	id, order_id, amount, currency, payment_method, phone_number, status,
	merchant_request_id, checkout_request_id, result_code, result_description,
	receipt_number, transaction_date, metadata,
	initiated_at, completed_at, failed_at, created_at, updated_at
`

func scanPayment(row rowScanner) (*types.Payment, error) {
	var p types.Payment
	var merchantID, checkoutID, resultDesc, receipt, metadata sql.NullString
	var resultCode sql.NullInt64
	var txDate, completedAt, failedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Method, &p.PhoneNumber, &p.Status,
		&merchantID, &checkoutID, &resultCode, &resultDesc,
		&receipt, &txDate, &metadata,
		&p.InitiatedAt, &completedAt, &failedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.MerchantRequestID = merchantID.String
	p.CheckoutRequestID = checkoutID.String
	if resultCode.Valid {
		code := int(resultCode.Int64)
		p.ResultCode = &code
	}
	p.ResultDescription = resultDesc.String
	p.ReceiptNumber = receipt.String
	p.TransactionDate = timePtr(txDate)
	p.CompletedAt = timePtr(completedAt)
	p.FailedAt = timePtr(failedAt)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
		}
	}
	return &p, nil
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode payment metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// createPaymentWithQuerier inserts a new payment. A second live payment for the
// same order violates idx_payments_live_order and yields ErrAlreadyExists.
func (s *SQLiteStorage) createPaymentWithQuerier(ctx context.Context, q querier, payment *types.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := s.now()
	if payment.InitiatedAt.IsZero() {
		payment.InitiatedAt = now
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now

	metadata, err := encodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payments (
			id, order_id, amount, currency, payment_method, phone_number, status,
			merchant_request_id, checkout_request_id, metadata,
			initiated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		payment.ID, payment.OrderID, payment.Amount.String(), payment.Currency, payment.Method,
		payment.PhoneNumber, string(payment.Status),
		nullString(payment.MerchantRequestID), nullString(payment.CheckoutRequestID), metadata,
		payment.InitiatedAt.UTC(), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CreatePayment(ctx context.Context, payment *types.Payment) error {
	return s.createPaymentWithQuerier(ctx, s.querier(), payment)
}

// getPaymentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getPaymentWithQuerier(ctx context.Context, q querier, paymentID string) (*types.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	p, err := scanPayment(q.QueryRowContext(ctx, query, paymentID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStorage) GetPayment(ctx context.Context, paymentID string) (*types.Payment, error) {
	return s.getPaymentWithQuerier(ctx, s.querier(), paymentID)
}

// getPaymentByCheckoutIDWithQuerier looks a payment up by its gateway correlation id
func (s *SQLiteStorage) getPaymentByCheckoutIDWithQuerier(ctx context.Context, q querier, checkoutRequestID string) (*types.Payment, error) {
	if checkoutRequestID == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE checkout_request_id = ?`
	p, err := scanPayment(q.QueryRowContext(ctx, query, checkoutRequestID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStorage) GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*types.Payment, error) {
	return s.getPaymentByCheckoutIDWithQuerier(ctx, s.querier(), checkoutRequestID)
}

// getLivePaymentWithQuerier returns the order's payment that has not failed, if any
func (s *SQLiteStorage) getLivePaymentWithQuerier(ctx context.Context, q querier, orderID string) (*types.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = ? AND status <> 'failed'`
	p, err := scanPayment(q.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStorage) GetLivePayment(ctx context.Context, orderID string) (*types.Payment, error) {
	return s.getLivePaymentWithQuerier(ctx, s.querier(), orderID)
}

// markPaymentPendingWithQuerier stores the gateway correlation ids of an accepted push
func (s *SQLiteStorage) markPaymentPendingWithQuerier(ctx context.Context, q querier, paymentID, merchantRequestID, checkoutRequestID string) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'pending', merchant_request_id = ?, checkout_request_id = ?, updated_at = ?
		WHERE id = ? AND status = 'initiated'
	`
	result, err := q.ExecContext(ctx, query,
		nullString(merchantRequestID), nullString(checkoutRequestID), s.now(), paymentID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrAlreadyExists
		}
		return false, fmt.Errorf("failed to mark payment pending: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStorage) MarkPaymentPending(ctx context.Context, paymentID, merchantRequestID, checkoutRequestID string) (bool, error) {
	return s.markPaymentPendingWithQuerier(ctx, s.querier(), paymentID, merchantRequestID, checkoutRequestID)
}

// completePaymentWithQuerier writes a successful outcome if the payment is not yet terminal
func (s *SQLiteStorage) completePaymentWithQuerier(ctx context.Context, q querier, paymentID string, outcome types.PaymentOutcome) (bool, error) {
	metadata, err := encodeMetadata(outcome.Metadata)
	if err != nil {
		return false, err
	}
	now := s.now()
	query := `
		UPDATE payments
		SET status = 'completed', result_code = ?, result_description = ?,
		    receipt_number = ?, transaction_date = ?, metadata = COALESCE(?, metadata),
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('initiated', 'pending')
	`
	result, err := q.ExecContext(ctx, query,
		outcome.ResultCode, nullString(outcome.ResultDescription),
		nullString(outcome.ReceiptNumber), nullTime(outcome.TransactionDate), metadata,
		now, now, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStorage) CompletePayment(ctx context.Context, paymentID string, outcome types.PaymentOutcome) (bool, error) {
	return s.completePaymentWithQuerier(ctx, s.querier(), paymentID, outcome)
}

// failPaymentWithQuerier writes a failed outcome if the payment is not yet terminal
func (s *SQLiteStorage) failPaymentWithQuerier(ctx context.Context, q querier, paymentID string, outcome types.PaymentOutcome) (bool, error) {
	metadata, err := encodeMetadata(outcome.Metadata)
	if err != nil {
		return false, err
	}
	now := s.now()
	query := `
		UPDATE payments
		SET status = 'failed', result_code = ?, result_description = ?,
		    metadata = COALESCE(?, metadata), failed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('initiated', 'pending')
	`
	result, err := q.ExecContext(ctx, query,
		outcome.ResultCode, nullString(outcome.ResultDescription), metadata,
		now, now, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStorage) FailPayment(ctx context.Context, paymentID string, outcome types.PaymentOutcome) (bool, error) {
	return s.failPaymentWithQuerier(ctx, s.querier(), paymentID, outcome)
}
