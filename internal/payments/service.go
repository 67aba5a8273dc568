package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/orderflow/internal/gateway"
	"github.com/dshills/orderflow/internal/logging"
	"github.com/dshills/orderflow/internal/storage"
	"github.com/dshills/orderflow/pkg/types"
)

// DefaultDescription is sent to the gateway as the transaction description
const DefaultDescription = "Order payment"

// Gateway is the push-payment API the service drives
type Gateway interface {
	Push(ctx context.Context, req gateway.PushRequest) (*gateway.PushResponse, error)
	Query(ctx context.Context, checkoutRequestID string) (*gateway.QueryResult, error)
}

// Service initiates payments, polls their status and applies authoritative results
type Service struct {
	store       storage.Storage
	gateway     Gateway
	logger      *slog.Logger
	description string
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithDescription overrides the transaction description sent to the gateway
func WithDescription(d string) Option {
	return func(s *Service) {
		if d != "" {
			s.description = d
		}
	}
}

// NewService creates a payment service
func NewService(store storage.Storage, gw Gateway, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		gateway:     gw,
		logger:      logging.OrDiscard(logger),
		description: DefaultDescription,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccountReference is the order-derived reference shown to the payer
func AccountReference(orderID string) string {
	return "ORDER-" + orderID
}

// Initiate starts a push payment for the buyer's pending order. The payment row
// is written before the gateway call and updated after it; the call itself
// runs outside any transaction.
func (s *Service) Initiate(ctx context.Context, buyer types.Identity, orderID, phoneNumber string) (*types.PaymentSummary, error) {
	if err := buyer.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	phone, err := gateway.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, types.Wrap(types.KindValidation, types.ErrInvalidPhone, phoneNumber)
	}

	var payment *types.Payment
	err = storage.WithTx(ctx, s.store, func(tx storage.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return classify(err, "order")
		}
		if order.BuyerID != buyer.ID {
			return types.E(types.KindForbidden, "not authorized to pay for this order")
		}
		if order.Status != types.OrderPendingPayment {
			return types.E(types.KindConflict, "order is %s and not payable", order.Status)
		}
		if _, err := tx.GetLivePayment(ctx, orderID); err == nil {
			return types.E(types.KindConflict, "a payment is already in progress for this order")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		payment = &types.Payment{
			OrderID:     order.ID,
			Amount:      order.TotalAmount,
			Currency:    types.CurrencyKES,
			Method:      types.MethodMpesa,
			PhoneNumber: phone,
			Status:      types.PaymentInitiated,
			InitiatedAt: s.now(),
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return types.Wrap(types.KindConflict, err, "a payment is already in progress for this order")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "order")
	}

	log := s.logger.With("order_id", orderID, "payment_id", payment.ID)

	resp, pushErr := s.gateway.Push(ctx, gateway.PushRequest{
		Amount:           payment.Amount,
		PhoneNumber:      phone,
		AccountReference: AccountReference(orderID),
		Description:      s.description,
	})
	if pushErr != nil {
		log.Warn("push payment failed", "error", pushErr)
		// The caller's context may already be done; the failure must still be recorded
		recordCtx := context.WithoutCancel(ctx)
		if _, err := s.store.FailPayment(recordCtx, payment.ID, types.PaymentOutcome{
			ResultCode:        types.ResultCodePushFailed,
			ResultDescription: pushErr.Error(),
		}); err != nil {
			log.Error("failed to record push failure", "error", err)
		}
		return nil, types.Wrap(types.KindGateway, pushErr, "failed to initiate payment")
	}

	// The gateway has accepted the push; its checkout id must be stored even
	// if the caller has gone away, or the result could never be matched.
	recordCtx := context.WithoutCancel(ctx)
	err = storage.WithTx(recordCtx, s.store, func(tx storage.Tx) error {
		ok, err := tx.MarkPaymentPending(recordCtx, payment.ID, resp.MerchantRequestID, resp.CheckoutRequestID)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("payment left initiated state before push was recorded")
			return nil
		}
		if _, err := tx.MarkOrderPaymentPending(recordCtx, orderID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "payment")
	}

	log.Info("payment initiated", "checkout_request_id", resp.CheckoutRequestID)

	message := resp.CustomerMessage
	if message == "" {
		message = "STK push sent"
	}
	return &types.PaymentSummary{
		PaymentID:         payment.ID,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		Message:           message,
	}, nil
}

// Poll reports the payment's status, asking the gateway when it is not yet
// terminal. Only a zero result code changes state; polling never marks a
// payment failed.
func (s *Service) Poll(ctx context.Context, buyer types.Identity, paymentID string) (*types.PaymentStatusView, error) {
	payment, err := s.GetPayment(ctx, buyer, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() || payment.CheckoutRequestID == "" {
		return view(payment), nil
	}

	result, err := s.gateway.Query(ctx, payment.CheckoutRequestID)
	if err != nil {
		return nil, types.Wrap(types.KindGateway, err, "payment service unavailable")
	}
	if !result.Succeeded() {
		s.logger.Debug("payment still pending",
			"payment_id", payment.ID,
			"checkout_request_id", payment.CheckoutRequestID,
			"result_code", result.ResultCode,
			"pending", result.Pending)
		return view(payment), nil
	}

	if _, err := s.ApplyResult(ctx, payment, types.PaymentOutcome{
		ResultCode:        types.ResultCodeOK,
		ResultDescription: result.ResultDesc,
	}); err != nil {
		return nil, err
	}

	updated, err := s.store.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, classify(err, "payment")
	}
	return view(updated), nil
}

// ApplyResult writes an authoritative outcome. Only the first writer of a
// terminal state wins; it also updates the order in the same transaction.
// A failure cancels the order and returns its lines to stock.
func (s *Service) ApplyResult(ctx context.Context, payment *types.Payment, outcome types.PaymentOutcome) (bool, error) {
	log := s.logger.With(
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
		"checkout_request_id", payment.CheckoutRequestID,
		"result_code", outcome.ResultCode)

	var won bool
	err := storage.WithTx(ctx, s.store, func(tx storage.Tx) error {
		var err error
		if outcome.Succeeded() {
			won, err = tx.CompletePayment(ctx, payment.ID, outcome)
			if err != nil || !won {
				return err
			}
			confirmed, err := tx.ConfirmOrderPayment(ctx, payment.OrderID)
			if err != nil {
				return err
			}
			if !confirmed {
				log.Warn("order not updated for completed payment")
			}
			return nil
		}

		won, err = tx.FailPayment(ctx, payment.ID, outcome)
		if err != nil || !won {
			return err
		}
		cancelled, err := tx.CancelOrder(ctx, payment.OrderID, storage.Cancellation{
			Reason: types.FailureReasonPayment,
			By:     types.CancelledBySystem,
			At:     s.now(),
		})
		if err != nil {
			return err
		}
		if !cancelled {
			log.Warn("order not cancelled for failed payment")
			return nil
		}
		lines, err := tx.ListOrderLines(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.ReleaseStock(ctx, line.ProductID, line.Quantity); err != nil {
				return fmt.Errorf("release stock for %s: %w", line.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, classify(err, "payment")
	}

	if won {
		if outcome.Succeeded() {
			log.Info("payment completed", "receipt", outcome.ReceiptNumber)
		} else {
			log.Info("payment failed", "reason", outcome.ResultDescription)
		}
	}
	return won, nil
}

// GetPayment returns a payment to the buyer of its order
func (s *Service) GetPayment(ctx context.Context, buyer types.Identity, paymentID string) (*types.Payment, error) {
	if err := buyer.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, classify(err, "payment")
	}
	order, err := s.store.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, classify(err, "order")
	}
	if order.BuyerID != buyer.ID {
		return nil, types.E(types.KindForbidden, "not authorized to view this payment")
	}
	return payment, nil
}

// PaymentForOrder returns the order's live payment to its buyer
func (s *Service) PaymentForOrder(ctx context.Context, buyer types.Identity, orderID string) (*types.Payment, error) {
	if err := buyer.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, classify(err, "order")
	}
	if order.BuyerID != buyer.ID {
		return nil, types.E(types.KindForbidden, "not authorized to view this order")
	}
	payment, err := s.store.GetLivePayment(ctx, orderID)
	if err != nil {
		return nil, classify(err, "payment")
	}
	return payment, nil
}

func view(p *types.Payment) *types.PaymentStatusView {
	v := &types.PaymentStatusView{
		PaymentID: p.ID,
		Status:    p.Status.PollStatus(),
		Receipt:   p.ReceiptNumber,
	}
	if p.Status == types.PaymentFailed {
		v.Reason = p.ResultDescription
	}
	return v
}

// classify maps storage errors to service error kinds, leaving classified errors alone
func classify(err error, entity string) error {
	var classified *types.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &classified):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return types.Wrap(types.KindNotFound, err, entity)
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrAlreadyExists):
		return types.Wrap(types.KindConflict, err, entity)
	default:
		return types.Wrap(types.KindInternal, err, "")
	}
}
