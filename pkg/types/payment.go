package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle status of a payment
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// IsTerminal reports whether the payment can no longer change
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentRefunded
}

// PollStatus collapses a payment status into the client-facing pending/completed/failed
func (s PaymentStatus) PollStatus() PaymentStatus {
	switch s {
	case PaymentCompleted, PaymentFailed:
		return s
	default:
		return PaymentPending
	}
}

// Payment method and currency recorded for mobile-money payments
const (
	MethodMpesa          = "mpesa"
	CurrencyKES          = "KES"
	ResultCodeOK         = 0
	ResultCodePushFailed = -1
	FailureReasonPayment = "Payment failed"
)

// Payment is a single attempt to collect an order's total through the gateway
type Payment struct {
	ID                string          `json:"payment_id"`
	OrderID           string          `json:"order_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"payment_method"`
	PhoneNumber       string          `json:"phone_number"`
	Status            PaymentStatus   `json:"status"`
	MerchantRequestID string          `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	ResultCode        *int            `json:"result_code,omitempty"`
	ResultDescription string          `json:"result_description,omitempty"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	TransactionDate   *time.Time      `json:"transaction_date,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	InitiatedAt       time.Time       `json:"initiated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// PaymentSummary is returned once the gateway accepts a push request
type PaymentSummary struct {
	PaymentID         string `json:"payment_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Message           string `json:"message,omitempty"`
}

// PaymentOutcome is the authoritative result reported by the gateway,
// either through a status query or through the callback
type PaymentOutcome struct {
	ResultCode        int
	ResultDescription string
	ReceiptNumber     string
	TransactionDate   *time.Time
	Metadata          map[string]any
}

// Succeeded reports whether the outcome is a successful payment
func (o PaymentOutcome) Succeeded() bool {
	return o.ResultCode == ResultCodeOK
}

// PaymentStatusView is returned by polling and lookups
type PaymentStatusView struct {
	PaymentID string        `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	Receipt   string        `json:"receipt,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}
