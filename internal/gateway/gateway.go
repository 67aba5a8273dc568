package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway endpoints and protocol constants
const (
	DefaultBaseURL = "https://sandbox.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// CallbackPath is appended to the public base URL to form the callback URL
	CallbackPath = "/api/payments/callback"

	TransactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"

	// tokens are valid for an hour; refresh a little early
	tokenTTL = 3590 * time.Second

	// returned by the query endpoint while the customer has not answered the prompt
	errCodeStillProcessing = "500.001.1001"

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 200
	MaxBackoffMs      = 2000
	BackoffMultiplier = 2.0
)

// Nairobi is the gateway's clock (EAT, no daylight saving)
var Nairobi = time.FixedZone("EAT", 3*60*60)

var (
	ErrInvalidConfig = errors.New("invalid gateway configuration")
	ErrRejected      = errors.New("gateway rejected request")
	ErrUnavailable   = errors.New("gateway unavailable")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// PushRequest asks the gateway to prompt the customer's handset for payment
type PushRequest struct {
	Amount           decimal.Decimal
	PhoneNumber      string
	AccountReference string
	Description      string
}

// PushResponse is the gateway's immediate acknowledgement of a push
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryResult is the authoritative status of a push as reported by the query endpoint
type QueryResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	// Pending is set when the gateway is still waiting for the customer
	Pending    bool
	ResultCode int
	ResultDesc string
}

// Succeeded reports whether the payment went through
func (r *QueryResult) Succeeded() bool {
	return !r.Pending && r.ResultCode == 0
}

// APIError is an error body returned by the gateway
type APIError struct {
	StatusCode   int    `json:"-"`
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("gateway error %d: %s", e.StatusCode, e.ErrorMessage)
	}
	return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, e.ErrorCode, e.ErrorMessage)
}

// Is lets callers match rejections with errors.Is(err, ErrRejected)
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// ErrMissingCode is returned when a result code is present but empty
var ErrMissingCode = errors.New("empty result code")

// Code is a result code the gateway may encode either as a JSON number or a
// string. Decode into *Code to tell an absent or null code from zero.
type Code int

func (c *Code) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" {
		return ErrMissingCode
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid result code %s: %w", string(b), err)
	}
	*c = Code(n)
	return nil
}

var _ json.Unmarshaler = (*Code)(nil)

// NormalizePhone converts local and international formats to 2547XXXXXXXX style.
// It strips a leading "+", replaces a trunk "0" of a 10-digit number with 254 and
// prefixes 9-digit subscriber numbers with 254.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	if p == "" {
		return "", ErrInvalidPhone
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	switch {
	case len(p) == 10 && strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case len(p) == 9:
		p = "254" + p
	}
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return p, nil
}

// Timestamp formats t in the gateway's yyyyMMddHHmmss layout and timezone
func Timestamp(t time.Time) string {
	return t.In(Nairobi).Format(timestampLayout)
}

// ParseTimestamp parses a yyyyMMddHHmmss value in the gateway's timezone.
// Callback metadata sends it as a number, so callers pass its decimal text.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, s, Nairobi)
}

// WholeAmount rounds an amount up to whole shillings, the unit the gateway accepts
func WholeAmount(amount decimal.Decimal) int64 {
	return amount.Ceil().IntPart()
}
