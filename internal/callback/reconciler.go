package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/orderflow/internal/gateway"
	"github.com/dshills/orderflow/internal/logging"
	"github.com/dshills/orderflow/internal/storage"
	"github.com/dshills/orderflow/pkg/types"
)

// DefaultCacheSize is the number of settled checkout ids remembered in memory
const DefaultCacheSize = 10000

// ErrMalformed is returned by Parse for bodies without an stkCallback object
var ErrMalformed = errors.New("malformed callback body")

// Ack is the acknowledgement returned to the gateway for every delivery
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted is the only acknowledgement ever sent
var Accepted = Ack{ResultCode: 0, ResultDesc: "Accepted"}

// PaymentFinder looks up payments by the gateway's checkout id
type PaymentFinder interface {
	GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*types.Payment, error)
}

// Applier writes an authoritative outcome, reporting whether this call won
type Applier interface {
	ApplyResult(ctx context.Context, payment *types.Payment, outcome types.PaymentOutcome) (bool, error)
}

// Reconciler applies asynchronous gateway results. Deliveries may repeat or
// arrive out of order; only the first one for a payment changes state.
type Reconciler struct {
	payments PaymentFinder
	applier  Applier
	settled  *lru.Cache[string, struct{}]
	logger   *slog.Logger
}

// NewReconciler creates a reconciler remembering up to cacheSize settled checkout ids
func NewReconciler(payments PaymentFinder, applier Applier, cacheSize int, logger *slog.Logger) *Reconciler {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	settled, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		// Only fails for a non-positive size
		settled, _ = lru.New[string, struct{}](DefaultCacheSize)
	}
	return &Reconciler{
		payments: payments,
		applier:  applier,
		settled:  settled,
		logger:   logging.OrDiscard(logger),
	}
}

// Result is a parsed stkCallback
type Result struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          map[string]any
}

// Outcome converts the result into the form stored on the payment
func (r *Result) Outcome() types.PaymentOutcome {
	out := types.PaymentOutcome{
		ResultCode:        r.ResultCode,
		ResultDescription: r.ResultDesc,
	}
	if len(r.Metadata) > 0 {
		out.Metadata = r.Metadata
	}
	if !out.Succeeded() {
		return out
	}
	if v, ok := r.Metadata["MpesaReceiptNumber"]; ok {
		out.ReceiptNumber = fmt.Sprint(v)
	} else if v, ok := r.Metadata["ReceiptNumber"]; ok {
		out.ReceiptNumber = fmt.Sprint(v)
	}
	if v, ok := r.Metadata["TransactionDate"]; ok {
		if ts, err := gateway.ParseTimestamp(fmt.Sprint(v)); err == nil {
			out.TransactionDate = &ts
		}
	}
	return out
}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type envelope struct {
	Body struct {
		STKCallback *struct {
			MerchantRequestID string       `json:"MerchantRequestID"`
			CheckoutRequestID string       `json:"CheckoutRequestID"`
			ResultCode        *gateway.Code `json:"ResultCode"`
			ResultDesc        string       `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item     []metadataItem `json:"Item"`
				ItemList []metadataItem `json:"ItemList"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Parse decodes a callback body. Numeric metadata values are kept as
// json.Number so receipt dates and phone numbers survive intact.
func Parse(body []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	stk := env.Body.STKCallback
	if stk == nil || stk.CheckoutRequestID == "" {
		return nil, ErrMalformed
	}
	// only an explicit zero means success
	if stk.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformed)
	}

	r := &Result{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        int(*stk.ResultCode),
		ResultDesc:        stk.ResultDesc,
		Metadata:          make(map[string]any),
	}
	if md := stk.CallbackMetadata; md != nil {
		items := md.Item
		if len(items) == 0 {
			items = md.ItemList
		}
		for _, item := range items {
			if item.Name != "" {
				r.Metadata[item.Name] = item.Value
			}
		}
	}
	return r, nil
}

// Handle reconciles one delivery. It always returns Accepted; failures are
// logged and left for the poll path to recover.
func (r *Reconciler) Handle(ctx context.Context, body []byte) Ack {
	result, err := Parse(body)
	if err != nil {
		r.logger.Warn("ignoring callback", "error", err)
		return Accepted
	}

	// A failure result is only ever reported here, so a dropped connection
	// must not abort applying it.
	ctx = context.WithoutCancel(ctx)

	log := r.logger.With(
		"checkout_request_id", result.CheckoutRequestID,
		"result_code", result.ResultCode)

	if r.settled.Contains(result.CheckoutRequestID) {
		log.Debug("duplicate callback for settled payment")
		return Accepted
	}

	payment, err := r.payments.GetPaymentByCheckoutID(ctx, result.CheckoutRequestID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("callback for unknown checkout id")
		return Accepted
	}
	if err != nil {
		log.Error("failed to load payment for callback", "error", err)
		return Accepted
	}
	log = log.With("payment_id", payment.ID, "order_id", payment.OrderID)

	if payment.Status.IsTerminal() {
		r.settled.Add(result.CheckoutRequestID, struct{}{})
		log.Info("callback for settled payment ignored", "status", string(payment.Status))
		return Accepted
	}

	won, err := r.applier.ApplyResult(ctx, payment, result.Outcome())
	if err != nil {
		log.Error("failed to apply callback result", "error", err)
		return Accepted
	}
	r.settled.Add(result.CheckoutRequestID, struct{}{})
	if !won {
		log.Info("callback lost race to another writer")
	}
	return Accepted
}

// Settled reports whether the checkout id is known to be settled
func (r *Reconciler) Settled(checkoutRequestID string) bool {
	return r.settled.Contains(checkoutRequestID)
}
