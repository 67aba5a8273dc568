package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfillment status of an order
type OrderStatus string

const (
	OrderPendingPayment   OrderStatus = "pending-payment"
	OrderPaymentConfirmed OrderStatus = "payment-confirmed"
	OrderProcessing       OrderStatus = "processing"
	OrderShipped          OrderStatus = "shipped"
	OrderDelivered        OrderStatus = "delivered"
	OrderCompleted        OrderStatus = "completed"
	OrderCancelled        OrderStatus = "cancelled"
	OrderRefunded         OrderStatus = "refunded"
)

// forward sequence; side branches have no ordinal
var orderOrdinals = map[OrderStatus]int{
	OrderPendingPayment:   0,
	OrderPaymentConfirmed: 1,
	OrderProcessing:       2,
	OrderShipped:          3,
	OrderDelivered:        4,
	OrderCompleted:        5,
}

// Ordinal returns the position of s in the forward sequence.
// The second result is false for cancelled, refunded and unknown statuses.
func (s OrderStatus) Ordinal() (int, bool) {
	n, ok := orderOrdinals[s]
	return n, ok
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	if _, ok := orderOrdinals[s]; ok {
		return true
	}
	return s.IsSideBranch()
}

// IsSideBranch reports whether s is cancelled or refunded
func (s OrderStatus) IsSideBranch() bool {
	return s == OrderCancelled || s == OrderRefunded
}

// SellerSettableStatuses are the statuses a seller may request through an advance
var SellerSettableStatuses = []OrderStatus{
	OrderProcessing,
	OrderShipped,
	OrderDelivered,
	OrderCompleted,
	OrderCancelled,
}

// IsSellerSettable reports whether s may be requested by a seller
func (s OrderStatus) IsSellerSettable() bool {
	for _, allowed := range SellerSettableStatuses {
		if s == allowed {
			return true
		}
	}
	return false
}

// OrderPaymentStatus mirrors the payment progress on the order row
type OrderPaymentStatus string

const (
	OrderPaymentNotInitiated OrderPaymentStatus = "not-initiated"
	OrderPaymentPending      OrderPaymentStatus = "pending"
	OrderPaymentPaid         OrderPaymentStatus = "paid"
	OrderPaymentFailed       OrderPaymentStatus = "failed"
)

// CancelledBySystem is the cancellation actor recorded by the reconciliation path
const CancelledBySystem = "system"

// ExpectedDeliveryWindow is added to the creation time to set the expected delivery
const ExpectedDeliveryWindow = 7 * 24 * time.Hour

// Order is a purchase intent between one buyer and one seller
type Order struct {
	ID                 string             `json:"id"`
	BuyerID            string             `json:"buyer_id"`
	SellerID           string             `json:"seller_id"`
	Status             OrderStatus        `json:"status"`
	PaymentStatus      OrderPaymentStatus `json:"payment_status"`
	TotalAmount        decimal.Decimal    `json:"total_amount"`
	DeliveryAddress    string             `json:"delivery_address"`
	DeliveryNotes      string             `json:"delivery_notes,omitempty"`
	ExpectedDelivery   time.Time          `json:"expected_delivery"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CancelledBy        string             `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time         `json:"cancellation_date,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`

	Lines []OrderLine `json:"items,omitempty"`
}

// IsParty reports whether the user is the order's buyer or seller
func (o *Order) IsParty(userID string) bool {
	return userID != "" && (o.BuyerID == userID || o.SellerID == userID)
}

// Summary returns the produced order summary
func (o *Order) Summary() OrderSummary {
	return OrderSummary{
		ID:            o.ID,
		TotalAmount:   o.TotalAmount,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
}

// OrderSummary is returned after an order is created
type OrderSummary struct {
	ID            string             `json:"id"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	Status        OrderStatus        `json:"status"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
}

// OrderLine is one product line of an order, fixed at creation
type OrderLine struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewOrderLine builds a line with its subtotal computed from quantity and unit price
func NewOrderLine(productID string, quantity int, unitPrice decimal.Decimal) OrderLine {
	return OrderLine{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// SumSubtotals returns the sum of the lines' subtotals
func SumSubtotals(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal)
	}
	return total
}

// OrderItem is a requested line as supplied by the caller's cart.
// UnitPrice is informational; zero means the caller did not supply one.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Validate checks the item's shape
func (i OrderItem) Validate() error {
	if strings.TrimSpace(i.ProductID) == "" {
		return ErrMissingProductID
	}
	if i.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if i.UnitPrice.IsNegative() {
		return ErrNegativeUnitPrice
	}
	return nil
}

// Product is the stock-bearing projection of a catalog product
type Product struct {
	ID                string          `json:"id"`
	SellerID          string          `json:"seller_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int             `json:"available_quantity"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
