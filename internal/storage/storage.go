package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/orderflow/pkg/types"
)

// Storage defines the single repository interface for products, orders and payments.
// Business logic lives in the services; adapters only translate these calls to a store.
type Storage interface {
	// Product operations (Inventory Ledger)
	UpsertProduct(ctx context.Context, product *types.Product) error
	GetProduct(ctx context.Context, productID string) (*types.Product, error)
	ReserveStock(ctx context.Context, productID string, quantity int) (remaining int, err error)
	ReleaseStock(ctx context.Context, productID string, quantity int) error

	// Order operations
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	ListOrderLines(ctx context.Context, orderID string) ([]types.OrderLine, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, int, error)
	AdvanceOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) error
	MarkOrderPaymentPending(ctx context.Context, orderID string) (bool, error)
	ConfirmOrderPayment(ctx context.Context, orderID string) (bool, error)
	CancelOrder(ctx context.Context, orderID string, cancel Cancellation) (bool, error)

	// Payment operations
	CreatePayment(ctx context.Context, payment *types.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*types.Payment, error)
	GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*types.Payment, error)
	GetLivePayment(ctx context.Context, orderID string) (*types.Payment, error)
	MarkPaymentPending(ctx context.Context, paymentID, merchantRequestID, checkoutRequestID string) (bool, error)
	CompletePayment(ctx context.Context, paymentID string, outcome types.PaymentOutcome) (bool, error)
	FailPayment(ctx context.Context, paymentID string, outcome types.PaymentOutcome) (bool, error)

	// Database operations
	Ping(ctx context.Context) error
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict is returned when a conditional update finds the row in another state
	ErrConflict = errors.New("state conflict")
	// ErrInsufficientStock is returned when a reservation cannot be satisfied
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockError reports a failed reservation with the quantity still available
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %s only has %d available (requested %d)", e.ProductID, e.Available, e.Requested)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// OrderFilter narrows ListOrders
type OrderFilter struct {
	PartyID  string // buyer or seller
	SellerID string // seller only
	Status   types.OrderStatus
	Limit    int
	Offset   int
}

// Cancellation carries the audit fields written when an order is cancelled
type Cancellation struct {
	Reason string
	By     string
	At     time.Time
}

// WithTx runs fn inside a transaction, committing if fn returns nil and rolling back otherwise
func WithTx(ctx context.Context, s Storage, fn func(tx Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
