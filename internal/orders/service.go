package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/orderflow/internal/logging"
	"github.com/dshills/orderflow/internal/storage"
	"github.com/dshills/orderflow/pkg/types"
)

// Pagination limits for ListOrders
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	RecentLimit     = 5
)

// Service validates and creates orders and drives their fulfillment status
type Service struct {
	store  storage.Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an order service
func NewService(store storage.Storage, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logging.OrDiscard(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderRequest is a buyer's checkout request
type CreateOrderRequest struct {
	Items           []types.OrderItem `json:"items"`
	DeliveryAddress string            `json:"delivery_address"`
	DeliveryNotes   string            `json:"delivery_notes,omitempty"`
}

// Validate checks the request's shape before any product is loaded
func (r CreateOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return types.Wrap(types.KindValidation, types.ErrEmptyItems, "")
	}
	if strings.TrimSpace(r.DeliveryAddress) == "" {
		return types.Wrap(types.KindValidation, types.ErrMissingAddress, "")
	}
	for i, item := range r.Items {
		if err := item.Validate(); err != nil {
			return types.Wrap(types.KindValidation, err, fmt.Sprintf("item %d", i))
		}
	}
	return nil
}

// CreateOrder reserves stock for every item and records the order in one
// transaction. Line prices come from the catalog; a supplied price that
// disagrees with it is rejected.
func (s *Service) CreateOrder(ctx context.Context, buyer types.Identity, req CreateOrderRequest) (*types.Order, error) {
	if err := buyer.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	order := &types.Order{
		BuyerID:          buyer.ID,
		Status:           types.OrderPendingPayment,
		PaymentStatus:    types.OrderPaymentNotInitiated,
		DeliveryAddress:  strings.TrimSpace(req.DeliveryAddress),
		DeliveryNotes:    req.DeliveryNotes,
		ExpectedDelivery: now.Add(types.ExpectedDeliveryWindow),
		CreatedAt:        now,
		Lines:            make([]types.OrderLine, 0, len(req.Items)),
	}

	err := storage.WithTx(ctx, s.store, func(tx storage.Tx) error {
		for _, item := range req.Items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if errors.Is(err, storage.ErrNotFound) {
				return types.E(types.KindNotFound, "product %s not found", item.ProductID)
			}
			if err != nil {
				return fmt.Errorf("load product %s: %w", item.ProductID, err)
			}

			if order.SellerID == "" {
				order.SellerID = product.SellerID
			} else if order.SellerID != product.SellerID {
				return types.E(types.KindValidation, "all items must come from the same seller")
			}

			if !item.UnitPrice.IsZero() && !item.UnitPrice.Equal(product.Price) {
				return types.E(types.KindValidation, "price mismatch for product %s: catalog price is %s", product.ID, product.Price)
			}

			if _, err := tx.ReserveStock(ctx, product.ID, item.Quantity); err != nil {
				var stockErr *storage.StockError
				if errors.As(err, &stockErr) {
					return types.Wrap(types.KindConflict, err,
						fmt.Sprintf("product %q only has %d available", product.Name, stockErr.Available))
				}
				return fmt.Errorf("reserve stock for %s: %w", product.ID, err)
			}

			order.Lines = append(order.Lines, types.NewOrderLine(product.ID, item.Quantity, product.Price))
		}

		order.TotalAmount = types.SumSubtotals(order.Lines)
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info("order created",
		"order_id", order.ID,
		"buyer_id", order.BuyerID,
		"seller_id", order.SellerID,
		"total_amount", order.TotalAmount.String(),
		"lines", len(order.Lines))
	return order, nil
}

// AdvanceStatus moves an order forward in the fulfillment sequence. Only the
// order's seller may do so; backward, repeated and side-branch moves are rejected.
func (s *Service) AdvanceStatus(ctx context.Context, actor types.Identity, orderID string, newStatus types.OrderStatus) (*types.Order, error) {
	if err := actor.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	if !newStatus.IsSellerSettable() {
		return nil, types.Wrap(types.KindValidation, types.ErrInvalidStatus, string(newStatus))
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, classify(err)
	}
	if order.SellerID != actor.ID {
		return nil, types.E(types.KindForbidden, "only the seller can update order status")
	}
	if newStatus == types.OrderCancelled {
		return nil, types.E(types.KindConflict, "orders are cancelled only when payment fails")
	}
	if order.Status.IsSideBranch() {
		return nil, types.E(types.KindConflict, "order is %s and can no longer change", order.Status)
	}

	current, _ := order.Status.Ordinal()
	next, _ := newStatus.Ordinal()
	if next <= current {
		return nil, types.E(types.KindConflict, "cannot move order from %s to %s", order.Status, newStatus)
	}

	if err := s.store.AdvanceOrderStatus(ctx, orderID, order.Status, newStatus); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, types.Wrap(types.KindConflict, err, "order status changed concurrently")
		}
		return nil, classify(err)
	}

	s.logger.Info("order status advanced",
		"order_id", orderID,
		"from", string(order.Status),
		"to", string(newStatus))

	updated, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, classify(err)
	}
	return updated, nil
}

// GetOrder returns an order with its lines to its buyer or seller
func (s *Service) GetOrder(ctx context.Context, actor types.Identity, orderID string) (*types.Order, error) {
	if err := actor.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, classify(err)
	}
	if !order.IsParty(actor.ID) {
		return nil, types.E(types.KindForbidden, "not authorized to view this order")
	}
	return order, nil
}

// ListFilter selects a page of the actor's orders
type ListFilter struct {
	Status types.OrderStatus
	Page   int
	Limit  int
}

// OrderPage is one page of orders
type OrderPage struct {
	Results []*types.Order `json:"results"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
}

// ListOrders returns the orders where the actor is buyer or seller, newest first
func (s *Service) ListOrders(ctx context.Context, actor types.Identity, filter ListFilter) (*OrderPage, error) {
	if err := actor.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, types.Wrap(types.KindValidation, types.ErrInvalidStatus, string(filter.Status))
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	orders, total, err := s.store.ListOrders(ctx, storage.OrderFilter{
		PartyID: actor.ID,
		Status:  filter.Status,
		Limit:   limit,
		Offset:  (page - 1) * limit,
	})
	if err != nil {
		return nil, classify(err)
	}
	return &OrderPage{Results: orders, Total: total, Page: page, Limit: limit}, nil
}

// RecentOrders returns the seller's latest orders
func (s *Service) RecentOrders(ctx context.Context, seller types.Identity) ([]*types.Order, error) {
	if err := seller.Validate(); err != nil {
		return nil, types.Wrap(types.KindUnauthorized, err, "")
	}
	orders, _, err := s.store.ListOrders(ctx, storage.OrderFilter{SellerID: seller.ID, Limit: RecentLimit})
	if err != nil {
		return nil, classify(err)
	}
	return orders, nil
}

// classify maps storage errors to service error kinds, leaving classified errors alone
func classify(err error) error {
	var classified *types.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &classified):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return types.Wrap(types.KindNotFound, err, "order")
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrInsufficientStock):
		return types.Wrap(types.KindConflict, err, "")
	default:
		return types.Wrap(types.KindInternal, err, "")
	}
}
