package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dshills/orderflow/pkg/types"
)

// Product operations

// upsertProductWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertProductWithQuerier(ctx context.Context, q querier, product *types.Product) error {
	if product.AvailableQuantity < 0 {
		return fmt.Errorf("product %s: available quantity cannot be negative", product.ID)
	}
	query := `
		INSERT INTO products (id, seller_id, name, price, available_quantity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seller_id = excluded.seller_id,
			name = excluded.name,
			price = excluded.price,
			available_quantity = excluded.available_quantity,
			updated_at = excluded.updated_at
	`
	now := s.now()
	_, err := q.ExecContext(ctx, query,
		product.ID, product.SellerID, product.Name, product.Price.String(),
		product.AvailableQuantity, now)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	product.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertProduct(ctx context.Context, product *types.Product) error {
	return s.upsertProductWithQuerier(ctx, s.querier(), product)
}

// getProductWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getProductWithQuerier(ctx context.Context, q querier, productID string) (*types.Product, error) {
	query := `
		SELECT id, seller_id, name, price, available_quantity, updated_at
		FROM products
		WHERE id = ?
	`
	var p types.Product
	err := q.QueryRowContext(ctx, query, productID).Scan(
		&p.ID, &p.SellerID, &p.Name, &p.Price, &p.AvailableQuantity, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStorage) GetProduct(ctx context.Context, productID string) (*types.Product, error) {
	return s.getProductWithQuerier(ctx, s.querier(), productID)
}

// reserveStockWithQuerier decrements stock only if enough units remain.
// The check and the decrement are one statement, so concurrent reservations
// of the last unit cannot both succeed.
func (s *SQLiteStorage) reserveStockWithQuerier(ctx context.Context, q querier, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("reserve %d units of %s: %w", quantity, productID, types.ErrInvalidQuantity)
	}
	query := `
		UPDATE products
		SET available_quantity = available_quantity - ?, updated_at = ?
		WHERE id = ? AND available_quantity >= ?
		RETURNING available_quantity
	`
	var remaining int
	err := q.QueryRowContext(ctx, query, quantity, s.now(), productID, quantity).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to reserve stock: %w", err)
	}

	// Nothing matched: either the product is missing or stock is short
	var available int
	err = q.QueryRowContext(ctx, "SELECT available_quantity FROM products WHERE id = ?", productID).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return available, &StockError{ProductID: productID, Requested: quantity, Available: available}
}

func (s *SQLiteStorage) ReserveStock(ctx context.Context, productID string, quantity int) (int, error) {
	return s.reserveStockWithQuerier(ctx, s.querier(), productID, quantity)
}

// releaseStockWithQuerier returns previously reserved units to stock
func (s *SQLiteStorage) releaseStockWithQuerier(ctx context.Context, q querier, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("release %d units of %s: %w", quantity, productID, types.ErrInvalidQuantity)
	}
	query := `
		UPDATE products
		SET available_quantity = available_quantity + ?, updated_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query, quantity, s.now(), productID)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	return s.releaseStockWithQuerier(ctx, s.querier(), productID, quantity)
}
