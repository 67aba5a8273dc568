// Package storage provides SQLite-based persistence for products, orders and payments.
//
// The storage layer manages:
//   - Product stock counters (the inventory ledger)
//   - Orders and their immutable order lines
//   - Payments and their gateway correlation ids
//
// All business rules live in the services. Storage only guarantees the
// atomicity of single statements and of transactions, and exposes the
// conditional updates the services rely on.
//
// # Database Schema
//
// Tables:
//   - products: stock-bearing projection of the catalog (available_quantity >= 0)
//   - orders: one row per purchase intent
//   - order_lines: product lines, written once with their order
//   - payments: gateway payment attempts, at most one live attempt per order
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("orderflow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	remaining, err := db.ReserveStock(ctx, productID, 2)
//	if errors.Is(err, storage.ErrInsufficientStock) {
//	    // not enough units left
//	}
//
// # Transactions
//
// Use WithTx for multi-row mutations. Inside fn only the Tx may be used:
// the pool holds a single connection, so calling the outer Storage from
// within a transaction blocks.
//
//	err := storage.WithTx(ctx, db, func(tx storage.Tx) error {
//	    if _, err := tx.ReserveStock(ctx, productID, qty); err != nil {
//	        return err
//	    }
//	    return tx.CreateOrder(ctx, order)
//	})
//
// # Conditional Updates
//
// State transitions are written as UPDATE ... WHERE status = <observed>.
// Methods returning (bool, error) report whether this caller's write won;
// AdvanceOrderStatus returns ErrConflict when the row was already moved.
//
// # Build Tags
//
// Pure Go Build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO Build (cgo_sqlite tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "cgo_sqlite" ./...
package storage
