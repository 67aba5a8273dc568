// Package app wires storage, the gateway client and the services together
// for the binaries.
package app

import (
	"fmt"
	"log/slog"

	"github.com/dshills/orderflow/internal/callback"
	"github.com/dshills/orderflow/internal/config"
	"github.com/dshills/orderflow/internal/gateway"
	"github.com/dshills/orderflow/internal/logging"
	"github.com/dshills/orderflow/internal/orders"
	"github.com/dshills/orderflow/internal/payments"
	"github.com/dshills/orderflow/internal/storage"
)

// App holds the wired components
type App struct {
	Store      *storage.SQLiteStorage
	Gateway    *gateway.Client
	Orders     *orders.Service
	Payments   *payments.Service
	Reconciler *callback.Reconciler
}

// New opens the database and builds every service
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger = logging.OrDiscard(logger)

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	gw, err := gateway.NewClient(cfg.Gateway(), logger.With("component", "gateway"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize gateway client: %w", err)
	}

	paySvc := payments.NewService(store, gw, logger.With("component", "payments"))
	return &App{
		Store:      store,
		Gateway:    gw,
		Orders:     orders.NewService(store, logger.With("component", "orders")),
		Payments:   paySvc,
		Reconciler: callback.NewReconciler(store, paySvc, cfg.CallbackCacheSize, logger.With("component", "callback")),
	}, nil
}

// Close releases the database
func (a *App) Close() error {
	return a.Store.Close()
}
