package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/orderflow/internal/app"
	"github.com/dshills/orderflow/internal/config"
	"github.com/dshills/orderflow/internal/health"
	"github.com/dshills/orderflow/internal/httpapi"
	"github.com/dshills/orderflow/internal/logging"
	"github.com/dshills/orderflow/internal/storage"
	"github.com/dshills/orderflow/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: orderflow [command]

Commands:
  serve             Run the HTTP API (default)
  seed <file.json>  Upsert catalog products from a JSON array
  --version         Print build information
`)
}

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "--version":
		fmt.Printf("Orderflow\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		return
	case "serve":
		err = serve()
	case "seed":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		err = seed(os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "orderflow: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateHTTP(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	healthHandler := health.NewHandler(version,
		health.NewStorageChecker(a.Store),
		health.NewHTTPChecker("gateway", a.Gateway.BaseURL()))

	api := httpapi.NewServer(a.Orders, a.Payments, a.Reconciler, healthHandler, httpapi.Options{
		JWTSecret: cfg.JWTSecret,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
	}, logger.With("component", "http"))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening",
			"addr", cfg.HTTPAddr,
			"version", version,
			"driver", storage.DriverName,
			"callback_url", cfg.CallbackURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// seed loads products into the local projection of the catalog
func seed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var products []*types.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	dbPath := strings.TrimSpace(os.Getenv("ORDERFLOW_DB_PATH"))
	if dbPath == "" {
		dbPath = config.DefaultDBPath
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, p := range products {
		if err := store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	fmt.Printf("seeded %d products into %s\n", len(products), dbPath)
	return nil
}
