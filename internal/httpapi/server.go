// Package httpapi exposes orders and payments over HTTP.
//
// Every route except the payment callback and the health endpoints requires
// an HMAC-signed bearer token. Errors are rendered as {"error": "..."} with the
// status of their kind.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/dshills/orderflow/internal/callback"
	"github.com/dshills/orderflow/internal/health"
	"github.com/dshills/orderflow/internal/logging"
	"github.com/dshills/orderflow/internal/orders"
	"github.com/dshills/orderflow/pkg/types"
)

// RequestTimeout bounds each request. The payment initiation path makes up
// to two gateway calls, each with its own client timeout.
const RequestTimeout = 60 * time.Second

// OrderService is the order surface used by the handlers
type OrderService interface {
	CreateOrder(ctx context.Context, buyer types.Identity, req orders.CreateOrderRequest) (*types.Order, error)
	AdvanceStatus(ctx context.Context, actor types.Identity, orderID string, status types.OrderStatus) (*types.Order, error)
	GetOrder(ctx context.Context, actor types.Identity, orderID string) (*types.Order, error)
	ListOrders(ctx context.Context, actor types.Identity, filter orders.ListFilter) (*orders.OrderPage, error)
	RecentOrders(ctx context.Context, seller types.Identity) ([]*types.Order, error)
}

// PaymentService is the payment surface used by the handlers
type PaymentService interface {
	Initiate(ctx context.Context, buyer types.Identity, orderID, phoneNumber string) (*types.PaymentSummary, error)
	Poll(ctx context.Context, buyer types.Identity, paymentID string) (*types.PaymentStatusView, error)
	PaymentForOrder(ctx context.Context, buyer types.Identity, orderID string) (*types.Payment, error)
}

// Reconciler handles gateway callbacks
type Reconciler interface {
	Handle(ctx context.Context, body []byte) callback.Ack
}

// Options configures the API
type Options struct {
	JWTSecret string
	RateRPS   float64
	RateBurst int
}

// Server wires the HTTP routes to the services
type Server struct {
	orders     OrderService
	payments   PaymentService
	reconciler Reconciler
	health     *health.Handler
	auth       *Authenticator
	limiter    *RateLimiter
	logger     *slog.Logger
}

// NewServer creates the API server. health may be nil.
func NewServer(o OrderService, p PaymentService, rec Reconciler, h *health.Handler, opts Options, logger *slog.Logger) *Server {
	return &Server{
		orders:     o,
		payments:   p,
		reconciler: rec,
		health:     h,
		auth:       NewAuthenticator(opts.JWTSecret),
		limiter:    NewRateLimiter(opts.RateRPS, opts.RateBurst),
		logger:     logging.OrDiscard(logger),
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	if s.health != nil {
		s.health.Mount(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(limitBody)

		// The gateway is not rate limited or authenticated
		r.Post("/payments/callback", s.handleCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Use(s.auth.Middleware)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.handleCreateOrder)
				r.Get("/", s.handleListOrders)
				r.Get("/recent", s.handleRecentOrders)
				r.Get("/{orderID}", s.handleGetOrder)
				r.Put("/{orderID}/status", s.handleUpdateStatus)
				r.Get("/{orderID}/payment", s.handleOrderPayment)
			})
			r.Route("/payments", func(r chi.Router) {
				r.Post("/initiate", s.handleInitiatePayment)
				r.Get("/{paymentID}/status", s.handlePaymentStatus)
			})
		})
	})
	return r
}

// fail logs server-side failures and renders err
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch types.KindOf(err) {
	case types.KindInternal:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	case types.KindGateway:
		s.logger.Warn("gateway error", "path", r.URL.Path, "error", err)
	}
	writeError(w, r, err)
}
