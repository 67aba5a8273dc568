package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/orderflow/internal/orders"
	"github.com/dshills/orderflow/internal/payments"
	"github.com/dshills/orderflow/internal/poller"
	"github.com/dshills/orderflow/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "orderflow-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.1.0"
	// MaxWaitTimeout caps wait_for_payment
	MaxWaitTimeout = 15 * time.Minute
)

// OrderService is the order surface exposed as tools
type OrderService interface {
	GetOrder(ctx context.Context, actor types.Identity, orderID string) (*types.Order, error)
	AdvanceStatus(ctx context.Context, actor types.Identity, orderID string, status types.OrderStatus) (*types.Order, error)
}

// PaymentService is the payment surface exposed as tools
type PaymentService interface {
	GetPayment(ctx context.Context, buyer types.Identity, paymentID string) (*types.Payment, error)
	PaymentForOrder(ctx context.Context, buyer types.Identity, orderID string) (*types.Payment, error)
	Poll(ctx context.Context, buyer types.Identity, paymentID string) (*types.PaymentStatusView, error)
}

// Options configures the polling defaults of wait_for_payment
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	orders   OrderService
	payments PaymentService
	opts     Options
}

var (
	_ OrderService   = (*orders.Service)(nil)
	_ PaymentService = (*payments.Service)(nil)
)

// NewServer creates a new MCP server instance
func NewServer(o OrderService, p PaymentService, opts Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = poller.DefaultInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = poller.DefaultTimeout
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		orders:   o,
		payments: p,
		opts:     opts,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(getOrderTool(), s.handleGetOrder)
	s.mcp.AddTool(getPaymentTool(), s.handleGetPayment)
	s.mcp.AddTool(checkPaymentTool(), s.handleCheckPayment)
	s.mcp.AddTool(waitForPaymentTool(), s.handleWaitForPayment)
	s.mcp.AddTool(advanceOrderStatusTool(), s.handleAdvanceOrderStatus)
}
