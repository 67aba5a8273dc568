package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/orderflow/internal/poller"
	"github.com/dshills/orderflow/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32001 // Order or payment does not exist
	ErrorCodeForbidden     = -32002 // Acting user is not a party to the order
	ErrorCodeConflict      = -32003 // Order or payment is in the wrong state
	ErrorCodeGateway       = -32004 // Payment gateway failed or is unreachable
)

// handleGetOrder handles the get_order tool invocation
func (s *Server) handleGetOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, err := parseArgs(request)
	if err != nil {
		return nil, err
	}
	orderID, err := requireString(args, "order_id")
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(order)), nil
}

// handleGetPayment handles the get_payment tool invocation
func (s *Server) handleGetPayment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, err := parseArgs(request)
	if err != nil {
		return nil, err
	}

	paymentID := getStringDefault(args, "payment_id", "")
	orderID := getStringDefault(args, "order_id", "")

	var payment *types.Payment
	switch {
	case paymentID != "":
		payment, err = s.payments.GetPayment(ctx, actor, paymentID)
	case orderID != "":
		payment, err = s.payments.PaymentForOrder(ctx, actor, orderID)
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "payment_id or order_id is required", map[string]interface{}{
			"param":  "payment_id",
			"reason": "missing or empty",
		})
	}
	if err != nil {
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(payment)), nil
}

// handleCheckPayment handles the check_payment tool invocation
func (s *Server) handleCheckPayment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, err := parseArgs(request)
	if err != nil {
		return nil, err
	}
	paymentID, err := requireString(args, "payment_id")
	if err != nil {
		return nil, err
	}

	view, err := s.payments.Poll(ctx, actor, paymentID)
	if err != nil {
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(view)), nil
}

// handleWaitForPayment handles the wait_for_payment tool invocation. A
// timeout is reported in the result, not as an error.
func (s *Server) handleWaitForPayment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, err := parseArgs(request)
	if err != nil {
		return nil, err
	}
	paymentID, err := requireString(args, "payment_id")
	if err != nil {
		return nil, err
	}

	interval := s.opts.PollInterval
	if n := getIntDefault(args, "interval_seconds", 0); n > 0 {
		interval = time.Duration(n) * time.Second
	}
	timeout := s.opts.PollTimeout
	if n := getIntDefault(args, "timeout_seconds", 0); n > 0 {
		timeout = time.Duration(n) * time.Second
	}
	if timeout > MaxWaitTimeout {
		return nil, newMCPError(ErrorCodeInvalidParams, "timeout_seconds is too large", map[string]interface{}{
			"param": "timeout_seconds",
			"max":   int(MaxWaitTimeout / time.Second),
		})
	}

	start := time.Now()
	view, err := poller.Wait(ctx, interval, timeout, func(ctx context.Context) (*types.PaymentStatusView, error) {
		return s.payments.Poll(ctx, actor, paymentID)
	})
	timedOut := errors.Is(err, poller.ErrTimeout)
	if err != nil && !timedOut {
		return nil, toMCPError(err)
	}

	response := map[string]interface{}{
		"payment_id":  paymentID,
		"timed_out":   timedOut,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if view != nil {
		response["status"] = view.Status
		if view.Receipt != "" {
			response["receipt"] = view.Receipt
		}
		if view.Reason != "" {
			response["reason"] = view.Reason
		}
	} else {
		response["status"] = types.PaymentPending
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAdvanceOrderStatus handles the advance_order_status tool invocation
func (s *Server) handleAdvanceOrderStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, err := parseArgs(request)
	if err != nil {
		return nil, err
	}
	orderID, err := requireString(args, "order_id")
	if err != nil {
		return nil, err
	}
	status, err := requireString(args, "status")
	if err != nil {
		return nil, err
	}

	order, err := s.orders.AdvanceStatus(ctx, actor, orderID, types.OrderStatus(status))
	if err != nil {
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(order.Summary())), nil
}

// Helper functions

// parseArgs extracts the argument map and the acting user
func parseArgs(request mcp.CallToolRequest) (map[string]interface{}, types.Identity, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, types.Identity{}, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	userID, err := requireString(args, "user_id")
	if err != nil {
		return nil, types.Identity{}, err
	}
	return args, types.Identity{ID: userID, Role: types.Role(getStringDefault(args, "role", ""))}, nil
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return v, nil
}

// toMCPError maps a service error to the MCP error for its kind
func toMCPError(err error) error {
	code := ErrorCodeInternalError
	switch types.KindOf(err) {
	case types.KindValidation, types.KindUnauthorized:
		code = ErrorCodeInvalidParams
	case types.KindNotFound:
		code = ErrorCodeNotFound
	case types.KindForbidden:
		code = ErrorCodeForbidden
	case types.KindConflict:
		code = ErrorCodeConflict
	case types.KindGateway:
		code = ErrorCodeGateway
	}
	return newMCPError(code, err.Error(), map[string]interface{}{
		"kind": types.KindOf(err).String(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
