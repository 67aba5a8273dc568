package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/orderflow/pkg/types"
)

// actorProperties are the arguments every tool takes to identify the user it acts for
func actorProperties() map[string]interface{} {
	return map[string]interface{}{
		"user_id": map[string]interface{}{
			"type":        "string",
			"description": "ID of the user the operator is acting for",
		},
		"role": map[string]interface{}{
			"type":        "string",
			"description": "Role of that user",
			"enum":        []string{string(types.RoleBuyer), string(types.RoleFarmer), string(types.RoleAdmin)},
		},
	}
}

func withActor(props map[string]interface{}) map[string]interface{} {
	for k, v := range actorProperties() {
		props[k] = v
	}
	return props
}

// getOrderTool returns the tool definition for get_order
func getOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_order",
		Description: "Fetch an order with its lines. The acting user must be the buyer or the seller.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withActor(map[string]interface{}{
				"order_id": map[string]interface{}{
					"type":        "string",
					"description": "Order ID",
				},
			}),
			Required: []string{"user_id", "order_id"},
		},
	}
}

// getPaymentTool returns the tool definition for get_payment
func getPaymentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_payment",
		Description: "Fetch a payment record, or the live payment of an order, without contacting the gateway",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withActor(map[string]interface{}{
				"payment_id": map[string]interface{}{
					"type":        "string",
					"description": "Payment ID (takes precedence over order_id)",
				},
				"order_id": map[string]interface{}{
					"type":        "string",
					"description": "Order ID whose live payment to fetch",
				},
			}),
			Required: []string{"user_id"},
		},
	}
}

// checkPaymentTool returns the tool definition for check_payment
func checkPaymentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "check_payment",
		Description: "Poll a payment once, querying the gateway if it is still pending",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withActor(map[string]interface{}{
				"payment_id": map[string]interface{}{
					"type":        "string",
					"description": "Payment ID",
				},
			}),
			Required: []string{"user_id", "payment_id"},
		},
	}
}

// waitForPaymentTool returns the tool definition for wait_for_payment
func waitForPaymentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "wait_for_payment",
		Description: "Poll a payment at a fixed interval until it completes or fails, or the timeout elapses",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withActor(map[string]interface{}{
				"payment_id": map[string]interface{}{
					"type":        "string",
					"description": "Payment ID",
				},
				"interval_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Seconds between polls",
					"default":     3,
					"minimum":     1,
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Give up after this many seconds",
					"default":     300,
					"minimum":     1,
					"maximum":     900,
				},
			}),
			Required: []string{"user_id", "payment_id"},
		},
	}
}

// advanceOrderStatusTool returns the tool definition for advance_order_status
func advanceOrderStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "advance_order_status",
		Description: "Move an order forward in its fulfillment sequence on behalf of its seller",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withActor(map[string]interface{}{
				"order_id": map[string]interface{}{
					"type":        "string",
					"description": "Order ID",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Target status",
					"enum": []string{
						string(types.OrderProcessing), string(types.OrderShipped),
						string(types.OrderDelivered), string(types.OrderCompleted),
					},
				},
			}),
			Required: []string{"user_id", "order_id", "status"},
		},
	}
}
