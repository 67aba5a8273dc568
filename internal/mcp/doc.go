// Package mcp implements the Model Context Protocol (MCP) server used by
// operators to inspect orders and payments.
//
// Every tool acts on behalf of a user given by the user_id (and optional
// role) arguments, and the usual ownership rules apply: orders are visible to
// their buyer and seller, payments to the buyer, and only the seller may
// advance an order.
//
//   - get_order: order with its lines
//   - get_payment: stored payment record, by payment_id or order_id
//   - check_payment: one poll, querying the gateway while pending
//   - wait_for_payment: poll every interval until completed/failed or timeout
//   - advance_order_status: move an order forward on behalf of its seller
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries the protocol, so the server binary logs to stderr.
//
// # Tool: wait_for_payment
//
//	Request:
//	{
//	  "name": "wait_for_payment",
//	  "arguments": {
//	    "user_id": "buyer-1",
//	    "payment_id": "5d0c…",
//	    "interval_seconds": 3,
//	    "timeout_seconds": 300
//	  }
//	}
//
//	Response:
//	{
//	  "payment_id": "5d0c…",
//	  "status": "completed",
//	  "receipt": "NLJ7RT61SV",
//	  "timed_out": false,
//	  "duration_ms": 9012
//	}
//
// A timeout leaves the payment untouched and is reported with
// "timed_out": true and status "pending".
//
// # Errors
//
// Service errors map to MCP error codes by kind:
//
//	-32602  invalid parameters (validation, missing user)
//	-32001  not found
//	-32002  forbidden
//	-32003  state conflict
//	-32004  gateway failure
//	-32603  internal error
package mcp
