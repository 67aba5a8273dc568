// Package types provides shared domain types for the orderflow service.
//
// This package defines the order, order line, product stock and payment records
// exchanged between the storage layer, the order and payment services, the
// callback reconciler and the transport surfaces (HTTP and MCP).
//
// # Order Lifecycle
//
// An order moves forward through a totally ordered sequence of statuses:
//
//	pending-payment < payment-confirmed < processing < shipped < delivered < completed
//
// Two side branches, cancelled and refunded, sit outside the sequence and have no
// ordinal. Use OrderStatus.Ordinal to compare positions:
//
//	cur, _ := order.Status.Ordinal()
//	next, ok := types.OrderProcessing.Ordinal()
//	if !ok || next <= cur {
//	    // reject
//	}
//
// # Payment Lifecycle
//
// A payment starts in initiated, moves to pending once the gateway accepts the push
// request and ends in exactly one terminal status:
//
//	initiated -> pending -> completed | failed
//
// PaymentStatus.IsTerminal reports whether a payment may still change.
//
// # Money
//
// All amounts use github.com/shopspring/decimal so that minor units are never lost
// to binary floating point:
//
//	line := types.NewOrderLine(productID, 2, decimal.NewFromInt(120))
//	line.Subtotal // 240
//
// # Errors
//
// Service errors carry a Kind (validation, unauthorized, forbidden, not found,
// conflict, gateway, internal). Transports map kinds to their own status codes:
//
//	if types.KindOf(err) == types.KindConflict {
//	    // 409
//	}
package types
