// Package payments drives push payments for orders: initiation against the
// gateway, status polling and applying authoritative outcomes.
//
// At most one non-failed payment exists per order. A push that fails is
// recorded as a failed payment with result code -1 and leaves the order
// payable, so the buyer may try again.
//
// Outcomes are applied with conditional updates inside one transaction. When a
// poll and a callback race, the first to move the payment out of
// initiated/pending wins and the other is a no-op. A failed outcome cancels
// the order and returns every line's quantity to stock.
package payments
