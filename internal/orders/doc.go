// Package orders implements order creation with atomic stock reservation and
// the forward-only fulfillment state machine.
//
// Forward sequence:
//
//	pending-payment -> payment-confirmed -> processing -> shipped -> delivered -> completed
//
// A seller may jump forward any number of steps but never backward or to the
// same status. Cancellation is reachable only from the payment-failure path in
// package payments; cancelled and refunded orders never move again.
package orders
