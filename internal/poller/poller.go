// Package poller implements the client-side wait for a payment result:
// a fixed-interval check bounded by an overall timeout.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/orderflow/pkg/types"
)

// Defaults used by the checkout flow
const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

// ErrTimeout is returned when no terminal status was observed in time.
// Nothing is written on timeout; a later callback still settles the payment.
var ErrTimeout = errors.New("timed out waiting for payment result")

// CheckFunc reports the current status of the payment being waited on
type CheckFunc func(ctx context.Context) (*types.PaymentStatusView, error)

// Wait calls check immediately and then every interval until it reports
// completed or failed, check returns an error, or timeout elapses. On timeout
// it returns the last observed view together with ErrTimeout.
func Wait(ctx context.Context, interval, timeout time.Duration, check CheckFunc) (*types.PaymentStatusView, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *types.PaymentStatusView
	for {
		view, err := check(ctx)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return last, ErrTimeout
			}
			return last, err
		}
		last = view
		if view.Status == types.PaymentCompleted || view.Status == types.PaymentFailed {
			return view, nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return last, ErrTimeout
			}
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
