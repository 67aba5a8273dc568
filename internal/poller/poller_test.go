package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow/pkg/types"
)

func TestWait_CompletesAfterPending(t *testing.T) {
	var calls atomic.Int32
	check := func(ctx context.Context) (*types.PaymentStatusView, error) {
		n := calls.Add(1)
		if n < 3 {
			return &types.PaymentStatusView{PaymentID: "p1", Status: types.PaymentPending}, nil
		}
		return &types.PaymentStatusView{PaymentID: "p1", Status: types.PaymentCompleted, Receipt: "R1"}, nil
	}

	view, err := Wait(context.Background(), time.Millisecond, time.Second, check)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentCompleted, view.Status)
	assert.Equal(t, "R1", view.Receipt)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWait_StopsOnFailed(t *testing.T) {
	check := func(ctx context.Context) (*types.PaymentStatusView, error) {
		return &types.PaymentStatusView{Status: types.PaymentFailed}, nil
	}
	view, err := Wait(context.Background(), time.Millisecond, time.Second, check)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentFailed, view.Status)
}

func TestWait_Timeout(t *testing.T) {
	check := func(ctx context.Context) (*types.PaymentStatusView, error) {
		return &types.PaymentStatusView{PaymentID: "p1", Status: types.PaymentPending}, nil
	}
	start := time.Now()
	view, err := Wait(context.Background(), 5*time.Millisecond, 30*time.Millisecond, check)
	assert.ErrorIs(t, err, ErrTimeout)
	require.NotNil(t, view)
	assert.Equal(t, types.PaymentPending, view.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_CheckError(t *testing.T) {
	boom := errors.New("boom")
	check := func(ctx context.Context) (*types.PaymentStatusView, error) {
		return nil, boom
	}
	view, err := Wait(context.Background(), time.Millisecond, time.Second, check)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, view)
}

func TestWait_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	check := func(ctx context.Context) (*types.PaymentStatusView, error) {
		cancel()
		return &types.PaymentStatusView{Status: types.PaymentPending}, nil
	}
	_, err := Wait(ctx, time.Hour, time.Hour, check)
	assert.ErrorIs(t, err, context.Canceled)
}
