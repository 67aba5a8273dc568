package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaraja is a minimal stand-in for the gateway's HTTP API
type fakeDaraja struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32
	queryCalls atomic.Int32

	mu          sync.Mutex
	lastPush    map[string]interface{}
	pushStatus  int
	pushBody    string
	queryStatus int
	queryBody   string
	tokenStatus int
	// tokenGate, when set, holds token responses until it is closed
	tokenGate chan struct{}
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.tokenGate != nil {
			<-f.tokenGate
		}
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
		assert.Equal(t, want, r.Header.Get("Authorization"))
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.pushCalls.Add(1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastPush = body
		status, resp := f.pushStatus, f.pushBody
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		if resp == "" {
			resp = `{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success"}`
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		f.queryCalls.Add(1)
		f.mu.Lock()
		status, resp := f.queryStatus, f.queryBody
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://shop.example/api/payments/callback",
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2,
		},
	}, nil)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC) }
	return c
}

func TestNewClient_MissingConfig(t *testing.T) {
	_, err := NewClient(Config{ConsumerKey: "key"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "pass key")
}

func TestPush(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	resp, err := c.Push(context.Background(), PushRequest{
		Amount:           decimal.RequireFromString("239.50"),
		PhoneNumber:      "+254712345678",
		AccountReference: "ORDER-o-1",
		Description:      "Order payment",
	})
	require.NoError(t, err)
	assert.Equal(t, "mr-1", resp.MerchantRequestID)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)

	f.mu.Lock()
	body := f.lastPush
	f.mu.Unlock()
	// 08:30 UTC is 11:30 in Nairobi
	assert.Equal(t, "20240115113000", body["Timestamp"])
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379passkey20240115113000"))
	assert.Equal(t, wantPassword, body["Password"])
	assert.Equal(t, float64(240), body["Amount"])
	assert.Equal(t, "254712345678", body["PartyA"])
	assert.Equal(t, "254712345678", body["PhoneNumber"])
	assert.Equal(t, "174379", body["PartyB"])
	assert.Equal(t, TransactionType, body["TransactionType"])
	assert.Equal(t, "https://shop.example/api/payments/callback", body["CallBackURL"])
	assert.Equal(t, "ORDER-o-1", body["AccountReference"])
}

func TestPush_TokenCached(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)
	ctx := context.Background()

	req := PushRequest{Amount: decimal.NewFromInt(10), PhoneNumber: "0712345678", AccountReference: "ORDER-1"}
	for i := 0; i < 3; i++ {
		_, err := c.Push(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	// Expired tokens are refreshed on demand
	c.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }
	_, err := c.Push(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestAccessToken_ConcurrentRefreshCollapsed(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.accessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, f.tokenCalls.Load(), int32(10))
	assert.GreaterOrEqual(t, f.tokenCalls.Load(), int32(1))
}

func TestAccessToken_RefreshSurvivesCancelledCaller(t *testing.T) {
	f := &fakeDaraja{tokenGate: make(chan struct{})}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.accessToken(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.tokenCalls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	go func() {
		tok, err := c.accessToken(context.Background())
		assert.NoError(t, err)
		second <- tok
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.tokenGate)
	select {
	case tok := <-second:
		assert.Equal(t, "tok-1", tok)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting caller never received the token")
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestPush_Rejected(t *testing.T) {
	f := &fakeDaraja{
		pushStatus: http.StatusBadRequest,
		pushBody:   `{"requestId":"r-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`,
	}
	c := newTestClient(t, f)

	_, err := c.Push(context.Background(), PushRequest{Amount: decimal.NewFromInt(10), PhoneNumber: "254712345678"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "400.002.02", apiErr.ErrorCode)
	assert.Contains(t, err.Error(), "Invalid PhoneNumber")

	// Pushes are never retried
	assert.Equal(t, int32(1), f.pushCalls.Load())
}

func TestPush_ServerErrorNotRetried(t *testing.T) {
	f := &fakeDaraja{pushStatus: http.StatusInternalServerError, pushBody: "boom"}
	c := newTestClient(t, f)

	_, err := c.Push(context.Background(), PushRequest{Amount: decimal.NewFromInt(10), PhoneNumber: "254712345678"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), f.pushCalls.Load())
}

func TestPush_Validation(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.Push(ctx, PushRequest{Amount: decimal.NewFromInt(10), PhoneNumber: "12ab"})
	assert.ErrorIs(t, err, ErrInvalidPhone)

	_, err = c.Push(ctx, PushRequest{Amount: decimal.Zero, PhoneNumber: "254712345678"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, int32(0), f.pushCalls.Load())
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantPending bool
		wantCode    int
		wantSuccess bool
	}{
		{
			name:        "success numeric",
			body:        `{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully."}`,
			wantSuccess: true,
		},
		{
			name:        "success string",
			body:        `{"ResponseCode":"0","CheckoutRequestID":"ws_CO_1","ResultCode":"0","ResultDesc":"ok"}`,
			wantSuccess: true,
		},
		{
			name:     "cancelled by user",
			body:     `{"CheckoutRequestID":"ws_CO_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`,
			wantCode: 1032,
		},
		{
			name:        "still processing",
			status:      http.StatusInternalServerError,
			body:        `{"requestId":"r-1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`,
			wantPending: true,
		},
		{
			name:        "no result code yet",
			body:        `{"CheckoutRequestID":"ws_CO_1","ResponseCode":"0"}`,
			wantPending: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDaraja{queryStatus: tt.status, queryBody: tt.body}
			c := newTestClient(t, f)

			res, err := c.Query(context.Background(), "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, res.Pending)
			assert.Equal(t, tt.wantCode, res.ResultCode)
			assert.Equal(t, tt.wantSuccess, res.Succeeded())
		})
	}
}

func TestQuery_RetriesTransientFailures(t *testing.T) {
	f := &fakeDaraja{queryStatus: http.StatusServiceUnavailable, queryBody: "unavailable"}
	c := newTestClient(t, f)

	_, err := c.Query(context.Background(), "ws_CO_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), f.queryCalls.Load())
}

func TestQuery_RejectionNotRetried(t *testing.T) {
	f := &fakeDaraja{queryStatus: http.StatusBadRequest, queryBody: `{"errorCode":"400.002.02","errorMessage":"Invalid CheckoutRequestID"}`}
	c := newTestClient(t, f)

	_, err := c.Query(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), f.queryCalls.Load())

	_, err = c.Query(context.Background(), "")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestQuery_TokenFailure(t *testing.T) {
	f := &fakeDaraja{tokenStatus: http.StatusUnauthorized}
	c := newTestClient(t, f)

	_, err := c.Query(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(0), f.queryCalls.Load())
}
