package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow/internal/callback"
	"github.com/dshills/orderflow/internal/gateway"
	"github.com/dshills/orderflow/internal/health"
	"github.com/dshills/orderflow/internal/orders"
	"github.com/dshills/orderflow/internal/payments"
	"github.com/dshills/orderflow/internal/storage"
	"github.com/dshills/orderflow/pkg/types"
)

const testSecret = "test-secret"

type fakeGateway struct {
	pushErr error
	n       int
}

func (g *fakeGateway) Push(context.Context, gateway.PushRequest) (*gateway.PushResponse, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.n++
	return &gateway.PushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", g.n),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) Query(_ context.Context, id string) (*gateway.QueryResult, error) {
	return &gateway.QueryResult{CheckoutRequestID: id, Pending: true}, nil
}

type testAPI struct {
	handler http.Handler
	store   *storage.SQLiteStorage
	gw      *fakeGateway
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertProduct(context.Background(), &types.Product{
		ID:                "maize",
		SellerID:          "farmer-1",
		Name:              "Maize",
		Price:             decimal.NewFromInt(120),
		AvailableQuantity: 500,
	}))

	gw := &fakeGateway{}
	orderSvc := orders.NewService(store, nil)
	paySvc := payments.NewService(store, gw, nil)
	rec := callback.NewReconciler(store, paySvc, 0, nil)
	if opts.JWTSecret == "" {
		opts.JWTSecret = testSecret
	}
	if opts.RateRPS == 0 {
		opts.RateRPS, opts.RateBurst = 1000, 1000
	}
	srv := NewServer(orderSvc, paySvc, rec, health.NewHandler("test", health.NewStorageChecker(store)), opts, nil)
	return &testAPI{handler: srv.Routes(), store: store, gw: gw}
}

func token(t *testing.T, userID string, role types.Role) string {
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) createOrder(t *testing.T, buyer string, qty int) types.OrderSummary {
	rec := a.do(t, http.MethodPost, "/api/orders", buyer, map[string]any{
		"items":            []map[string]any{{"product_id": "maize", "quantity": qty, "unit_price": 120}},
		"delivery_address": "Westlands, Nairobi",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[types.OrderSummary](t, rec)
}

func TestCreateOrder(t *testing.T) {
	api := newTestAPI(t, Options{})
	buyer := token(t, "buyer-1", types.RoleBuyer)

	summary := api.createOrder(t, buyer, 2)
	assert.NotEmpty(t, summary.ID)
	assert.True(t, decimal.NewFromInt(240).Equal(summary.TotalAmount))
	assert.Equal(t, types.OrderPendingPayment, summary.Status)
	assert.Equal(t, types.OrderPaymentNotInitiated, summary.PaymentStatus)

	rec := api.do(t, http.MethodGet, "/api/orders/"+summary.ID, buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeJSON[types.Order](t, rec)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 2, order.Lines[0].Quantity)
}

func TestCreateOrder_Errors(t *testing.T) {
	api := newTestAPI(t, Options{})
	buyer := token(t, "buyer-1", types.RoleBuyer)

	tests := []struct {
		name   string
		bearer string
		body   any
		status int
	}{
		{name: "no token", body: `{}`, status: http.StatusUnauthorized},
		{name: "bad token", bearer: "not-a-jwt", body: `{}`, status: http.StatusUnauthorized},
		{name: "not json", bearer: buyer, body: `{`, status: http.StatusBadRequest},
		{name: "empty items", bearer: buyer, body: `{"items":[],"delivery_address":"x"}`, status: http.StatusBadRequest},
		{name: "missing address", bearer: buyer, body: `{"items":[{"product_id":"maize","quantity":1}]}`, status: http.StatusBadRequest},
		{name: "zero quantity", bearer: buyer, body: `{"items":[{"product_id":"maize","quantity":0}],"delivery_address":"x"}`, status: http.StatusBadRequest},
		{name: "unknown product", bearer: buyer, body: `{"items":[{"product_id":"rice","quantity":1}],"delivery_address":"x"}`, status: http.StatusNotFound},
		{name: "price mismatch", bearer: buyer, body: `{"items":[{"product_id":"maize","quantity":1,"unit_price":100}],"delivery_address":"x"}`, status: http.StatusBadRequest},
		{name: "insufficient stock", bearer: buyer, body: `{"items":[{"product_id":"maize","quantity":501}],"delivery_address":"x"}`, status: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/orders", tt.bearer, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeJSON[ErrorResponse](t, rec).Error)
		})
	}

	p, err := api.store.GetProduct(context.Background(), "maize")
	require.NoError(t, err)
	assert.Equal(t, 500, p.AvailableQuantity)
}

func TestInsufficientStockMessage(t *testing.T) {
	api := newTestAPI(t, Options{})
	rec := api.do(t, http.MethodPost, "/api/orders", token(t, "buyer-1", types.RoleBuyer),
		`{"items":[{"product_id":"maize","quantity":501}],"delivery_address":"x"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeJSON[ErrorResponse](t, rec).Error, `"Maize" only has 500 available`)
}

func TestListAndRecentOrders(t *testing.T) {
	api := newTestAPI(t, Options{})
	buyer := token(t, "buyer-1", types.RoleBuyer)
	seller := token(t, "farmer-1", types.RoleFarmer)
	for i := 0; i < 7; i++ {
		api.createOrder(t, buyer, 1)
	}

	rec := api.do(t, http.MethodGet, "/api/orders?page=2&limit=5", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeJSON[orders.OrderPage](t, rec)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Results, 2)

	rec = api.do(t, http.MethodGet, "/api/orders?status=bogus", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders?page=x", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders/recent", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decodeJSON[recentOrdersResponse](t, rec)
	assert.Len(t, recent.Results, orders.RecentLimit)
}

func TestUpdateStatus(t *testing.T) {
	api := newTestAPI(t, Options{})
	buyer := token(t, "buyer-1", types.RoleBuyer)
	seller := token(t, "farmer-1", types.RoleFarmer)
	order := api.createOrder(t, buyer, 1)
	path := "/api/orders/" + order.ID + "/status"

	rec := api.do(t, http.MethodPut, path, buyer, `{"status":"processing"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPut, path, seller, `{"status":"flying"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, path, seller, `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPut, path, seller, `{"status":"shipped"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.OrderShipped, decodeJSON[types.Order](t, rec).Status)

	rec = api.do(t, http.MethodPut, path, seller, `{"status":"processing"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/orders/missing/status", seller, `{"status":"processing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentFlow(t *testing.T) {
	api := newTestAPI(t, Options{})
	buyer := token(t, "buyer-1", types.RoleBuyer)
	order := api.createOrder(t, buyer, 2)

	rec := api.do(t, http.MethodPost, "/api/payments/initiate", buyer,
		map[string]string{"order_id": order.ID, "phone_number": "0712345678"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeJSON[types.PaymentSummary](t, rec)
	assert.Equal(t, "ws_CO_1", summary.CheckoutRequestID)

	rec = api.do(t, http.MethodPost, "/api/payments/initiate", buyer,
		map[string]string{"order_id": order.ID, "phone_number": "0712345678"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/payments/"+summary.PaymentID+"/status", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.PaymentPending, decodeJSON[types.PaymentStatusView](t, rec).Status)

	callbackBody := fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`, summary.CheckoutRequestID)
	rec = api.do(t, http.MethodPost, "/api/payments/callback", "", callbackBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, callback.Accepted, decodeJSON[callback.Ack](t, rec))

	rec = api.do(t, http.MethodGet, "/api/payments/"+summary.PaymentID+"/status", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeJSON[types.PaymentStatusView](t, rec)
	assert.Equal(t, types.PaymentCompleted, v.Status)
	assert.Equal(t, "NLJ7RT61SV", v.Receipt)

	rec = api.do(t, http.MethodGet, "/api/orders/"+order.ID+"/payment", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, summary.PaymentID, decodeJSON[types.Payment](t, rec).ID)

	rec = api.do(t, http.MethodGet, "/api/orders/"+order.ID, buyer, nil)
	got := decodeJSON[types.Order](t, rec)
	assert.Equal(t, types.OrderPaymentConfirmed, got.Status)
	assert.Equal(t, types.OrderPaymentPaid, got.PaymentStatus)
}

func TestInitiatePayment_Errors(t *testing.T) {
	api := newTestAPI(t, Options{})
	buyer := token(t, "buyer-1", types.RoleBuyer)
	order := api.createOrder(t, buyer, 1)

	rec := api.do(t, http.MethodPost, "/api/payments/initiate", buyer, `{"order_id":"`+order.ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/payments/initiate", buyer,
		map[string]string{"order_id": order.ID, "phone_number": "+1 415 555 0100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/payments/initiate", token(t, "buyer-2", types.RoleBuyer),
		map[string]string{"order_id": order.ID, "phone_number": "0712345678"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	api.gw.pushErr = &gateway.APIError{StatusCode: 500, ErrorMessage: "Internal Server Error"}
	rec = api.do(t, http.MethodPost, "/api/payments/initiate", buyer,
		map[string]string{"order_id": order.ID, "phone_number": "0712345678"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "payment service unavailable", body.Error)
	assert.Equal(t, "Internal Server Error", body.Details)

	api.gw.pushErr = &gateway.APIError{StatusCode: 400, ErrorCode: "400.002.02", ErrorMessage: "Bad Request - Invalid PhoneNumber"}
	rec = api.do(t, http.MethodPost, "/api/payments/initiate", buyer,
		map[string]string{"order_id": order.ID, "phone_number": "0712345678"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", decodeJSON[ErrorResponse](t, rec).Details)

	api.gw.pushErr = gateway.ErrUnavailable
	rec = api.do(t, http.MethodPost, "/api/payments/initiate", buyer,
		map[string]string{"order_id": order.ID, "phone_number": "0712345678"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, decodeJSON[ErrorResponse](t, rec).Details)
}

func TestCallback_AlwaysAcknowledged(t *testing.T) {
	api := newTestAPI(t, Options{})
	for _, body := range []string{``, `garbage`, `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_404","ResultCode":0}}}`} {
		rec := api.do(t, http.MethodPost, "/api/payments/callback", "", body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, callback.Accepted, decodeJSON[callback.Ack](t, rec))
	}
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, Options{RateRPS: 1, RateBurst: 2})
	buyer := token(t, "buyer-1", types.RoleBuyer)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, api.do(t, http.MethodGet, "/api/orders", buyer, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator(testSecret)

	id, err := a.Parse(token(t, "buyer-1", types.RoleBuyer))
	require.NoError(t, err)
	assert.Equal(t, types.Identity{ID: "buyer-1", Role: types.RoleBuyer}, id)

	sub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "farmer-9", "role": "farmer"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)
	id, err = a.Parse(sub)
	require.NoError(t, err)
	assert.Equal(t, "farmer-9", id.ID)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "x"}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = a.Parse(other)
	assert.Error(t, err)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "buyer"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = a.Parse(anonymous)
	assert.Error(t, err)
}

func TestHealthRoutes(t *testing.T) {
	api := newTestAPI(t, Options{})
	rec := api.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_IgnoresForwardedForHeader(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.RemoteAddr = "203.0.113.7:41000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:41000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.7")
	assert.Equal(t, "203.0.113.7", remoteIP(req))
}
