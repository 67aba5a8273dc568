package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h *Handler, path string) (int, map[string]any) {
	r := chi.NewRouter()
	h.Mount(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	h := NewHandler("1.1.0", NewStorageChecker(pinger{}), NewHTTPChecker("gateway", upstream.URL))

	code, body := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.1.0", body["version"])
	components := body["components"].(map[string]any)
	assert.Contains(t, components, "database")
	assert.Contains(t, components, "gateway")

	code, body = serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestHealth_GatewayDownIsDegraded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	h := NewHandler("dev", NewStorageChecker(pinger{}))
	h.RegisterChecker(NewHTTPChecker("gateway", upstream.URL))

	code, body := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])

	code, _ = serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealth_DatabaseDown(t *testing.T) {
	h := NewHandler("dev", NewStorageChecker(pinger{err: errors.New("sql: database is closed")}))

	code, body := serve(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	code, body = serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["status"])

	code, body = serve(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])
}

func TestHTTPChecker_Unreachable(t *testing.T) {
	c := NewHTTPChecker("gateway", "http://127.0.0.1:1")
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}
