package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow/internal/gateway"
)

func setGatewayEnv(t *testing.T) {
	t.Setenv("DARAJA_CONSUMER_KEY", "key")
	t.Setenv("DARAJA_CONSUMER_SECRET", "secret")
	t.Setenv("DARAJA_SHORTCODE", "174379")
	t.Setenv("DARAJA_PASSKEY", "passkey")
	t.Setenv("ORDERFLOW_BASE_URL", "https://shop.example.com/")
}

func TestLoad_Defaults(t *testing.T) {
	setGatewayEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, gateway.DefaultBaseURL, cfg.GatewayBaseURL)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.PollTimeout)
	assert.Equal(t, "https://shop.example.com/api/payments/callback", cfg.CallbackURL())

	gw := cfg.Gateway()
	assert.Equal(t, "174379", gw.ShortCode)
	assert.Equal(t, cfg.CallbackURL(), gw.CallbackURL)
	assert.NoError(t, gw.Validate())

	assert.ErrorIs(t, cfg.ValidateHTTP(), ErrMissingJWTSecret)
}

func TestLoad_Overrides(t *testing.T) {
	setGatewayEnv(t)
	t.Setenv("ORDERFLOW_DB_PATH", "/var/lib/orderflow/data.db")
	t.Setenv("ORDERFLOW_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("ORDERFLOW_JWT_SECRET", "s3cret")
	t.Setenv("ORDERFLOW_RATE_RPS", "2.5")
	t.Setenv("ORDERFLOW_RATE_BURST", "5")
	t.Setenv("ORDERFLOW_CALLBACK_CACHE_SIZE", "100")
	t.Setenv("ORDERFLOW_POLL_INTERVAL", "1s")
	t.Setenv("ORDERFLOW_POLL_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/orderflow/data.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, 2.5, cfg.RateRPS)
	assert.Equal(t, 5, cfg.RateBurst)
	assert.Equal(t, 100, cfg.CallbackCacheSize)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.NoError(t, cfg.ValidateHTTP())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing passkey", env: map[string]string{"DARAJA_PASSKEY": ""}},
		{name: "missing base url", env: map[string]string{"ORDERFLOW_BASE_URL": ""}},
		{name: "bad burst", env: map[string]string{"ORDERFLOW_RATE_BURST": "many"}},
		{name: "zero rps", env: map[string]string{"ORDERFLOW_RATE_RPS": "0"}},
		{name: "bad interval", env: map[string]string{"ORDERFLOW_POLL_INTERVAL": "3"}},
		{name: "timeout below interval", env: map[string]string{"ORDERFLOW_POLL_INTERVAL": "10s", "ORDERFLOW_POLL_TIMEOUT": "5s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setGatewayEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
