// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/orderflow/internal/callback"
	"github.com/dshills/orderflow/internal/gateway"
	"github.com/dshills/orderflow/internal/poller"
)

// ErrMissingJWTSecret is returned by ValidateHTTP when no signing secret is configured
var ErrMissingJWTSecret = errors.New("ORDERFLOW_JWT_SECRET is required")

// Defaults for optional settings
const (
	DefaultDBPath    = "orderflow.db"
	DefaultHTTPAddr  = ":8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultRateRPS   = 10.0
	DefaultRateBurst = 20
)

// Config holds everything the binaries need to start
type Config struct {
	DBPath    string
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	JWTSecret string
	RateRPS   float64
	RateBurst int

	// PublicBaseURL is this service's externally reachable URL; the gateway
	// callback URL is derived from it
	PublicBaseURL string

	GatewayBaseURL string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	GatewayTimeout time.Duration

	CallbackCacheSize int
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

// Load reads the configuration from environment variables and validates the
// gateway settings.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:            getEnv("ORDERFLOW_DB_PATH", DefaultDBPath),
		HTTPAddr:          getEnv("ORDERFLOW_HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:          getEnv("ORDERFLOW_LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("ORDERFLOW_LOG_FORMAT", DefaultLogFormat),
		JWTSecret:         os.Getenv("ORDERFLOW_JWT_SECRET"),
		PublicBaseURL:     strings.TrimRight(os.Getenv("ORDERFLOW_BASE_URL"), "/"),
		GatewayBaseURL:    getEnv("DARAJA_BASE_URL", gateway.DefaultBaseURL),
		ConsumerKey:       os.Getenv("DARAJA_CONSUMER_KEY"),
		ConsumerSecret:    os.Getenv("DARAJA_CONSUMER_SECRET"),
		ShortCode:         os.Getenv("DARAJA_SHORTCODE"),
		PassKey:           os.Getenv("DARAJA_PASSKEY"),
		GatewayTimeout:    30 * time.Second,
		RateRPS:           DefaultRateRPS,
		RateBurst:         DefaultRateBurst,
		CallbackCacheSize: callback.DefaultCacheSize,
		PollInterval:      poller.DefaultInterval,
		PollTimeout:       poller.DefaultTimeout,
	}

	var err error
	if cfg.RateRPS, err = getEnvFloat("ORDERFLOW_RATE_RPS", cfg.RateRPS); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getEnvInt("ORDERFLOW_RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}
	if cfg.CallbackCacheSize, err = getEnvInt("ORDERFLOW_CALLBACK_CACHE_SIZE", cfg.CallbackCacheSize); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("ORDERFLOW_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = getEnvDuration("ORDERFLOW_POLL_TIMEOUT", cfg.PollTimeout); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every binary needs
func (c *Config) Validate() error {
	if c.RateRPS <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate limit must be positive (rps=%v, burst=%d)", c.RateRPS, c.RateBurst)
	}
	if c.PollInterval <= 0 || c.PollTimeout < c.PollInterval {
		return fmt.Errorf("invalid poll settings (interval=%s, timeout=%s)", c.PollInterval, c.PollTimeout)
	}
	if c.PublicBaseURL == "" {
		return errors.New("ORDERFLOW_BASE_URL is required for the payment callback")
	}
	return c.Gateway().Validate()
}

// ValidateHTTP additionally checks the settings of the HTTP server
func (c *Config) ValidateHTTP() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// CallbackURL is the URL the gateway posts payment results to
func (c *Config) CallbackURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + gateway.CallbackPath
}

// Gateway returns the gateway client configuration
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		BaseURL:        c.GatewayBaseURL,
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		ShortCode:      c.ShortCode,
		PassKey:        c.PassKey,
		CallbackURL:    c.CallbackURL(),
		Timeout:        c.GatewayTimeout,
		Retry:          gateway.DefaultRetryConfig(),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
