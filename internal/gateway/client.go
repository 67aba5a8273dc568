package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/orderflow/internal/logging"
)

// Config holds the merchant credentials and endpoints
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	// CallbackURL is where the gateway posts the asynchronous result
	CallbackURL string
	Timeout     time.Duration
	Retry       RetryConfig
}

// Validate checks that every credential is present
func (c Config) Validate() error {
	var missing []string
	if c.ConsumerKey == "" {
		missing = append(missing, "consumer key")
	}
	if c.ConsumerSecret == "" {
		missing = append(missing, "consumer secret")
	}
	if c.ShortCode == "" {
		missing = append(missing, "short code")
	}
	if c.PassKey == "" {
		missing = append(missing, "pass key")
	}
	if c.CallbackURL == "" {
		missing = append(missing, "callback url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Client talks to the mobile-money gateway. It owns its access token and
// refreshes it on demand; concurrent refreshes share one request.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
}

// NewClient creates a gateway client
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

// BaseURL returns the gateway base URL, used by health checks
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// accessToken returns the cached token, fetching a new one when it has expired
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	// The refresh is shared by every waiter, so it runs detached from the
	// caller that started it and bounded by the client timeout instead.
	ch := c.refresh.DoChan("token", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return retryWithBackoff(fetchCtx, c.cfg.Retry, func() (string, error) {
			return c.fetchToken(fetchCtx)
		})
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := c.do(req, &body); err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUnavailable)
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.tokenExpiry = c.now().Add(tokenTTL)
	c.mu.Unlock()

	c.logger.Debug("gateway access token refreshed")
	return body.AccessToken, nil
}

// password is base64(shortcode + passkey + timestamp)
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

// Push starts an asynchronous push payment. It is not retried: a repeated
// push would prompt the customer twice.
func (c *Client) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.now())
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   TransactionType,
		"Amount":            WholeAmount(req.Amount),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	httpReq, err := c.newJSONRequest(ctx, pushPath, token, payload)
	if err != nil {
		return nil, err
	}

	var resp PushResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, fmt.Errorf("push payment: %w", err)
	}
	if resp.ResponseCode != "" && resp.ResponseCode != "0" {
		return nil, fmt.Errorf("push payment: %w: %s", ErrRejected, resp.ResponseDescription)
	}
	if resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("push payment: %w: missing checkout request id", ErrUnavailable)
	}

	c.logger.Info("push payment accepted",
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID)
	return &resp, nil
}

// Query asks the gateway for the result of a push. A request the customer has
// not yet answered is reported as Pending rather than as an error.
func (c *Client) Query(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	if checkoutRequestID == "" {
		return nil, fmt.Errorf("%w: checkout request id is required", ErrRejected)
	}

	return retryWithBackoff(ctx, c.cfg.Retry, func() (*QueryResult, error) {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		timestamp := Timestamp(c.now())
		payload := map[string]interface{}{
			"BusinessShortCode": c.cfg.ShortCode,
			"Password":          c.password(timestamp),
			"Timestamp":         timestamp,
			"CheckoutRequestID": checkoutRequestID,
		}
		httpReq, err := c.newJSONRequest(ctx, queryPath, token, payload)
		if err != nil {
			return nil, err
		}

		var resp struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *Code  `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		}
		err = c.do(httpReq, &resp)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeStillProcessing {
			return &QueryResult{CheckoutRequestID: checkoutRequestID, Pending: true, ResultDesc: apiErr.ErrorMessage}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("query payment: %w", err)
		}

		result := &QueryResult{
			MerchantRequestID: resp.MerchantRequestID,
			CheckoutRequestID: resp.CheckoutRequestID,
			ResultDesc:        resp.ResultDesc,
		}
		if resp.ResultCode == nil {
			result.Pending = true
		} else {
			result.ResultCode = int(*resp.ResultCode)
		}
		return result, nil
	})
}

func (c *Client) newJSONRequest(ctx context.Context, path, token string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// do sends req and decodes a 200 response into out. Non-200 responses become *APIError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.ErrorMessage == "" {
			apiErr.ErrorMessage = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
