// Package binance implements a signed REST client for the exchange API with
// request-weight accounting and retry on transient failures.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/portfolio-ledger/internal/circuitbreaker"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/ratelimit"
	"github.com/portfolio-ledger/internal/retry"
	"github.com/portfolio-ledger/internal/types"
)

const (
	defaultBaseURL = "https://api.binance.com"
	// recvWindowMs is how long a signed request stays valid on the server.
	recvWindowMs = 5000

	usedWeightHeader = "X-MBX-USED-WEIGHT-1M"
)

// Client is a per-account exchange API client. All signed calls share one
// weight limiter so concurrent syncs respect the account's budget.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string

	httpClient *http.Client
	limiter    *ratelimit.WeightLimiter
	retryCfg   *retry.RetryConfig
	breaker    *circuitbreaker.CircuitBreaker

	now func() time.Time
}

// ClientConfig holds configuration for the exchange client.
type ClientConfig struct {
	APIKey    string
	APISecret string

	// BaseURL overrides the production API host, used in tests.
	BaseURL string

	// Timeout applies per HTTP request. Default: 30s.
	Timeout time.Duration

	// Limiter is the shared weight limiter. A default one is created when nil.
	Limiter *ratelimit.WeightLimiter

	// HTTPClient overrides the transport, used in tests.
	HTTPClient *http.Client

	// Retry overrides the backoff schedule, used in tests.
	Retry *retry.RetryConfig

	// Breaker overrides the default circuit breaker.
	Breaker *circuitbreaker.CircuitBreaker

	// Now is an injectable clock for tests. Default: time.Now.
	Now func() time.Time
}

// NewClient creates an exchange client for one account's credentials.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client config is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API key and secret are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limiter := cfg.Limiter
	if limiter == nil {
		var err error
		limiter, err = ratelimit.NewWeightLimiter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create weight limiter: %w", err)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}

	breaker := cfg.Breaker
	if breaker == nil {
		// Only transient failures count: bad credentials or request errors
		// say nothing about the exchange's health.
		breaker = circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Name:        "exchange-api",
			MaxFailures: 5,
			Timeout:     time.Minute,
			IsFailure:   types.IsTransient,
		})
	}

	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		retryCfg:   retryCfg,
		breaker:    breaker,
		now:        now,
	}, nil
}

// UsedWeight returns the request weight consumed in the current window.
func (c *Client) UsedWeight() int {
	return c.limiter.UsedWeight()
}

// sign appends timestamp and recvWindow, then the HMAC-SHA256 signature of
// the encoded query string.
func (c *Client) sign(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params
}

// get performs a GET request with retry on transient failures and decodes
// the JSON response into out. The circuit breaker wraps the whole retried
// call: once the exchange keeps failing through the backoff schedule,
// further calls fail fast.
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, weight int, out interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			return c.getOnce(ctx, path, params, signed, weight, out)
		})
	})
}

func (c *Client) getOnce(ctx context.Context, path string, params url.Values, signed bool, weight int, out interface{}) error {
	logger := logging.FromContext(ctx)

	// Wait until the budget admits the call. Reserve returns zero once the
	// weight has been accounted.
	for {
		wait := c.limiter.Reserve(weight)
		if wait == 0 {
			break
		}
		logger.WithFields(map[string]interface{}{
			"path":       path,
			"wait":       wait.String(),
			"usedWeight": c.limiter.UsedWeight(),
		}).Info("Pausing until the weight budget frees up")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if signed {
		query = c.sign(query)
	}

	reqURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.Transient(fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	c.syncWeightFromHeader(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transient(fmt.Errorf("failed to read response from %s: %w", path, err))
	}

	if resp.StatusCode != http.StatusOK {
		return c.classifyError(ctx, path, resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// syncWeightFromHeader resynchronizes the local counter to the server's
// used-weight report, which is authoritative.
func (c *Client) syncWeightFromHeader(resp *http.Response) {
	raw := resp.Header.Get(usedWeightHeader)
	if raw == "" {
		return
	}
	used, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	c.limiter.SyncUsedWeight(used)
}

func (c *Client) classifyError(ctx context.Context, path string, resp *http.Response, body []byte) error {
	apiErr := &APIError{HTTPStatus: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Msg = string(body)
	}

	logger := logging.FromContext(ctx)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		// 418 is the exchange's IP auto-ban response. Both enter cool-down.
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		wait := c.limiter.Cooldown(retryAfter)
		logger.WithFields(map[string]interface{}{
			"path":     path,
			"status":   resp.StatusCode,
			"cooldown": wait.String(),
		}).Warn("Rate limited by the exchange, entering cool-down")
		return types.Transient(apiErr)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Unauthorized(apiErr)

	// -2014 invalid API key format, -2015 rejected key/IP/permissions. The
	// exchange sometimes carries these on a 400.
	case apiErr.Code == -2014 || apiErr.Code == -2015:
		return types.Unauthorized(apiErr)

	case resp.StatusCode >= 500:
		return types.Transient(apiErr)
	}

	return apiErr
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
