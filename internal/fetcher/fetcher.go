// Package fetcher retrieves daily time series from the Alpha Vantage API.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
)

const (
	DefaultBaseURL  = "https://www.alphavantage.co/query"
	DefaultFunction = "TIME_SERIES_DAILY"
	RequestTimeout  = 30 * time.Second

	// OutputSize asks for the most recent 100 data points.
	OutputSize = "compact"

	userAgent = "StockMarketPipeline/1.0"
)

// Response body keys the provider uses outside the time series itself.
const (
	errorMessageKey = "Error Message"
	noteKey         = "Note"
	informationKey  = "Information"
)

// Payload is one decoded provider response, keyed by top-level field.
type Payload map[string]json.RawMessage

// RetryPolicy bounds attempts around the single network call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is 3 attempts with exponential backoff from 4s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 4 * time.Second,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Client fetches raw payloads for one symbol at a time.
type Client struct {
	baseURL  string
	apiKey   string
	function string
	http     *http.Client
	policy   RetryPolicy
	log      logger.Emitter
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithFunction selects the provider series function.
func WithFunction(fn string) Option { return func(c *Client) { c.function = fn } }

// WithHTTPClient replaces the default 30s-timeout HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option { return func(c *Client) { c.policy = p } }

// WithEmitter sets the event sink.
func WithEmitter(e logger.Emitter) Option { return func(c *Client) { c.log = logger.OrNop(e) } }

// NewClient creates a new provider client
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		function: DefaultFunction,
		http:     &http.Client{Timeout: RequestTimeout},
		policy:   DefaultRetryPolicy(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves the raw payload for symbol. Transient failures are
// retried per the policy and surface as RetryExhaustedError; provider error
// bodies and undecodable bodies fail on the first attempt.
func (c *Client) Fetch(ctx context.Context, symbol string) (Payload, error) {
	var (
		payload  Payload
		attempts int
		lastErr  error
	)

	op := func() error {
		attempts++
		c.log.Emit(logger.InfoLevel, "Fetching stock data",
			logger.F("symbol", symbol), logger.F("function", c.function), logger.F("attempt", attempts))

		p, err := c.fetchOnce(ctx, symbol)
		if err == nil {
			payload = p
			return nil
		}
		lastErr = err
		if apperrors.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		c.log.Emit(logger.WarnLevel, "Retrying after transient failure",
			logger.F("symbol", symbol), logger.F("attempt", attempts), logger.F("wait", wait.String()), logger.Err(err))
	}

	err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify)
	if err == nil {
		c.log.Emit(logger.InfoLevel, "Fetched stock data", logger.F("symbol", symbol), logger.F("attempts", attempts))
		return payload, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if apperrors.IsTransient(lastErr) {
		exhausted := &apperrors.RetryExhaustedError{Symbol: symbol, Attempts: attempts, Err: lastErr}
		c.log.Emit(logger.ErrorLevel, "Fetch failed after retries",
			logger.F("symbol", symbol), logger.F("attempts", attempts), logger.Err(lastErr))
		return nil, exhausted
	}
	c.log.Emit(logger.ErrorLevel, "Fetch failed", logger.F("symbol", symbol), logger.F("attempts", attempts), logger.Err(err))
	return nil, err
}

func (c *Client) fetchOnce(ctx context.Context, symbol string) (Payload, error) {
	req, err := c.newRequest(ctx, symbol)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			c.log.Emit(logger.ErrorLevel, "Request timeout", logger.F("symbol", symbol))
		} else {
			c.log.Emit(logger.ErrorLevel, "Request failed", logger.F("symbol", symbol), logger.Err(err))
		}
		return nil, &apperrors.TransientNetworkError{Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Emit(logger.ErrorLevel, "Request failed", logger.F("symbol", symbol), logger.Err(err))
		return nil, &apperrors.TransientNetworkError{Symbol: symbol, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.log.Emit(logger.ErrorLevel, "Request failed", logger.F("symbol", symbol), logger.F("status", resp.StatusCode))
		return nil, &apperrors.TransientNetworkError{Symbol: symbol, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Emit(logger.ErrorLevel, "Request rejected", logger.F("symbol", symbol), logger.F("status", resp.StatusCode))
		return nil, &apperrors.FatalProviderError{Symbol: symbol, Message: "unexpected status " + strconv.Itoa(resp.StatusCode)}
	}

	return c.classify(symbol, body)
}

// classify inspects the decoded body, not the transport status.
func (c *Client) classify(symbol string, body []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		if err == nil {
			err = errors.New("response is not a JSON object")
		}
		c.log.Emit(logger.ErrorLevel, "Invalid JSON response", logger.F("symbol", symbol), logger.Err(err))
		return nil, &apperrors.MalformedPayloadError{Symbol: symbol, Err: err}
	}

	if raw, ok := payload[errorMessageKey]; ok {
		msg := rawString(raw)
		c.log.Emit(logger.ErrorLevel, "API error", logger.F("symbol", symbol), logger.F("message", msg))
		return nil, &apperrors.FatalProviderError{Symbol: symbol, Message: msg}
	}

	for _, key := range []string{noteKey, informationKey} {
		if raw, ok := payload[key]; ok {
			c.log.Emit(logger.WarnLevel, "API rate limit warning", logger.F("symbol", symbol), logger.F("note", rawString(raw)))
		}
	}
	return payload, nil
}

func (c *Client) newRequest(ctx context.Context, symbol string) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", c.baseURL, err)
	}
	q := u.Query()
	q.Set("function", c.function)
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)
	q.Set("outputsize", OutputSize)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
