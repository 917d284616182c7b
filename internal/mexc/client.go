// Package mexc provides a rate limited HTTP client for the MEXC spot
// REST API with retry and error classification suited to long
// unattended sampling runs.
package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the MEXC spot REST endpoint.
	DefaultBaseURL = "https://api.mexc.com"

	maxBodyBytes = 32 << 20
)

// Options configures a Client. Zero values fall back to conservative
// defaults so a literal Options{} still produces a working client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRPS      float64
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	UserAgent   string
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Client issues MEXC REST requests through a shared token bucket so
// that concurrent callers never exceed the configured request rate.
// All methods block on the limiter before sending and retry transient
// failures with capped exponential backoff.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	userAgent   string
	logger      *slog.Logger
	metrics     *Metrics

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRPS <= 0 {
		opts.MaxRPS = 5
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	burst := int(math.Ceil(opts.MaxRPS))
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.MaxRPS), burst),
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		userAgent:   opts.UserAgent,
		logger:      opts.Logger.With(slog.String("component", "mexc_client")),
		metrics:     opts.Metrics,
		sleep:       sleepCtx,
	}
}

// Metrics returns the request counter shared by this client.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// ExchangeInfo fetches listing metadata for every symbol.
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DefaultSymbols fetches the exchange's default symbol list. The
// endpoint has shipped both a bare array and a {"data": [...]} wrapper,
// so both shapes are accepted.
func (c *Client) DefaultSymbols(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/api/v3/defaultSymbols", nil, &raw); err != nil {
		return nil, err
	}
	var symbols []string
	if err := json.Unmarshal(raw, &symbols); err == nil {
		return symbols, nil
	}
	var wrapped struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &HTTPError{
			Kind:     KindTransient,
			Endpoint: "/api/v3/defaultSymbols",
			Message:  "unexpected defaultSymbols payload shape",
			Cause:    err,
		}
	}
	return wrapped.Data, nil
}

// Ticker24h fetches rolling 24h statistics for all symbols.
func (c *Client) Ticker24h(ctx context.Context) ([]Ticker24h, error) {
	var stats []Ticker24h
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// BookTickers fetches the top-of-book quote for every symbol in one
// request.
func (c *Client) BookTickers(ctx context.Context) ([]BookTicker, error) {
	var quotes []BookTicker
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", nil, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// BookTicker fetches the top-of-book quote for a single symbol.
func (c *Client) BookTicker(ctx context.Context, symbol string) (BookTicker, error) {
	params := url.Values{"symbol": {symbol}}
	var quote BookTicker
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", params, &quote); err != nil {
		return BookTicker{}, err
	}
	return quote, nil
}

// Depth fetches an order book snapshot with up to limit levels per side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	params := url.Values{"symbol": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var depth DepthSnapshot
	if err := c.get(ctx, "/api/v3/depth", params, &depth); err != nil {
		return nil, err
	}
	return &depth, nil
}

// get runs the request/retry loop for a single endpoint. Transient
// failures, rate limits, and WAF blocks are retried up to maxRetries
// times; other 4xx responses fail immediately. After the final attempt
// the last error is returned as-is so callers see what actually
// happened instead of an empty payload.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	attempts := c.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		retryAfter, err := c.doOnce(ctx, endpoint, params, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsFatal(err) || attempt == attempts {
			break
		}
		kind := KindOf(err)
		c.metrics.RecordRetry(endpoint, string(kind))
		delay := c.backoffDelay(attempt, retryAfter)
		c.logger.WarnContext(ctx, "request failed, backing off",
			slog.String("endpoint", endpoint),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		c.metrics.RecordBackoff(delay)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// doOnce performs one HTTP round trip. The returned duration is the
// server-requested Retry-After, zero if absent.
func (c *Client) doOnce(ctx context.Context, endpoint string, params url.Values, out any) (time.Duration, error) {
	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, &HTTPError{Kind: KindFatal, Endpoint: endpoint, Message: "build request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.metrics.RecordRequest(endpoint, statusLabel(err))
		return 0, &HTTPError{Kind: KindTransient, Endpoint: endpoint, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	c.metrics.RecordRequest(endpoint, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		httpErr := &HTTPError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
		return parseRetryAfter(resp.Header.Get("Retry-After")), httpErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, &HTTPError{Kind: KindTransient, Endpoint: endpoint, Message: "read body", Cause: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return 0, &HTTPError{Kind: KindTransient, Endpoint: endpoint, Message: "decode body", Cause: err}
	}
	return 0, nil
}

// backoffDelay computes the wait before the next attempt: capped
// exponential backoff with jitter, overridden by a longer server
// Retry-After when present.
func (c *Client) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	delay := c.backoffBase << (attempt - 1)
	if delay > c.backoffMax || delay <= 0 {
		delay = c.backoffMax
	}
	delay += time.Duration(rand.Int63n(int64(c.backoffBase)))
	if delay > c.backoffMax {
		delay = c.backoffMax
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// statusLabel maps a transport error to the metrics status dimension.
func statusLabel(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network_error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
