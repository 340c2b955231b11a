package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps a single response body (32MB).
	MaxResponseSize = 32 * 1024 * 1024
)

type Config struct {
	ContentBaseURL   string
	AdvertBaseURL    string
	AnalyticsBaseURL string
	Token            string
	Timeout          time.Duration

	// ContentRate, AdvertRate and AnalyticsRate are requests per second for each API host.
	ContentRate   float64
	AdvertRate    float64
	AnalyticsRate float64

	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		ContentBaseURL:   "https://content-api.wildberries.ru",
		AdvertBaseURL:    "https://advert-api.wildberries.ru",
		AnalyticsBaseURL: "https://seller-analytics-api.wildberries.ru",
		Timeout:          DefaultTimeout,
		ContentRate:      1.4,
		AdvertRate:       0.05,
		AnalyticsRate:    0.05,
		MaxRetries:       2,
		RetryBackoff:     65 * time.Second,
	}
}

// APIError is a non-success response from the marketplace.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Attempts   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed (status=%d, attempts=%d): %s", e.Method, e.URL, e.StatusCode, e.Attempts, e.Body)
}

// Retryable reports whether the marketplace asked the caller to back off.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// Client talks to the marketplace content, advertising and analytics APIs. Each host has its own limiter.
type Client struct {
	config           Config
	http             *http.Client
	contentLimiter   *rate.Limiter
	advertLimiter    *rate.Limiter
	analyticsLimiter *rate.Limiter
	logger           ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Client{
		config:           cfg,
		http:             &http.Client{Timeout: cfg.Timeout},
		contentLimiter:   newLimiter(cfg.ContentRate),
		advertLimiter:    newLimiter(cfg.AdvertRate),
		analyticsLimiter: newLimiter(cfg.AnalyticsRate),
		logger:           logger,
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

type request struct {
	limiter *rate.Limiter
	method  string
	url     string
	body    any
	retry   bool
}

// do sends req and decodes a 2xx JSON body into out. When retry is set, 429 and 503
// responses and transport errors are retried up to MaxRetries after RetryBackoff.
func (c *Client) do(ctx context.Context, req request, out any) error {
	ctx, span := tracing.StartSpan(ctx, "marketplace.Client.do")
	defer span.End()

	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		if err := req.limiter.Wait(ctx); err != nil {
			return err
		}

		status, body, err := c.send(ctx, req.method, req.url, payload)
		if err == nil && status >= 200 && status < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", req.url, err)
			}
			return nil
		}

		var failure error
		if err != nil {
			failure = err
		} else {
			apiErr := &APIError{Method: req.method, URL: req.url, StatusCode: status, Body: truncate(body, 500), Attempts: attempt}
			if !apiErr.Retryable() {
				return apiErr
			}
			failure = apiErr
		}

		if !req.retry || attempt > c.config.MaxRetries {
			return failure
		}

		c.logger.WithContext(ctx).WithError(failure).WithFields(map[string]any{
			"url":     req.url,
			"attempt": attempt,
			"backoff": c.config.RetryBackoff.String(),
		}).Warn("Marketplace request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryBackoff):
		}
	}
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.config.Token)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordMarketplaceRequest(method, "error", time.Since(start))
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", method, url)
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordMarketplaceRequest(method, strconv.Itoa(resp.StatusCode), time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return 0, nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", method, url, resp.StatusCode, time.Since(start))
	return resp.StatusCode, body, nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}
