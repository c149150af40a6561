package providers

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RetryConfig defines retry behavior for cloud provider HTTP calls
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP status codes that should be retried
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: []int{429, 500, 502, 503, 504},
	}
}

// RetryableHTTPClient wraps an HTTP client with retries and rate limiting
type RetryableHTTPClient struct {
	client      *http.Client
	retryConfig RetryConfig
	limiter     *rate.Limiter
}

// NewRetryableHTTPClient creates a new HTTP client with retry logic
func NewRetryableHTTPClient(timeout time.Duration, requestsPerSecond float64) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client:      &http.Client{Timeout: timeout},
		retryConfig: DefaultRetryConfig(),
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// WithRetryConfig replaces the retry policy, mostly for tests.
func (c *RetryableHTTPClient) WithRetryConfig(rc RetryConfig) *RetryableHTTPClient {
	c.retryConfig = rc
	return c
}

// Do executes an HTTP request with retry logic and rate limiting. Requests
// with a body must be replayable (GetBody set), which http.NewRequest does
// for bytes and strings readers.
func (c *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	ctx := req.Context()

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		reqClone := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replay request body: %w", err)
			}
			reqClone.Body = body
		}

		resp, err := c.client.Do(reqClone)
		if err != nil {
			lastErr = err
			if attempt < c.retryConfig.MaxRetries {
				delay := c.calculateDelay(attempt)
				log.Warn().
					Err(err).
					Int("attempt", attempt+1).
					Int("max_retries", c.retryConfig.MaxRetries).
					Dur("delay", delay).
					Str("url", req.URL.String()).
					Msg("HTTP request failed, retrying")
				if err := sleepCtx(req, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if c.shouldRetry(resp.StatusCode) && attempt < c.retryConfig.MaxRetries {
			resp.Body.Close()
			delay := c.calculateDelay(attempt)
			log.Warn().
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Int("max_retries", c.retryConfig.MaxRetries).
				Dur("delay", delay).
				Str("url", req.URL.String()).
				Msg("HTTP request returned retryable error, retrying")
			if err := sleepCtx(req, delay); err != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func sleepCtx(req *http.Request, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-t.C:
		return nil
	}
}

func (c *RetryableHTTPClient) shouldRetry(statusCode int) bool {
	for _, code := range c.retryConfig.RetryableErrors {
		if statusCode == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates exponential backoff delay with jitter
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retryConfig.InitialDelay) * math.Pow(c.retryConfig.BackoffFactor, float64(attempt))

	// +/-25% jitter
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	if delay > float64(c.retryConfig.MaxDelay) {
		delay = float64(c.retryConfig.MaxDelay)
	}

	return time.Duration(delay)
}
