package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nvr-ai/sentinel/logging"
)

// VisionClient sends a payload to a vision model and returns its raw answer.
type VisionClient interface {
	Analyze(ctx context.Context, payload *Payload) ([]byte, error)
}

// HTTPOptions configures an HTTPVisionClient.
type HTTPOptions struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`

	Timeout time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond limits outgoing calls. Zero means one request every two seconds.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// MaxRetries bounds retries on 429 and 5xx responses.
	MaxRetries int `mapstructure:"max_retries"`
}

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxRetryAfter     = 30 * time.Second
	maxResponseBytes  = 1 << 20
)

// HTTPVisionClient posts payloads as JSON to a vision endpoint.
type HTTPVisionClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	retries  int
	backoffs []time.Duration
	logger   *zap.Logger
}

// NewHTTPVisionClient creates a client for the endpoint in options.
//
// Arguments:
//   - options: Endpoint, credentials and limits.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *HTTPVisionClient: The client.
//   - error: A *ConfigurationError if no endpoint is configured.
func NewHTTPVisionClient(options HTTPOptions, logger *zap.Logger) (*HTTPVisionClient, error) {
	if options.Endpoint == "" {
		return nil, &ConfigurationError{Field: "vision.endpoint", Message: "an endpoint is required"}
	}
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = defaultMaxRetries
	}

	every := rate.Every(2 * time.Second)
	if options.RequestsPerSecond > 0 {
		every = rate.Limit(options.RequestsPerSecond)
	}

	return &HTTPVisionClient{
		endpoint: options.Endpoint,
		apiKey:   options.APIKey,
		client:   &http.Client{Timeout: options.Timeout},
		limiter:  rate.NewLimiter(every, 1),
		retries:  options.MaxRetries,
		backoffs: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		logger:   logging.OrNop(logger),
	}, nil
}

// Analyze posts the payload and returns the response body.
func (c *HTTPVisionClient) Analyze(ctx context.Context, payload *Payload) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.doWithRetry(ctx, body)
}

func (c *HTTPVisionClient) backoff(attempt int) time.Duration {
	if attempt < len(c.backoffs) {
		return c.backoffs[attempt]
	}
	return c.backoffs[len(c.backoffs)-1]
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// doWithRetry retries network failures, 429 and 5xx with backoff, honoring Retry-After on 429.
func (c *HTTPVisionClient) doWithRetry(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr *UpstreamError
	for attempt := 0; attempt <= c.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, &ConfigurationError{Field: "vision.endpoint", Message: err.Error()}
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		delay := c.backoff(attempt)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &UpstreamError{Err: ctx.Err()}
			}
			lastErr = &UpstreamError{Err: err}
		} else {
			data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			resp.Body.Close()

			switch {
			case readErr != nil:
				lastErr = &UpstreamError{StatusCode: resp.StatusCode, Err: readErr}
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return data, nil
			default:
				lastErr = &UpstreamError{StatusCode: resp.StatusCode, Body: string(data)}
				if !lastErr.Retryable() {
					return nil, lastErr
				}
				if resp.StatusCode == http.StatusTooManyRequests {
					if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
						delay = min(time.Duration(seconds)*time.Second, maxRetryAfter)
					}
				}
			}
		}

		if attempt < c.retries {
			c.logger.Debug("retrying vision request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, &UpstreamError{Err: err}
			}
		}
	}
	return nil, lastErr
}
