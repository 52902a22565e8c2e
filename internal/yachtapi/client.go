// Package yachtapi is a client for the remote yacht listing API.
package yachtapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/metrics"
	"github.com/fclairamb/yachtsync/internal/version"
)

const (
	// BaseURL is the default API base URL.
	BaseURL = "https://api.yachtbroker.example/v1"

	httpTimeout = 30 * time.Second

	// DefaultRateInterval keeps us around 3 requests/second.
	DefaultRateInterval = 350 * time.Millisecond

	maxTries          = 5
	initialRetryDelay = time.Second

	// DefaultMaxResponseSize bounds a single API response body.
	DefaultMaxResponseSize = 32 << 20

	httpStatusBadRequest = 400
)

var errEmptyConversion = errors.New("conversion returned no identifier")

// Client is a rate-limited API client. It only performs reads, so retried
// calls are safe.
type Client struct {
	httpClient  *http.Client
	token       string
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxBody     int64
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(url string) ClientOption {
	return func(client *Client) {
		client.baseURL = url
	}
}

// WithRateInterval sets the minimum interval between two requests.
// A zero interval disables client-side pacing.
func WithRateInterval(d time.Duration) ClientOption {
	return func(client *Client) {
		if d <= 0 {
			client.rateLimiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		client.rateLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxResponseSize sets the largest accepted response body.
func WithMaxResponseSize(n int64) ClientOption {
	return func(client *Client) {
		client.maxBody = n
	}
}

// WithMetrics records request counts.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

// NewClient creates a new API client.
func NewClient(token string, opts ...ClientOption) *Client {
	client := &Client{
		httpClient:  &http.Client{Timeout: httpTimeout},
		token:       token,
		rateLimiter: rate.NewLimiter(rate.Every(DefaultRateInterval), 1),
		baseURL:     BaseURL,
		logger:      slog.Default(),
		maxBody:     DefaultMaxResponseSize,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// ListActiveIDs returns every identifier currently listed as active.
func (c *Client) ListActiveIDs(ctx context.Context) ([]int64, error) {
	body, err := c.get(ctx, "active", "/vessels/active")
	if err != nil {
		return nil, fmt.Errorf("list active ids: %w", err)
	}

	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		result = result.Get("ids")
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("list active ids: %w: unexpected response shape", apperrors.ErrTransport)
	}

	items := result.Array()
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if id := item.Int(); id != 0 {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// FetchFullRecord returns the full specification payload of a vessel.
func (c *Client) FetchFullRecord(ctx context.Context, vesselID int64) (*Payload, error) {
	body, err := c.get(ctx, "vessel", "/vessels/"+strconv.FormatInt(vesselID, 10))
	if err != nil {
		return nil, fmt.Errorf("fetch vessel %d: %w", vesselID, err)
	}

	payload, err := ParsePayload(body)
	if err != nil {
		return nil, fmt.Errorf("fetch vessel %d: %w", vesselID, err)
	}

	return payload, nil
}

// ConvertMLSToVessel converts an MLS ID into the matching vessel ID.
func (c *Client) ConvertMLSToVessel(ctx context.Context, mlsID int64) (int64, error) {
	body, err := c.get(ctx, "convert_mls", "/convert/mls/"+strconv.FormatInt(mlsID, 10))
	if err != nil {
		return 0, fmt.Errorf("convert mls %d: %w", mlsID, err)
	}

	id := gjson.GetBytes(body, "vesselId").Int()
	if id == 0 {
		return 0, fmt.Errorf("convert mls %d: %w", mlsID, errEmptyConversion)
	}

	return id, nil
}

// ConvertVesselToMLS converts a vessel ID into the matching MLS ID.
func (c *Client) ConvertVesselToMLS(ctx context.Context, vesselID int64) (int64, error) {
	body, err := c.get(ctx, "convert_vessel", "/convert/vessel/"+strconv.FormatInt(vesselID, 10))
	if err != nil {
		return 0, fmt.Errorf("convert vessel %d: %w", vesselID, err)
	}

	mls := gjson.GetBytes(body, "mlsId")
	if !mls.Exists() {
		return 0, fmt.Errorf("convert vessel %d: %w", vesselID, errEmptyConversion)
	}

	return mls.Int(), nil
}

// get performs a GET request with rate limiting. Only HTTP 429 is retried;
// any other failure is returned at once so the caller can skip the item.
func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	url := c.baseURL + path
	startTime := time.Now()
	attempt := 0

	operation := func() ([]byte, error) {
		attempt++
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		c.logger.DebugContext(ctx, "API request", "path", path, "attempt", attempt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveRequest(endpoint, "error")
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", apperrors.ErrTransport, err))
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
		}
		c.metrics.ObserveRequest(endpoint, strconv.Itoa(resp.StatusCode))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: read response: %w", apperrors.ErrTransport, err))
		}
		if int64(len(respBody)) > c.maxBody {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w: response over %d bytes",
				apperrors.ErrTransport, apperrors.ErrFileTooLarge, c.maxBody))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.WarnContext(ctx, "rate limited, backing off", "path", path, "attempt", attempt)
			if seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && seconds > 0 {
				return nil, backoff.RetryAfter(seconds)
			}
			return nil, apperrors.NewHTTPError(resp.StatusCode, string(respBody))
		}

		if resp.StatusCode >= httpStatusBadRequest {
			message := gjson.GetBytes(respBody, "message").String()
			if message == "" {
				message = string(respBody)
			}
			return nil, backoff.Permanent(apperrors.NewHTTPError(resp.StatusCode, message))
		}

		return respBody, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay

	body, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "API response", "path", path, "duration", time.Since(startTime))
	return body, nil
}
