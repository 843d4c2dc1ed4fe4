// Package aggregate provides a client for the upstream portfolio aggregate endpoint
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/porticolabs/portico/internal/common"
	"github.com/porticolabs/portico/internal/interfaces"
	"github.com/porticolabs/portico/internal/models"
)

const (
	completePath     = "/api/complete"
	DefaultTimeout   = 15 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements the AggregateClient interface. It owns the single
// network call per fetch, response validation, and sanitization. It never
// touches cache state; the cache manager invokes it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new aggregate client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchComplete performs one authenticated GET against the aggregate
// endpoint and returns a fully validated and sanitized aggregate. Errors
// are classified so the caller can decide whether to retry: transport
// failures may be retried, validation failures must not be, and an empty
// token fails before any request is made.
func (c *Client) FetchComplete(ctx context.Context, token string, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
	if token == "" {
		return nil, &AuthenticationError{Reason: "no bearer token available"}
	}

	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	query := url.Values{}
	query.Set("force_refresh", strconv.FormatBool(opts.ForceRefresh))
	query.Set("include_historical", strconv.FormatBool(opts.IncludeHistorical))
	reqURL := c.baseURL + completePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Bool("force_refresh", opts.ForceRefresh).
		Bool("include_historical", opts.IncludeHistorical).
		Msg("Aggregate request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and refused connections land here, never completing the request
		return nil, &TransportError{Endpoint: completePath, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Endpoint:   completePath,
			Message:    string(body),
		}
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &ValidationError{Endpoint: completePath, Reason: "response is not valid JSON: " + err.Error()}
	}

	if missing, err := models.ValidateComplete(raw); err != nil {
		return nil, &ValidationError{Endpoint: completePath, Missing: missing, Reason: err.Error()}
	}

	data := models.CompleteFromRaw(raw)

	c.logger.Debug().
		Int("holdings", len(data.PortfolioData.Holdings)).
		Bool("upstream_cache_hit", data.Metadata.CacheHit).
		Msg("Aggregate response sanitized")

	return data, nil
}

// Ensure Client implements AggregateClient
var _ interfaces.AggregateClient = (*Client)(nil)
