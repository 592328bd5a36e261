// Package serp finds candidate suppliers through the SerpAPI search service.
package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
)

const defaultBaseURL = "https://serpapi.com"

// serpapiMaxResults is the per-request cap of the search backend.
const serpapiMaxResults = 10

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client implements ports.SupplierDirectory against SerpAPI.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.SupplierDirectory = (*Client)(nil)

// New creates a SerpAPI client.
func New(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Find searches for suppliers matching the spec. An unreachable or failing
// backend is reported as domain.ErrDiscoveryUnavailable so callers can fail
// the campaign cleanly.
func (c *Client) Find(ctx context.Context, spec string, maxResults int) ([]domain.Supplier, error) {
	if maxResults <= 0 || maxResults > serpapiMaxResults {
		maxResults = serpapiMaxResults
	}

	params := url.Values{}
	params.Set("q", spec+" suppliers wholesale")
	params.Set("api_key", c.apiKey)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %v: %w", err, domain.ErrDiscoveryUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d: %w", resp.StatusCode, domain.ErrDiscoveryUnavailable)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %v: %w", err, domain.ErrDiscoveryUnavailable)
	}

	suppliers := make([]domain.Supplier, 0, maxResults)
	for _, r := range body.OrganicResults {
		if len(suppliers) == maxResults {
			break
		}
		name := r.Title
		if name == "" {
			name = "Unknown Supplier"
		}
		suppliers = append(suppliers, domain.Supplier{
			Name:        name,
			URL:         r.Link,
			Description: r.Snippet,
			Source:      "serpapi",
		})
	}

	c.logger.Info("supplier search completed",
		slog.String("spec", spec),
		slog.Int("results", len(suppliers)))
	return suppliers, nil
}
