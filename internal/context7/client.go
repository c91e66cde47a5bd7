// Package context7 is a small client for the Context7 documentation API.
// Requests are rate limited, retried on transient failures and cached.
package context7

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL           = "https://api.context7.com"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerMinute = 50
	DefaultRetries           = 3
	DefaultCacheSize         = 128
)

var (
	// ErrUnauthorized is returned on HTTP 401.
	ErrUnauthorized = errors.New("context7: authentication failed, check the API key")
	// ErrRateLimited is returned when 429 persists after all retries.
	ErrRateLimited = errors.New("context7: rate limit exceeded, try again later")
	// ErrNotFound is returned on HTTP 404.
	ErrNotFound = errors.New("context7: not found")
)

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("context7: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	Retries           int
	CacheSize         int
}

// Library is a search hit.
type Library struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	Description         string `json:"description"`
	DocumentationStatus string `json:"documentation_status"`
	LastUpdated         string `json:"last_updated,omitempty"`
}

// Documentation is a library's rendered documentation.
type Documentation struct {
	Library     string `json:"library"`
	Version     string `json:"version"`
	Content     string `json:"content"`
	Format      string `json:"format"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// Example is one code example for a topic.
type Example struct {
	Library     string `json:"library"`
	Topic       string `json:"topic"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// Client talks to the API. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, []byte]
	logger  *zap.Logger
	// replaced in tests
	backOff  func() backoff.BackOff
	newTimer func() backoff.Timer
}

// New builds a client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("context7: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("context7: create cache: %w", err)
	}
	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(perSecond, cfg.RequestsPerMinute),
		cache:   cache,
		logger:  logger,
		backOff: newBackOff,
	}, nil
}

// SearchLibraries finds libraries matching query. limit must be 1..100.
func (c *Client) SearchLibraries(ctx context.Context, query string, limit int) ([]Library, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query cannot be empty")
	}
	if limit < 1 || limit > 100 {
		return nil, errors.New("limit must be between 1 and 100")
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("include_status", "true")

	var out struct {
		Libraries []Library `json:"libraries"`
	}
	if err := c.get(ctx, "/v1/libraries/search", params, &out); err != nil {
		return nil, fmt.Errorf("library search failed: %w", err)
	}
	for i := range out.Libraries {
		if out.Libraries[i].Version == "" {
			out.Libraries[i].Version = "unknown"
		}
		if out.Libraries[i].DocumentationStatus == "" {
			out.Libraries[i].DocumentationStatus = "unknown"
		}
	}
	if out.Libraries == nil {
		out.Libraries = []Library{}
	}
	return out.Libraries, nil
}

// GetDocumentation fetches documentation for library at version ("" = latest).
func (c *Client) GetDocumentation(ctx context.Context, library, version string) (*Documentation, error) {
	library = strings.TrimSpace(library)
	if library == "" {
		return nil, errors.New("library name cannot be empty")
	}
	if version == "" {
		version = "latest"
	}
	params := url.Values{}
	params.Set("version", version)
	params.Set("format", "markdown")

	var doc Documentation
	if err := c.get(ctx, "/v1/libraries/"+url.PathEscape(library)+"/docs", params, &doc); err != nil {
		return nil, fmt.Errorf("documentation retrieval failed for %s: %w", library, err)
	}
	doc.Library = library
	if doc.Version == "" {
		doc.Version = version
	}
	if doc.Format == "" {
		doc.Format = "markdown"
	}
	return &doc, nil
}

// GetExamples fetches code examples for a topic. limit must be 1..50.
func (c *Client) GetExamples(ctx context.Context, library, topic string, limit int) ([]Example, error) {
	library = strings.TrimSpace(library)
	topic = strings.TrimSpace(topic)
	if library == "" {
		return nil, errors.New("library name cannot be empty")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if limit < 1 || limit > 50 {
		return nil, errors.New("limit must be between 1 and 50")
	}
	params := url.Values{}
	params.Set("topic", topic)
	params.Set("limit", strconv.Itoa(limit))

	var out struct {
		Examples []Example `json:"examples"`
	}
	if err := c.get(ctx, "/v1/libraries/"+url.PathEscape(library)+"/examples", params, &out); err != nil {
		return nil, fmt.Errorf("examples retrieval failed for %s/%s: %w", library, topic, err)
	}
	for i := range out.Examples {
		out.Examples[i].Library = library
		out.Examples[i].Topic = topic
		if out.Examples[i].Language == "" {
			out.Examples[i].Language = "python"
		}
	}
	if out.Examples == nil {
		out.Examples = []Example{}
	}
	return out.Examples, nil
}

// get performs a cached, rate limited GET and decodes the JSON body into v.
// A non-JSON body is exposed as {"content": <text>}.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, v any) error {
	u := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	if body, ok := c.cache.Get(u); ok {
		return decode(body, v)
	}

	serverWait := &retryAfterBackOff{BackOff: c.backOff()}
	policy := backoff.WithContext(backoff.WithMaxRetries(serverWait, uint64(c.cfg.Retries)), ctx)
	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	var body []byte
	err := backoff.RetryNotifyWithTimer(func() error {
		b, wait, err := c.do(ctx, u)
		serverWait.next = wait
		body = b
		return err
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("context7 request failed, retrying", zap.String("url", u), zap.Duration("wait", wait), zap.Error(err))
	}, timer)
	if err != nil {
		if errors.Is(err, errTooManyRequests) {
			return ErrRateLimited
		}
		return err
	}
	c.cache.Add(u, body)
	return decode(body, v)
}

var errTooManyRequests = errors.New("context7: too many requests")

// retryAfterBackOff waits for the server's Retry-After, when one was given,
// in place of the next interval of the wrapped policy.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.next > 0 {
		d := b.next
		b.next = 0
		return d
	}
	return b.BackOff.NextBackOff()
}

func (b *retryAfterBackOff) Reset() {
	b.next = 0
	b.BackOff.Reset()
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	return b
}

// do runs one attempt. retryAfter is set when the server asked us to wait.
func (c *Client) do(ctx context.Context, u string) ([]byte, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mcpdispatch/context7")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, backoff.Permanent(ctx.Err())
		}
		if transient(err) {
			return nil, 0, err
		}
		return nil, 0, backoff.Permanent(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, 0, backoff.Permanent(ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryAfter(resp.Header.Get("Retry-After")), errTooManyRequests
	case resp.StatusCode >= 500:
		return nil, 0, &APIError{StatusCode: resp.StatusCode, Body: snippet(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, 0, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: snippet(body)})
	}
	return body, 0, nil
}

func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func retryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, time.Minute)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		// plain-text documentation
		if doc, ok := v.(*Documentation); ok {
			doc.Content = string(body)
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
