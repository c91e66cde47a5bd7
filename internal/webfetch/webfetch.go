// Package webfetch retrieves web pages as readable text for the scraping
// tools. Fetches go through an optional reader proxy, are retried with
// exponential backoff and cached for a short TTL.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	DefaultReaderURL = "https://r.jina.ai/"
	DefaultTimeout   = 10 * time.Second
	DefaultRetries   = 2
	DefaultCacheTTL  = 5 * time.Minute
	DefaultMaxBytes  = 5 << 20
)

// ErrInvalidURL is returned for anything that is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("url must be an absolute http or https URL")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Config controls fetching. ReaderURL "" fetches pages directly.
type Config struct {
	ReaderURL string
	Timeout   time.Duration
	Retries   int
	CacheTTL  time.Duration
	MaxBytes  int64
}

// Page is a fetched document reduced to text.
type Page struct {
	URL       string `json:"url"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client *http.Client
	cache  *cache.Cache
	logger *zap.Logger
}

// New returns a Fetcher. cfg.Timeout bounds each Fetch through its context.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{cfg: cfg, client: client, logger: logger}
	if cfg.CacheTTL > 0 {
		f.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return f
}

// ValidateURL parses raw and checks it is an absolute http(s) URL.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

// Fetch returns the page text for rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := u.String()
	if f.cache != nil {
		if cached, ok := f.cache.Get(key); ok {
			f.logger.Debug("webfetch cache hit", zap.String("url", key))
			return cached.(*Page), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var page *Page
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(f.cfg.Retries)), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		p, err := f.fetchOnce(ctx, key)
		if err != nil {
			f.logger.Debug("webfetch attempt failed", zap.String("url", key), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		page = p
		return nil
	}, policy)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("fetch %s: timed out after %s", key, f.cfg.Timeout)
		}
		return nil, err
	}

	if f.cache != nil {
		f.cache.SetDefault(key, page)
	}
	return page, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (f *Fetcher) target(pageURL string) string {
	if f.cfg.ReaderURL == "" {
		return pageURL
	}
	return f.cfg.ReaderURL + pageURL
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.target(pageURL), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if f.cfg.ReaderURL != "" {
		req.Header.Set("Accept", "text/markdown")
	} else {
		req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")
	}
	req.Header.Set("User-Agent", "mcpdispatch/webfetch")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	page := &Page{URL: pageURL}
	if int64(len(body)) > f.cfg.MaxBytes {
		body = body[:f.cfg.MaxBytes]
		page.Truncated = true
	}

	content := string(body)
	if isHTML(resp.Header.Get("Content-Type")) {
		text, err := HTMLText(content)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("parse html from %s: %w", pageURL, err))
		}
		content = text
	}
	page.Content = content
	return page, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// HTMLText extracts the visible text of an HTML document.
func HTMLText(doc string) (string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	d.Find("script, style, noscript, template").Remove()
	title := strings.TrimSpace(d.Find("title").First().Text())
	body := d.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = d.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	if title != "" && !strings.HasPrefix(text, title) {
		text = title + "\n\n" + text
	}
	return text, nil
}

// CountOccurrences counts case-insensitive, non-overlapping substring
// matches of word in content.
func CountOccurrences(content, word string) int {
	if word == "" {
		return 0
	}
	return strings.Count(strings.ToLower(content), strings.ToLower(word))
}
