// Package librariesio talks to the libraries.io package metadata API.
package librariesio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/pypi-harvest/internal/fetcher/colly"
	"github.com/JakeFAU/pypi-harvest/internal/metrics"
	"github.com/JakeFAU/pypi-harvest/internal/record"
)

// Default endpoint and paging limits.
const (
	DefaultBaseURL  = "https://libraries.io/api"
	DefaultPerPage  = 100
	DefaultMaxPages = 100
)

// Sentinel errors returned alongside a non-OK Outcome.
var (
	ErrNotFound          = errors.New("librariesio: package not found")
	ErrRateLimited       = errors.New("librariesio: rate limited")
	ErrTransport         = errors.New("librariesio: transport error")
	ErrMalformedResponse = errors.New("librariesio: malformed response")
	ErrMissingAPIKey     = errors.New("librariesio: api key is required")
)

// Getter issues GET requests.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	APIKey   string
	PerPage  int
	MaxPages int
}

// Client fetches package metadata from libraries.io.
type Client struct {
	cfg     Config
	http    Getter
	retrier *Retrier
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRetrier retries failed search pages through r.
func WithRetrier(r *Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// New builds a Client.
func New(cfg Config, getter Getter, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if getter == nil {
		return nil, errors.New("librariesio: getter is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, http: getter, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPackage performs one attempt to fetch name. NotFound is reported via
// the Outcome and ErrNotFound; callers decide whether to retry other outcomes.
func (c *Client) FetchPackage(ctx context.Context, name string) (record.Raw, Outcome, error) {
	endpoint := c.cfg.BaseURL + "/pypi/" + url.PathEscape(name) + "?api_key=" + url.QueryEscape(c.cfg.APIKey)
	body, outcome, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, outcome, fmt.Errorf("fetch %s: %w", name, err)
	}
	var raw record.Raw
	if err := decodeJSON(body, &raw); err != nil || raw == nil {
		metrics.ObserveAPIRequest(OutcomeMalformed.String())
		return nil, OutcomeMalformed, fmt.Errorf("fetch %s: %w: expected a JSON object", name, ErrMalformedResponse)
	}
	metrics.ObserveAPIRequest(OutcomeOK.String())
	return raw, OutcomeOK, nil
}

// SearchNewest returns one page of PyPI packages, newest first.
func (c *Client) SearchNewest(ctx context.Context, page int) ([]record.Raw, error) {
	return c.search(ctx, "created_at", page)
}

// PopularPackages returns the first page of PyPI packages ordered by rank.
func (c *Client) PopularPackages(ctx context.Context) ([]record.Raw, error) {
	return c.search(ctx, "rank", 1)
}

// NewPackagesSince pages through the newest packages until one was last
// released before now-window, a page comes back empty, or MaxPages is reached.
func (c *Client) NewPackagesSince(ctx context.Context, window time.Duration, now time.Time) ([]record.Raw, error) {
	cutoff := now.Add(-window)
	var out []record.Raw
	for page := 1; page <= c.cfg.MaxPages; page++ {
		results, err := c.searchWithRetry(ctx, page)
		if err != nil {
			return out, err
		}
		if len(results) == 0 {
			return out, nil
		}
		for _, item := range results {
			published, err := ParsePublishedAt(item.String("latest_release_published_at"))
			if err != nil {
				c.logger.Debug("skipping search result without release time",
					zap.String("package", item.String("name")), zap.Error(err))
				continue
			}
			if published.Before(cutoff) {
				return out, nil
			}
			out = append(out, item)
		}
		c.logger.Debug("search page scanned", zap.Int("page", page), zap.Int("collected", len(out)))
	}
	return out, nil
}

func (c *Client) searchWithRetry(ctx context.Context, page int) ([]record.Raw, error) {
	if c.retrier == nil {
		return c.SearchNewest(ctx, page)
	}
	var results []record.Raw
	_, _, err := c.retrier.Do(ctx, "search page "+strconv.Itoa(page), func(ctx context.Context) (Outcome, error) {
		var err error
		results, err = c.SearchNewest(ctx, page)
		return OutcomeOf(err), err
	})
	return results, err
}

func (c *Client) search(ctx context.Context, sort string, page int) ([]record.Raw, error) {
	q := url.Values{}
	q.Set("order", "desc")
	q.Set("platforms", "PyPI")
	q.Set("sort", sort)
	q.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("api_key", c.cfg.APIKey)
	body, _, err := c.get(ctx, c.cfg.BaseURL+"/search?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("search page %d: %w", page, err)
	}
	var results []record.Raw
	if err := decodeJSON(body, &results); err != nil {
		metrics.ObserveAPIRequest(OutcomeMalformed.String())
		return nil, fmt.Errorf("search page %d: %w: %s", page, ErrMalformedResponse, err.Error())
	}
	metrics.ObserveAPIRequest(OutcomeOK.String())
	return results, nil
}

// get performs the request and classifies everything but a 200.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, Outcome, error) {
	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, OutcomeTransportError, ctxErr
		}
		metrics.ObserveAPIRequest(OutcomeTransportError.String())
		return nil, OutcomeTransportError, fmt.Errorf("%w: %s", ErrTransport, c.redact(err.Error()))
	}
	outcome := Classify(resp.StatusCode)
	if outcome == OutcomeOK {
		return resp.Body, OutcomeOK, nil
	}
	metrics.ObserveAPIRequest(outcome.String())
	return nil, outcome, fmt.Errorf("%w: status %d", outcome.Err(), resp.StatusCode)
}

func (c *Client) redact(s string) string {
	return strings.ReplaceAll(s, url.QueryEscape(c.cfg.APIKey), "REDACTED")
}

// Classify maps an HTTP status to an Outcome.
func Classify(status int) Outcome {
	switch {
	case status == http.StatusOK:
		return OutcomeOK
	case status == http.StatusNotFound:
		return OutcomeNotFound
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status >= http.StatusInternalServerError:
		return OutcomeTransportError
	default:
		return OutcomeMalformed
	}
}

// ParsePublishedAt parses timestamps like 2023-02-27T22:36:00.813Z, ignoring
// fractional seconds.
func ParsePublishedAt(s string) (time.Time, error) {
	s, _, _ = strings.Cut(s, ".")
	s = strings.TrimSuffix(s, "Z")
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse release time %q: %w", s, err)
	}
	return t, nil
}

// ReadAPIKey reads a key from path. A leading ~/ is expanded to the home directory.
func ReadAPIKey(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	// #nosec G304 -- key path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read api key %s: %w", path, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrMissingAPIKey, path)
	}
	return key, nil
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
