// Package collyfetcher issues single GET and HEAD requests through gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps response bodies in bytes. Zero means unlimited.
	MaxBodySize int
	// Transport overrides the pooled default transport.
	Transport http.RoundTripper
}

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Response is the outcome of one request. Non-2xx statuses are responses, not errors.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher runs requests on clones of a shared base collector.
type Fetcher struct {
	cfg           Config
	waiter        Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithWaiter paces every request through w.
func WithWaiter(w Waiter) Option {
	return func(f *Fetcher) {
		f.waiter = w
	}
}

// New builds a Fetcher. Timeout and transport live on the collector's shared
// HTTP backend, so they are fixed here and never changed per request.
func New(cfg Config, opts ...Option) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c.SetRequestTimeout(cfg.Timeout)

	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches url with a GET request.
func (f *Fetcher) Get(ctx context.Context, url string) (Response, error) {
	return f.do(ctx, http.MethodGet, url)
}

// Head probes url with a HEAD request. The body is always empty.
func (f *Fetcher) Head(ctx context.Context, url string) (Response, error) {
	return f.do(ctx, http.MethodHead, url)
}

func (f *Fetcher) do(ctx context.Context, method, url string) (Response, error) {
	if f.waiter != nil {
		if err := f.waiter.Wait(ctx, url); err != nil {
			return Response{}, fmt.Errorf("colly %s %s: %w", method, url, err)
		}
	}
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	visit := collector.Visit
	if method == http.MethodHead {
		visit = collector.Head
	}
	if err := f.runCollector(ctx, visit, url, &fetchErr); err != nil {
		return Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	visit func(string) error,
	url string,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}
