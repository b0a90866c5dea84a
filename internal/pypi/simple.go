// Package pypi reads the pypi.org project listing and project pages.
package pypi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/pypi-harvest/internal/fetcher/colly"
)

// Default pypi.org endpoints.
const (
	DefaultSimpleURL  = "https://pypi.org/simple/"
	DefaultProjectURL = "https://pypi.org/project/"
)

// ErrListing reports that the project listing could not be retrieved.
var ErrListing = errors.New("pypi: project listing unavailable")

// Getter issues GET requests.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Project is one entry of the registry listing.
type Project struct {
	Name string
	URL  string
}

// ProjectURL returns the canonical project page for name under base.
func ProjectURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name + "/"
}

// SimpleIndex lists every project on the registry.
type SimpleIndex struct {
	simpleURL  string
	projectURL string
	http       Getter
	logger     *zap.Logger
}

// NewSimpleIndex builds a SimpleIndex. Empty URLs use the pypi.org defaults.
func NewSimpleIndex(simpleURL, projectURL string, getter Getter, logger *zap.Logger) *SimpleIndex {
	if simpleURL == "" {
		simpleURL = DefaultSimpleURL
	}
	if projectURL == "" {
		projectURL = DefaultProjectURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimpleIndex{simpleURL: simpleURL, projectURL: projectURL, http: getter, logger: logger}
}

// ListAllPackageNames fetches the whole listing in one request, in document order.
func (s *SimpleIndex) ListAllPackageNames(ctx context.Context) ([]Project, error) {
	resp, err := s.http.Get(ctx, s.simpleURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListing, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrListing, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrListing, err)
	}

	var projects []Project
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if name == "" {
			return
		}
		projects = append(projects, Project{Name: name, URL: ProjectURL(s.projectURL, name)})
	})
	s.logger.Info("fetched project listing", zap.Int("projects", len(projects)), zap.Duration("took", resp.Duration))
	return projects, nil
}
