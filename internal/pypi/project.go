package pypi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/librariesio"
	"github.com/JakeFAU/pypi-harvest/internal/record"
)

const (
	maintainerSelector  = "span.sidebar-section__user-gravatar-text"
	releaseDateSelector = "p.release__version-date"
	releaseDateLayout   = "Jan 2, 2006"
)

// Metadata is what the project page adds to a record.
type Metadata struct {
	// Found is false when the page returned 404.
	Found       bool
	Maintainers []string
	// FirstUploadDate is YYYY-MM-DD, or empty when no release date was found.
	FirstUploadDate string
}

// ProjectPages scrapes per-project pages.
type ProjectPages struct {
	projectURL string
	http       Getter
	logger     *zap.Logger
}

// NewProjectPages builds a ProjectPages. An empty base uses pypi.org.
func NewProjectPages(projectURL string, getter Getter, logger *zap.Logger) *ProjectPages {
	if projectURL == "" {
		projectURL = DefaultProjectURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectPages{projectURL: projectURL, http: getter, logger: logger}
}

// Metadata fetches and parses the project page for name. Failures carry the
// librariesio sentinel errors so callers can share one retry policy.
func (p *ProjectPages) Metadata(ctx context.Context, name string) (Metadata, error) {
	target := ProjectURL(p.projectURL, name)
	resp, err := p.http.Get(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metadata{}, ctxErr
		}
		return Metadata{}, fmt.Errorf("project page %s: %w: %w", name, librariesio.ErrTransport, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Metadata{Found: false}, nil
	}
	if outcome := librariesio.Classify(resp.StatusCode); outcome != librariesio.OutcomeOK {
		return Metadata{}, fmt.Errorf("project page %s: %w: status %d", name, outcome.Err(), resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return Metadata{}, fmt.Errorf("project page %s: %w: %w", name, librariesio.ErrMalformedResponse, err)
	}
	return p.parse(name, doc), nil
}

func (p *ProjectPages) parse(name string, doc *goquery.Document) Metadata {
	meta := Metadata{Found: true}
	seen := make(map[string]struct{})
	doc.Find(maintainerSelector).Each(func(_ int, s *goquery.Selection) {
		user := strings.TrimSpace(s.Text())
		if user == "" {
			return
		}
		if _, ok := seen[user]; ok {
			return
		}
		seen[user] = struct{}{}
		meta.Maintainers = append(meta.Maintainers, user)
	})

	// Releases are listed newest first; the last entry is the first upload.
	dates := doc.Find(releaseDateSelector)
	if dates.Length() == 0 {
		return meta
	}
	raw := strings.TrimSpace(dates.Last().Text())
	first, err := time.Parse(releaseDateLayout, raw)
	if err != nil {
		p.logger.Debug("unparseable release date", zap.String("package", name), zap.String("date", raw))
		return meta
	}
	meta.FirstUploadDate = first.Format(record.DateLayout)
	return meta
}
