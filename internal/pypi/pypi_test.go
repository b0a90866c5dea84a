package pypi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/pypi-harvest/internal/fetcher/colly"
	"github.com/JakeFAU/pypi-harvest/internal/librariesio"
)

const simpleHTML = `<!DOCTYPE html>
<html>
  <head><meta name="pypi:repository-version" content="1.1"><title>Simple index</title></head>
  <body>
    <a href="/simple/0/">0</a>
    <a href="/simple/requests/">requests</a>
    <a href="/simple/zope-interface/">zope.interface</a>
  </body>
</html>`

const projectHTML = `<html><body>
<div class="sidebar-section">
  <span class="sidebar-section__user-gravatar-text">
    alice
  </span>
  <span class="sidebar-section__user-gravatar-text">bob</span>
  <span class="sidebar-section__user-gravatar-text">alice</span>
</div>
<div class="release-timeline">
  <p class="release__version-date"><time>Mar 1, 2023</time></p>
  <p class="release__version-date"><time>Jun 10, 2021</time></p>
  <p class="release__version-date">
    <time>May 1, 2019</time>
  </p>
</div>
</body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(simpleHTML))
	})
	mux.HandleFunc("/project/requests/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(projectHTML))
	})
	mux.HandleFunc("/project/nodates/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p class="release__version-date">sometime</p></body></html>`))
	})
	mux.HandleFunc("/project/busy/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/project/down/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second})
}

func TestListAllPackageNames(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	idx := NewSimpleIndex(srv.URL+"/simple/", "https://pypi.org/project/", fetcher(), nil)
	projects, err := idx.ListAllPackageNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Project{
		{Name: "0", URL: "https://pypi.org/project/0/"},
		{Name: "requests", URL: "https://pypi.org/project/requests/"},
		{Name: "zope.interface", URL: "https://pypi.org/project/zope.interface/"},
	}, projects)
}

func TestListAllPackageNamesFailure(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	idx := NewSimpleIndex(srv.URL+"/nothing-here", "", fetcher(), nil)
	_, err := idx.ListAllPackageNames(context.Background())
	assert.ErrorIs(t, err, ErrListing)
}

func TestProjectMetadata(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	pages := NewProjectPages(srv.URL+"/project/", fetcher(), nil)
	ctx := context.Background()

	meta, err := pages.Metadata(ctx, "requests")
	require.NoError(t, err)
	assert.True(t, meta.Found)
	assert.Equal(t, []string{"alice", "bob"}, meta.Maintainers)
	assert.Equal(t, "2019-05-01", meta.FirstUploadDate)

	meta, err = pages.Metadata(ctx, "nodates")
	require.NoError(t, err)
	assert.True(t, meta.Found)
	assert.Empty(t, meta.FirstUploadDate)

	meta, err = pages.Metadata(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, meta.Found)

	_, err = pages.Metadata(ctx, "busy")
	assert.ErrorIs(t, err, librariesio.ErrRateLimited)

	_, err = pages.Metadata(ctx, "down")
	assert.ErrorIs(t, err, librariesio.ErrTransport)
	assert.Equal(t, librariesio.OutcomeTransportError, librariesio.OutcomeOf(err))
}

func TestProjectURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://pypi.org/project/x/", ProjectURL("https://pypi.org/project/", "x"))
	assert.Equal(t, "https://pypi.org/project/x/", ProjectURL("https://pypi.org/project", "x"))
}
