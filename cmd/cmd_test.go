package cmd

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/record"
)

func TestMain(m *testing.M) {
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	os.Exit(m.Run())
}

const projectPage = `<html><body>
<span class="sidebar-section__user-gravatar-text">alice</span>
<p class="release__version-date"><time>Mar 1, 2023</time></p>
<p class="release__version-date"><time>May 1, 2019</time></p>
</body></html>`

// fakeRegistry serves the aggregator API, the simple index and project pages.
func fakeRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
<a href="/simple/requests/">requests</a>
<a href="/simple/gone/">gone</a>
</body></html>`))
	})
	mux.HandleFunc("/api/pypi/requests", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"requests","forks":9,"keywords":["http","client"],` +
			`"package_manager_url":"https://pypi.org/project/requests/",` +
			`"latest_release_published_at":"2023-03-01T10:20:30.000Z","versions":[{},{}]}`))
	})
	mux.HandleFunc("/api/pypi/gone", http.NotFound)
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rank", r.URL.Query().Get("sort"))
		_, _ = w.Write([]byte(`[{"name":"requests","rank":30},{"name":"numpy","rank":29}]`))
	})
	mux.HandleFunc("/project/requests/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(projectPage))
	})
	mux.HandleFunc("/project/", http.NotFound)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
http:
  timeout: 2s
librariesio:
  base_url: %[1]s/api
  api_key: test-key
pypi:
  simple_url: %[1]s/simple/
  project_url: %[1]s/project/
harvest:
  store_path: %[2]s/pypi_info_db.csv
  batch_size: 1
  batch_pause: 0s
validator:
  workers: 2
  checkpoint_path: %[2]s/checkpoint.tmp
  cursor_path: %[2]s/cursor.yaml
audit:
  output: %[2]s/audited.csv
publish:
  provider: local
  local_dir: %[2]s/published
  prefix: stores
`, baseURL, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestHarvestValidateAuditPublish(t *testing.T) {
	dir := t.TempDir()
	srv := fakeRegistry(t)
	cfgPath := writeConfig(t, dir, srv.URL)
	store := filepath.Join(dir, "pypi_info_db.csv")

	_, err := execute(t, "harvest", "--config", cfgPath)
	require.NoError(t, err)
	rows := readRows(t, store)
	require.Len(t, rows, 2)
	assert.Equal(t, record.Header(), rows[0])
	got, err := record.FromRow(rows[1])
	require.NoError(t, err)
	assert.Equal(t, "requests", got.Name)
	assert.Equal(t, "http, client", got.Keywords)
	assert.Equal(t, "alice", got.Maintainers)
	assert.Equal(t, "2019-05-01", got.FirstUploadDate)
	assert.Equal(t, "10:20:30", got.LatestUploadTime)
	assert.Equal(t, "2", got.TotalVersions)

	_, err = execute(t, "harvest", "--config", cfgPath)
	require.Error(t, err, "an existing store needs --update")

	_, err = execute(t, "harvest", "--config", cfgPath, "--update", store)
	require.NoError(t, err)
	assert.Len(t, readRows(t, store), 2, "collected packages are skipped")

	// Point the stored URL at the fake registry and add a row that 404s.
	got.PackageManagerURL = srv.URL + "/project/requests/"
	gone := got
	gone.Name = "gone"
	gone.PackageManagerURL = srv.URL + "/project/gone/"
	writeStore(t, store, got, gone)

	_, err = execute(t, "validate", "--config", cfgPath, "-f", store)
	require.NoError(t, err)
	validated := filepath.Join(dir, "validated_pypi_info_db.csv")
	rows = readRows(t, validated)
	require.Len(t, rows, 2)
	assert.Equal(t, "requests", rows[1][15])

	_, err = execute(t, "audit", "--config", cfgPath, "-f", validated)
	require.NoError(t, err)
	assert.Len(t, readRows(t, filepath.Join(dir, "audited.csv")), 2)

	_, err = execute(t, "publish", "--config", cfgPath, "-f", validated, "--name", "final.csv")
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(dir, "published", "stores", "*", "final.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func writeStore(t *testing.T, path string, recs ...record.PackageRecord) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(record.Header()))
	for _, r := range recs {
		require.NoError(t, w.Write(r.Row()))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
}

func TestPopularPrintsRanks(t *testing.T) {
	dir := t.TempDir()
	srv := fakeRegistry(t)
	cfgPath := writeConfig(t, dir, srv.URL)

	out, err := execute(t, "popular", "--config", cfgPath, "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "30\trequests\n", out)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"validate needs file", []string{"validate", "--config", cfgPath}, "required flag"},
		{"audit missing input", []string{"audit", "--config", cfgPath, "-f", filepath.Join(dir, "missing.csv")}, "audit"},
		{"load without dsn", []string{"load", "--config", cfgPath, "-f", filepath.Join(dir, "x.csv")}, "tablestore.dsn"},
		{"negative window", []string{"harvest", "--config", cfgPath, "--since-hours", "-1"}, "since-hours"},
		{"bad config", []string{"audit", "--config", filepath.Join(dir, "nope.yaml"), "-f", "x"}, "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestDefaultValidatedPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "validated_db.csv"), defaultValidatedPath(filepath.Join("data", "db.csv")))
	assert.Equal(t, "validated_db.csv", defaultValidatedPath("db.csv"))
}
