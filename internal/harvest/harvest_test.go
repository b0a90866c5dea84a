package harvest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pypi-harvest/internal/librariesio"
	"github.com/JakeFAU/pypi-harvest/internal/pypi"
	"github.com/JakeFAU/pypi-harvest/internal/record"
	"github.com/JakeFAU/pypi-harvest/internal/store"
)

type apiResult struct {
	raw     record.Raw
	outcome librariesio.Outcome
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []string
	scripts map[string][]apiResult
	onCall  func(name string)
}

func (f *fakeAPI) FetchPackage(_ context.Context, name string) (record.Raw, librariesio.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	script := f.scripts[name]
	var res apiResult
	if len(script) == 0 {
		res = apiResult{raw: goodRaw(name), outcome: librariesio.OutcomeOK}
	} else {
		res = script[0]
		if len(script) > 1 {
			f.scripts[name] = script[1:]
		}
	}
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(name)
	}
	return res.raw, res.outcome, res.outcome.Err()
}

type fakePages struct {
	missing map[string]bool
	errs    map[string][]error
}

func (f *fakePages) Metadata(_ context.Context, name string) (pypi.Metadata, error) {
	if errs := f.errs[name]; len(errs) > 0 {
		f.errs[name] = errs[1:]
		return pypi.Metadata{}, errs[0]
	}
	if f.missing[name] {
		return pypi.Metadata{Found: false}, nil
	}
	return pypi.Metadata{Found: true, Maintainers: []string{"alice"}, FirstUploadDate: "2020-01-02"}, nil
}

type memSink struct {
	batches [][]record.PackageRecord
}

func (m *memSink) Append(recs []record.PackageRecord) error {
	m.batches = append(m.batches, append([]record.PackageRecord(nil), recs...))
	return nil
}

func (m *memSink) names() []string {
	var out []string
	for _, b := range m.batches {
		for _, r := range b {
			out = append(out, r.Name)
		}
	}
	return out
}

type fakeSleeper struct {
	sleeps []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	return ctx.Err()
}

func goodRaw(name string) record.Raw {
	return record.Raw{
		"name":                        name,
		"stars":                       "5",
		"status":                      nil,
		"package_manager_url":         "https://pypi.org/project/" + name + "/",
		"latest_release_published_at": "2023-02-27T22:36:00.813Z",
		"versions":                    []any{map[string]any{"number": "1.0"}},
	}
}

func newHarvester(api PackageAPI, pages PageSource, sleeper *fakeSleeper, batch int) *Harvester {
	retrier := &librariesio.Retrier{Policy: librariesio.DefaultRetryPolicy(), Sleeper: sleeper}
	return New(Config{BatchSize: batch, BatchPause: time.Minute}, api, pages, retrier, nil)
}

func TestRunSkipsCollectedNames(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	sink := &memSink{}
	h := newHarvester(api, &fakePages{}, &fakeSleeper{}, 60)

	skip := map[string]struct{}{"foo": {}, "bar": {}}
	stats, err := h.Run(context.Background(), []string{"foo", "baz"}, skip, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"baz"}, api.calls)
	assert.Equal(t, []string{"baz"}, sink.names())
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Written)
}

func TestRunBatchesAndPauses(t *testing.T) {
	t.Parallel()

	sleeper := &fakeSleeper{}
	sink := &memSink{}
	h := newHarvester(&fakeAPI{}, &fakePages{}, sleeper, 2)

	stats, err := h.Run(context.Background(), []string{"a", "b", "c", "d", "e"}, map[string]struct{}{}, sink)
	require.NoError(t, err)

	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 2)
	assert.Len(t, sink.batches[1], 2)
	assert.Len(t, sink.batches[2], 1)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, sleeper.sleeps)
	assert.Equal(t, 5, stats.Written)
	assert.Equal(t, 3, stats.Batches)

	rec := sink.batches[0][0]
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, "1", rec.TotalVersions)
	assert.Equal(t, "alice", rec.Maintainers)
	assert.Equal(t, "2020-01-02", rec.FirstUploadDate)
	assert.Equal(t, "none", rec.Status)
	assert.Equal(t, "0", rec.Forks)
}

func TestRunDropsAndRetries(t *testing.T) {
	t.Parallel()

	removed := goodRaw("removed")
	removed["status"] = "Removed"
	invalid := goodRaw("invalid")
	invalid["stars"] = "lots"

	api := &fakeAPI{scripts: map[string][]apiResult{
		"gone":    {{outcome: librariesio.OutcomeNotFound}},
		"removed": {{raw: removed, outcome: librariesio.OutcomeOK}},
		"invalid": {{raw: invalid, outcome: librariesio.OutcomeOK}},
		"flaky": {
			{outcome: librariesio.OutcomeRateLimited},
			{outcome: librariesio.OutcomeMalformed},
			{raw: goodRaw("flaky"), outcome: librariesio.OutcomeOK},
		},
	}}
	pages := &fakePages{
		missing: map[string]bool{"nopage": true},
		errs:    map[string][]error{"ok": {librariesio.ErrTransport}},
	}
	sleeper := &fakeSleeper{}
	sink := &memSink{}
	h := newHarvester(api, pages, sleeper, 60)

	stats, err := h.Run(context.Background(),
		[]string{"gone", "removed", "invalid", "flaky", "nopage", "ok", "ok"}, map[string]struct{}{}, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"flaky", "ok"}, sink.names())
	assert.Equal(t, 1, stats.NotFound)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 1, stats.NoFirstUpload)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Skipped, "a name written earlier in the run is not fetched again")
	assert.Equal(t, 3, stats.Retries)
	assert.Equal(t, []time.Duration{time.Minute, time.Hour, time.Hour}, sleeper.sleeps)
}

func TestRunFlushesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{onCall: func(name string) {
		if name == "c" {
			cancel()
		}
	}}
	sink := &memSink{}
	h := newHarvester(api, &fakePages{}, &fakeSleeper{}, 60)

	stats, err := h.Run(ctx, []string{"a", "b", "c", "d"}, map[string]struct{}{}, sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"a", "b"}, sink.names())
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, []string{"a", "b", "c"}, api.calls)
}

type staticSource []string

func (s staticSource) Candidates(context.Context) ([]string, error) { return s, nil }

func TestHarvestIntoRefusesExistingStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pypi_info_db.csv")
	h := newHarvester(&fakeAPI{}, &fakePages{}, &fakeSleeper{}, 60)

	stats, err := h.HarvestInto(context.Background(), staticSource{"foo", "bar"}, path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Written)

	_, err = h.HarvestInto(context.Background(), staticSource{"baz"}, path, false)
	assert.ErrorIs(t, err, store.ErrExists)

	api := &fakeAPI{}
	h = newHarvester(api, &fakePages{}, &fakeSleeper{}, 60)
	stats, err = h.HarvestInto(context.Background(), staticSource{"foo", "baz"}, path, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"baz"}, api.calls)
	assert.Equal(t, 1, stats.Skipped)

	names, err := store.ReadNames(path)
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

type fakeLister []pypi.Project

func (f fakeLister) ListAllPackageNames(context.Context) ([]pypi.Project, error) { return f, nil }

type fakeSearcher struct {
	window time.Duration
	now    time.Time
}

func (f *fakeSearcher) NewPackagesSince(_ context.Context, window time.Duration, now time.Time) ([]record.Raw, error) {
	f.window, f.now = window, now
	return []record.Raw{{"name": "a"}, {"name": ""}, {"name": "b"}, {"name": "a"}}, nil
}

func TestCandidateSources(t *testing.T) {
	t.Parallel()

	names, err := ListingSource{Lister: fakeLister{{Name: "x"}, {Name: "y"}}}.Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)

	now := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{}
	src := RecentSource{Searcher: searcher, Window: 3 * time.Hour, Now: func() time.Time { return now }}
	names, err = src.Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, 3*time.Hour, searcher.window)
	assert.Equal(t, now, searcher.now)
}
