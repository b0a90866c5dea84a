package record

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanRecord() PackageRecord {
	return PackageRecord{
		DependentReposCount:            "3",
		DependentsCount:                "1",
		DeprecationReason:              "none",
		Description:                    "A toolkit",
		Forks:                          "12",
		Homepage:                       "https://example.org",
		Keywords:                       "http, client",
		Language:                       "Python",
		LatestDownloadURL:              "https://files.example.org/pkg-1.0.tar.gz",
		LatestReleaseNumber:            "1.0",
		LatestReleasePublishedAt:       "2023-02-27T22:36:00.813Z",
		LatestStableReleaseNumber:      "1.0",
		LatestStableReleasePublishedAt: "2023-02-27T22:36:00.813Z",
		LicenseNormalized:              "False",
		Licenses:                       "MIT",
		Name:                           "pkg",
		NormalizedLicenses:             "MIT",
		PackageManagerURL:              "https://pypi.org/project/pkg/",
		Platform:                       "Pypi",
		Rank:                           "9",
		RepositoryLicense:              "MIT",
		RepositoryStatus:               "none",
		RepositoryURL:                  "https://github.com/example/pkg",
		Stars:                          "40",
		Status:                         "none",
		TotalVersions:                  "4",
		Maintainers:                    "alice, bob",
		LatestUploadDate:               "2023-02-27",
		LatestUploadTime:               "22:36:00",
		FirstUploadDate:                "2019-05-01",
	}
}

func TestHeaderOrder(t *testing.T) {
	t.Parallel()

	header := Header()
	require.Len(t, header, FieldCount)
	assert.Equal(t, "dependent_repos_count", header[0])
	assert.Equal(t, "name", header[15])
	assert.Equal(t, "package_manager_url", header[17])
	assert.Equal(t, "first_upload_date", header[29])

	idx, ok := Index("package_manager_url")
	require.True(t, ok)
	assert.Equal(t, 17, idx)
	_, ok = Index("versions")
	assert.False(t, ok)
}

func TestRowRoundTrip(t *testing.T) {
	t.Parallel()

	rec := cleanRecord()
	row := rec.Row()
	require.Len(t, row, FieldCount)
	assert.Equal(t, "pkg", row[15])

	back, err := FromRow(row)
	require.NoError(t, err)
	assert.Equal(t, rec, back)
}

func TestFromRowWrongWidth(t *testing.T) {
	t.Parallel()

	_, err := FromRow(make([]string, 29))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFieldCount))

	_, err = NormalizeRow(make([]string, 31))
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestNormalizeRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*PackageRecord)
		check     func(*testing.T, PackageRecord)
		wantField string
	}{
		{
			name:   "empty count becomes zero",
			mutate: func(r *PackageRecord) { r.Forks = "" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "0", r.Forks) },
		},
		{
			name:      "non numeric count rejected",
			mutate:    func(r *PackageRecord) { r.Forks = "abc" },
			wantField: "forks",
		},
		{
			name:   "count canonicalized",
			mutate: func(r *PackageRecord) { r.Stars = " 007" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "7", r.Stars) },
		},
		{
			name:   "empty text becomes none",
			mutate: func(r *PackageRecord) { r.Description = "" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "none", r.Description) },
		},
		{
			name:   "empty url becomes none",
			mutate: func(r *PackageRecord) { r.Homepage = "" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "none", r.Homepage) },
		},
		{
			name:   "empty status becomes none",
			mutate: func(r *PackageRecord) { r.Status = "" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "none", r.Status) },
		},
		{
			name:   "list brackets stripped",
			mutate: func(r *PackageRecord) { r.Keywords = "['web', 'http']" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "'web', 'http'", r.Keywords) },
		},
		{
			name:   "empty list becomes none",
			mutate: func(r *PackageRecord) { r.Maintainers = "[]" },
			check:  func(t *testing.T, r PackageRecord) { assert.Equal(t, "none", r.Maintainers) },
		},
		{
			name:      "bad date rejected",
			mutate:    func(r *PackageRecord) { r.FirstUploadDate = "none" },
			wantField: "first_upload_date",
		},
		{
			name:      "time needs three parts",
			mutate:    func(r *PackageRecord) { r.LatestUploadTime = "22:36" },
			wantField: "latest_upload_time",
		},
		{
			name: "first failure wins",
			mutate: func(r *PackageRecord) {
				r.DependentReposCount = "x"
				r.Stars = "y"
			},
			wantField: "dependent_repos_count",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := cleanRecord()
			tc.mutate(&rec)
			got, err := Normalize(rec)
			if tc.wantField != "" {
				var violation *SchemaViolation
				require.ErrorAs(t, err, &violation)
				assert.Equal(t, tc.wantField, violation.Field)
				assert.Equal(t, PackageRecord{}, got)
				return
			}
			require.NoError(t, err)
			tc.check(t, got)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	rec := cleanRecord()
	rec.Description = ""
	rec.Keywords = "[a, b]"
	rec.Rank = ""

	once, err := Normalize(rec)
	require.NoError(t, err)
	twice, err := Normalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestEnrich(t *testing.T) {
	t.Parallel()

	payload := `{
		"name": "pkg",
		"stars": 40,
		"forks": 0,
		"keywords": ["http", "client"],
		"license_normalized": false,
		"licenses": "` + strings.Repeat("L", 150) + `",
		"deprecation_reason": null,
		"latest_release_published_at": "2023-02-27T22:36:00.813Z",
		"versions": [{"number": "0.1"}, {"number": "0.2"}, {"number": "1.0"}],
		"contributions_count": 7
	}`
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var raw Raw
	require.NoError(t, dec.Decode(&raw))

	rec := Enrich(raw, Extras{
		Maintainers:     []string{"alice", " bob ", "alice", ""},
		FirstUploadDate: "2019-05-01",
	})

	assert.Equal(t, "pkg", rec.Name)
	assert.Equal(t, "40", rec.Stars)
	assert.Equal(t, "0", rec.Forks)
	assert.Equal(t, "http, client", rec.Keywords)
	assert.Equal(t, "False", rec.LicenseNormalized)
	assert.Len(t, rec.Licenses, MaxLicensesLen)
	assert.Equal(t, "", rec.DeprecationReason)
	assert.Equal(t, "3", rec.TotalVersions)
	assert.Equal(t, "alice, bob", rec.Maintainers)
	assert.Equal(t, "2023-02-27", rec.LatestUploadDate)
	assert.Equal(t, "22:36:00", rec.LatestUploadTime)
	assert.Equal(t, "2019-05-01", rec.FirstUploadDate)

	normalized, err := Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "none", normalized.DeprecationReason)
	assert.Equal(t, "0", normalized.Rank)
}

func TestEnrichMissingVersions(t *testing.T) {
	t.Parallel()

	rec := Enrich(Raw{"name": "bare"}, Extras{})
	assert.Equal(t, "0", rec.TotalVersions)
	assert.Equal(t, "", rec.Maintainers)
	assert.Equal(t, "", rec.LatestUploadTime)
}

func TestSplitTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, date, clock string
	}{
		{"2023-02-27T22:36:00.813Z", "2023-02-27", "22:36:00"},
		{"2023-02-27T22:36:00Z", "2023-02-27", "22:36:00"},
		{"2023-02-27", "2023-02-27", ""},
		{"", "", ""},
	}
	for _, tc := range tests {
		date, clock := SplitTimestamp(tc.in)
		assert.Equal(t, tc.date, date, tc.in)
		assert.Equal(t, tc.clock, clock, tc.in)
	}
}
