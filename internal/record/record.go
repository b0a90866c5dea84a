package record

import (
	"errors"
	"fmt"
)

// FieldCount is the number of columns in every store row.
const FieldCount = 30

// ErrFieldCount reports a row whose width differs from FieldCount.
var ErrFieldCount = errors.New("record: wrong number of fields")

// PackageRecord is one harvested package. Every field is kept as its serialized string.
type PackageRecord struct {
	DependentReposCount            string
	DependentsCount                string
	DeprecationReason              string
	Description                    string
	Forks                          string
	Homepage                       string
	Keywords                       string
	Language                       string
	LatestDownloadURL              string
	LatestReleaseNumber            string
	LatestReleasePublishedAt       string
	LatestStableReleaseNumber      string
	LatestStableReleasePublishedAt string
	LicenseNormalized              string
	Licenses                       string
	Name                           string
	NormalizedLicenses             string
	PackageManagerURL              string
	Platform                       string
	Rank                           string
	RepositoryLicense              string
	RepositoryStatus               string
	RepositoryURL                  string
	Stars                          string
	Status                         string
	TotalVersions                  string
	Maintainers                    string
	LatestUploadDate               string
	LatestUploadTime               string
	FirstUploadDate                string
}

// Class groups fields that share a normalization rule.
type Class int

// Field classes.
const (
	ClassText Class = iota
	ClassURL
	ClassCount
	ClassList
	ClassDate
	ClassTime
)

func (c Class) String() string {
	switch c {
	case ClassText:
		return "text"
	case ClassURL:
		return "url"
	case ClassCount:
		return "count"
	case ClassList:
		return "list"
	case ClassDate:
		return "date"
	case ClassTime:
		return "time"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Field describes one schema column.
type Field struct {
	Name  string
	Class Class
	ref   func(*PackageRecord) *string
}

// Get returns the field value from rec.
func (f Field) Get(rec *PackageRecord) string {
	return *f.ref(rec)
}

// Set stores value into rec.
func (f Field) Set(rec *PackageRecord, value string) {
	*f.ref(rec) = value
}

// Fields is the schema in serialization order.
var Fields = [FieldCount]Field{
	{"dependent_repos_count", ClassCount, func(r *PackageRecord) *string { return &r.DependentReposCount }},
	{"dependents_count", ClassCount, func(r *PackageRecord) *string { return &r.DependentsCount }},
	{"deprecation_reason", ClassText, func(r *PackageRecord) *string { return &r.DeprecationReason }},
	{"description", ClassText, func(r *PackageRecord) *string { return &r.Description }},
	{"forks", ClassCount, func(r *PackageRecord) *string { return &r.Forks }},
	{"homepage", ClassURL, func(r *PackageRecord) *string { return &r.Homepage }},
	{"keywords", ClassList, func(r *PackageRecord) *string { return &r.Keywords }},
	{"language", ClassText, func(r *PackageRecord) *string { return &r.Language }},
	{"latest_download_url", ClassURL, func(r *PackageRecord) *string { return &r.LatestDownloadURL }},
	{"latest_release_number", ClassText, func(r *PackageRecord) *string { return &r.LatestReleaseNumber }},
	{"latest_release_published_at", ClassText, func(r *PackageRecord) *string { return &r.LatestReleasePublishedAt }},
	{"latest_stable_release_number", ClassText, func(r *PackageRecord) *string { return &r.LatestStableReleaseNumber }},
	{"latest_stable_release_published_at", ClassText, func(r *PackageRecord) *string {
		return &r.LatestStableReleasePublishedAt
	}},
	{"license_normalized", ClassText, func(r *PackageRecord) *string { return &r.LicenseNormalized }},
	{"licenses", ClassText, func(r *PackageRecord) *string { return &r.Licenses }},
	{"name", ClassText, func(r *PackageRecord) *string { return &r.Name }},
	{"normalized_licenses", ClassList, func(r *PackageRecord) *string { return &r.NormalizedLicenses }},
	{"package_manager_url", ClassURL, func(r *PackageRecord) *string { return &r.PackageManagerURL }},
	{"platform", ClassText, func(r *PackageRecord) *string { return &r.Platform }},
	{"rank", ClassCount, func(r *PackageRecord) *string { return &r.Rank }},
	{"repository_license", ClassText, func(r *PackageRecord) *string { return &r.RepositoryLicense }},
	{"repository_status", ClassText, func(r *PackageRecord) *string { return &r.RepositoryStatus }},
	{"repository_url", ClassURL, func(r *PackageRecord) *string { return &r.RepositoryURL }},
	{"stars", ClassCount, func(r *PackageRecord) *string { return &r.Stars }},
	{"status", ClassText, func(r *PackageRecord) *string { return &r.Status }},
	{"total_versions", ClassCount, func(r *PackageRecord) *string { return &r.TotalVersions }},
	{"maintainers", ClassList, func(r *PackageRecord) *string { return &r.Maintainers }},
	{"latest_upload_date", ClassDate, func(r *PackageRecord) *string { return &r.LatestUploadDate }},
	{"latest_upload_time", ClassTime, func(r *PackageRecord) *string { return &r.LatestUploadTime }},
	{"first_upload_date", ClassDate, func(r *PackageRecord) *string { return &r.FirstUploadDate }},
}

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, FieldCount)
	for i, f := range Fields {
		idx[f.Name] = i
	}
	return idx
}()

// Header returns the column names in serialization order.
func Header() []string {
	out := make([]string, FieldCount)
	for i, f := range Fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the column position of name.
func Index(name string) (int, bool) {
	i, ok := fieldIndex[name]
	return i, ok
}

// Lookup returns the schema entry for name.
func Lookup(name string) (Field, bool) {
	i, ok := fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return Fields[i], true
}

// Row serializes rec in schema order.
func (r PackageRecord) Row() []string {
	out := make([]string, FieldCount)
	for i, f := range Fields {
		out[i] = f.Get(&r)
	}
	return out
}

// FromRow builds a record from a positional row.
func FromRow(row []string) (PackageRecord, error) {
	if len(row) != FieldCount {
		return PackageRecord{}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(row), FieldCount)
	}
	var rec PackageRecord
	for i, f := range Fields {
		f.Set(&rec, row[i])
	}
	return rec, nil
}

// FromMap builds a record from named values. Unknown keys are ignored and
// missing keys stay empty.
func FromMap(values map[string]string) PackageRecord {
	var rec PackageRecord
	for _, f := range Fields {
		if v, ok := values[f.Name]; ok {
			f.Set(&rec, v)
		}
	}
	return rec
}
