package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxLicensesLen caps the licenses field, counted in characters.
const MaxLicensesLen = 120

// StatusRemoved marks a package withdrawn from the registry.
const StatusRemoved = "Removed"

// Raw is a decoded aggregator payload.
type Raw map[string]any

// String renders the value under key the way the store serializes it.
func (r Raw) String(key string) string {
	return RenderValue(r[key])
}

// Extras holds fields scraped from the registry project page.
type Extras struct {
	Maintainers     []string
	FirstUploadDate string
}

// Enrich derives a store record from an aggregator payload and page metadata.
// The result still needs Normalize.
func Enrich(raw Raw, extras Extras) PackageRecord {
	values := make(map[string]string, FieldCount)
	for _, f := range Fields {
		if v, ok := raw[f.Name]; ok {
			values[f.Name] = RenderValue(v)
		}
	}

	versions, _ := raw["versions"].([]any)
	values["total_versions"] = strconv.Itoa(len(versions))
	values["licenses"] = truncate(values["licenses"], MaxLicensesLen)
	values["maintainers"] = strings.Join(dedupe(extras.Maintainers), ", ")
	values["first_upload_date"] = extras.FirstUploadDate
	values["latest_upload_date"], values["latest_upload_time"] = SplitTimestamp(values["latest_release_published_at"])

	return FromMap(values)
}

// SplitTimestamp splits 2023-02-27T22:36:00.813Z into its date and HH:MM:SS parts.
func SplitTimestamp(ts string) (string, string) {
	date, rest, found := strings.Cut(ts, "T")
	if !found {
		return strings.TrimSpace(date), ""
	}
	clock, _, _ := strings.Cut(rest, ".")
	clock = strings.TrimSuffix(strings.TrimSpace(clock), "Z")
	return strings.TrimSpace(date), clock
}

// RenderValue converts a decoded JSON value into its store form.
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, RenderValue(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(val, ", ")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
