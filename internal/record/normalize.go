package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Placeholders written for empty values.
const (
	NoneValue = "none"
	ZeroValue = "0"
)

// DateLayout is the store's date format.
const DateLayout = "2006-01-02"

// SchemaViolation reports the first field that failed its rule.
type SchemaViolation struct {
	Field  string
	Value  string
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("record: field %s=%q: %s", e.Field, e.Value, e.Reason)
}

var (
	errNotInteger = errors.New("not a base-10 integer")
	errBadDate    = errors.New("not a YYYY-MM-DD date")
	errBadTime    = errors.New("not an HH:MM:SS time")
)

// Rule canonicalizes one value or rejects it.
type Rule func(value string) (string, error)

// Rules maps each class to its rule.
var Rules = map[Class]Rule{
	ClassText:  normalizeText,
	ClassURL:   normalizeText,
	ClassCount: normalizeCount,
	ClassList:  normalizeList,
	ClassDate:  checkDate,
	ClassTime:  checkTime,
}

// Normalize applies each field rule in schema order and stops at the first failure.
func Normalize(rec PackageRecord) (PackageRecord, error) {
	out := rec
	for _, f := range Fields {
		value := f.Get(&out)
		got, err := Rules[f.Class](value)
		if err != nil {
			return PackageRecord{}, &SchemaViolation{Field: f.Name, Value: value, Reason: err.Error()}
		}
		f.Set(&out, got)
	}
	return out, nil
}

// NormalizeRow parses and normalizes a positional row.
func NormalizeRow(row []string) (PackageRecord, error) {
	rec, err := FromRow(row)
	if err != nil {
		return PackageRecord{}, err
	}
	return Normalize(rec)
}

func normalizeText(value string) (string, error) {
	if value == "" {
		return NoneValue, nil
	}
	return value, nil
}

func normalizeCount(value string) (string, error) {
	if value == "" {
		return ZeroValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return "", errNotInteger
	}
	return strconv.Itoa(n), nil
}

func normalizeList(value string) (string, error) {
	value = strings.NewReplacer("[", "", "]", "").Replace(value)
	if value == "" {
		return NoneValue, nil
	}
	return value, nil
}

func checkDate(value string) (string, error) {
	if _, err := time.Parse(DateLayout, value); err != nil {
		return "", errBadDate
	}
	return value, nil
}

func checkTime(value string) (string, error) {
	if len(strings.Split(value, ":")) != 3 {
		return "", errBadTime
	}
	return value, nil
}
