// Package audit rewrites a store so every row satisfies the record schema.
package audit

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/metrics"
	"github.com/JakeFAU/pypi-harvest/internal/record"
	"github.com/JakeFAU/pypi-harvest/internal/store"
)

// DefaultOutput is the fixed name of the repaired store.
const DefaultOutput = "new_pypi_info_main_db.csv"

// Stats counts what a pass did. SkippedByField keys rows by the first failing
// field, or "field_count" for rows of the wrong width.
type Stats struct {
	Rows           int            `json:"rows"`
	Kept           int            `json:"kept"`
	Skipped        int            `json:"skipped"`
	SkippedByField map[string]int `json:"skipped_by_field"`
}

// Auditor runs repair passes.
type Auditor struct {
	logger *zap.Logger
}

// New builds an Auditor.
func New(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{logger: logger}
}

// Run normalizes every row of input into output, dropping rows that cannot be
// repaired. The output header is always the canonical one.
func (a *Auditor) Run(input, output string) (Stats, error) {
	start := time.Now()
	stats := Stats{SkippedByField: map[string]int{}}

	rs, err := store.Rewrite(input, output, record.Header(), func(row []string) ([]string, bool) {
		rec, err := record.NormalizeRow(row)
		if err != nil {
			stats.SkippedByField[reason(err)]++
			metrics.ObserveAuditRow("skipped")
			a.logger.Debug("row dropped", zap.Int("row", stats.Rows+1), zap.Error(err))
			stats.Rows++
			return nil, false
		}
		metrics.ObserveAuditRow("kept")
		stats.Rows++
		return rec.Row(), true
	})
	if err != nil {
		return stats, fmt.Errorf("audit %s: %w", input, err)
	}
	if len(rs.Header) != record.FieldCount {
		a.logger.Warn("unexpected header width",
			zap.Int("columns", len(rs.Header)),
			zap.Int("want", record.FieldCount),
			zap.Strings("header", rs.Header),
		)
	}
	stats.Kept = rs.Kept
	stats.Skipped = rs.Dropped

	a.logger.Info("audit finished",
		zap.String("input", input),
		zap.String("output", output),
		zap.Int("rows", stats.Rows),
		zap.Int("kept", stats.Kept),
		zap.Int("skipped", stats.Skipped),
		zap.Any("skipped_by_field", stats.SkippedByField),
		zap.Duration("took", time.Since(start)),
	)
	return stats, nil
}

func reason(err error) string {
	var violation *record.SchemaViolation
	if errors.As(err, &violation) {
		return violation.Field
	}
	if errors.Is(err, record.ErrFieldCount) {
		return "field_count"
	}
	return "unknown"
}
