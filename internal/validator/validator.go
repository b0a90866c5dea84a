// Package validator re-checks that every package URL in the store still
// resolves on the registry and rewrites the store without the ones that 404.
//
// URLs are probed in fixed-size batches on a bounded worker pool. Each result
// is appended to a checkpoint file as soon as it completes, and a cursor file
// records how many URLs are fully done after every batch, so an interrupted
// run can resume where it stopped.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	collyfetcher "github.com/JakeFAU/pypi-harvest/internal/fetcher/colly"
	"github.com/JakeFAU/pypi-harvest/internal/metrics"
	"github.com/JakeFAU/pypi-harvest/internal/record"
	"github.com/JakeFAU/pypi-harvest/internal/store"
)

// Defaults for a validation run.
const (
	DefaultColumn         = "package_manager_url"
	DefaultBatchSize      = 10000
	DefaultWorkers        = 100
	DefaultProbeTimeout   = 5 * time.Second
	DefaultCheckpointPath = "validator_worked_urls.tmp"
	DefaultCursorPath     = "validator_cursor.yaml"
)

// Prober issues HEAD requests.
type Prober interface {
	Head(ctx context.Context, url string) (collyfetcher.Response, error)
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes a Validator.
type Config struct {
	Column         string
	BatchSize      int
	Workers        int
	ProbeTimeout   time.Duration
	CheckpointPath string
	CursorPath     string
}

// ProbeResult is the outcome of one existence check.
type ProbeResult struct {
	URL    string
	Exists bool
	Err    error
}

// Stats counts what a run did.
type Stats struct {
	URLs        int `json:"urls"`
	Skipped     int `json:"skipped"`
	Probed      int `json:"probed"`
	Missing     int `json:"missing"`
	Failed      int `json:"failed"`
	Batches     int `json:"batches"`
	RowsKept    int `json:"rows_kept"`
	RowsRemoved int `json:"rows_removed"`
}

// Validator runs validation passes.
type Validator struct {
	cfg    Config
	prober Prober
	ids    IDGenerator
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds a Validator, filling unset config with defaults.
func New(cfg Config, prober Prober, ids IDGenerator, logger *zap.Logger) *Validator {
	if cfg.Column == "" {
		cfg.Column = DefaultColumn
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = DefaultCheckpointPath
	}
	if cfg.CursorPath == "" {
		cfg.CursorPath = DefaultCursorPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		cfg:    cfg,
		prober: prober,
		ids:    ids,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Stats returns a snapshot of the current run's counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *Validator) update(fn func(*Stats)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(&v.stats)
}

// Run validates input and writes the surviving rows to output.
func (v *Validator) Run(ctx context.Context, input, output string, resume bool) (Stats, error) {
	start := time.Now()
	v.update(func(s *Stats) { *s = Stats{} })

	column, ok := record.Index(v.cfg.Column)
	if !ok {
		return Stats{}, fmt.Errorf("unknown url column %q", v.cfg.Column)
	}
	values, err := store.ReadColumn(input, v.cfg.Column)
	if err != nil {
		return Stats{}, err
	}
	urls := DistinctURLs(values)
	fingerprint := Fingerprint(urls)
	v.update(func(s *Stats) { s.URLs = len(urls) })

	cursor, done, err := v.prepare(input, urls, fingerprint, resume)
	if err != nil {
		return v.Stats(), err
	}
	v.logger.Info("validation starting",
		zap.String("run_id", cursor.RunID),
		zap.String("input", input),
		zap.Int("urls", len(urls)),
		zap.Int("offset", cursor.Offset),
		zap.Int("already_checked", len(done)),
		zap.Bool("resume", resume),
	)

	checkpoint, err := OpenCheckpoint(v.cfg.CheckpointPath)
	if err != nil {
		return v.Stats(), err
	}
	probeErr := v.probeAll(ctx, urls, done, cursor, checkpoint)
	if closeErr := checkpoint.Close(); closeErr != nil {
		probeErr = errors.Join(probeErr, closeErr)
	}
	if probeErr != nil {
		return v.Stats(), probeErr
	}

	if err := v.rewrite(input, output, column); err != nil {
		return v.Stats(), err
	}
	if err := removeIfExists(v.cfg.CheckpointPath); err != nil {
		return v.Stats(), err
	}
	if err := removeIfExists(v.cfg.CursorPath); err != nil {
		return v.Stats(), err
	}

	stats := v.Stats()
	v.logger.Info("validation finished",
		zap.String("run_id", cursor.RunID),
		zap.String("output", output),
		zap.Int("urls", stats.URLs),
		zap.Int("probed", stats.Probed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("missing", stats.Missing),
		zap.Int("failed", stats.Failed),
		zap.Int("rows_kept", stats.RowsKept),
		zap.Int("rows_removed", stats.RowsRemoved),
		zap.Duration("took", time.Since(start)),
	)
	return stats, nil
}

// prepare decides where the run starts and which URLs already have results.
func (v *Validator) prepare(input string, urls []string, fingerprint string, resume bool) (*Cursor, map[string]struct{}, error) {
	fresh := func() (*Cursor, error) {
		id, err := v.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("new run id: %w", err)
		}
		return &Cursor{RunID: id, Source: input, Fingerprint: fingerprint, Total: len(urls)}, nil
	}

	if !resume {
		for _, p := range []string{v.cfg.CheckpointPath, v.cfg.CursorPath} {
			if err := removeIfExists(p); err != nil {
				return nil, nil, err
			}
		}
		c, err := fresh()
		return c, map[string]struct{}{}, err
	}

	entries, err := ReadCheckpoint(v.cfg.CheckpointPath)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		done[e.URL] = struct{}{}
	}

	saved, err := LoadCursor(v.cfg.CursorPath)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case saved != nil && saved.Fingerprint == fingerprint:
		if saved.Offset > len(urls) {
			saved.Offset = len(urls)
		}
		return saved, done, nil
	case saved != nil:
		v.logger.Warn("store changed since the checkpoint was written, resuming by url",
			zap.String("run_id", saved.RunID),
			zap.Int("checked", len(done)),
		)
	case len(entries) > 0:
		v.logger.Warn("checkpoint has no cursor, resuming by url", zap.Int("checked", len(done)))
	}
	c, err := fresh()
	return c, done, err
}

func (v *Validator) probeAll(
	ctx context.Context,
	urls []string,
	done map[string]struct{},
	cursor *Cursor,
	checkpoint *Checkpoint,
) error {
	v.update(func(s *Stats) { s.Skipped += cursor.Offset })
	for start := cursor.Offset; start < len(urls); start += v.cfg.BatchSize {
		end := min(start+v.cfg.BatchSize, len(urls))
		batch := make([]string, 0, end-start)
		for _, u := range urls[start:end] {
			if _, ok := done[u]; ok {
				continue
			}
			batch = append(batch, u)
		}
		skipped := (end - start) - len(batch)
		v.update(func(s *Stats) { s.Skipped += skipped })

		batchStart := time.Now()
		if err := v.runBatch(ctx, batch, checkpoint); err != nil {
			return err
		}
		cursor.Offset = end
		cursor.UpdatedAt = v.now()
		if err := SaveCursor(v.cfg.CursorPath, *cursor); err != nil {
			return err
		}
		v.update(func(s *Stats) { s.Batches++ })
		snap := v.Stats()
		v.logger.Info("batch validated",
			zap.Int("batch", snap.Batches),
			zap.Int("size", len(batch)),
			zap.Int("offset", end),
			zap.Int("total", len(urls)),
			zap.Int("missing", snap.Missing),
			zap.Int("failed", snap.Failed),
			zap.Duration("took", time.Since(batchStart)),
		)
	}
	return nil
}

// runBatch probes batch concurrently. Only this goroutine writes the checkpoint.
func (v *Validator) runBatch(ctx context.Context, batch []string, checkpoint *Checkpoint) error {
	if len(batch) == 0 {
		return nil
	}
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan ProbeResult, len(batch))
	var g errgroup.Group
	g.SetLimit(v.cfg.Workers)
	go func() {
		for _, u := range batch {
			if batchCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				results <- v.Probe(batchCtx, u)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var writeErr error
	for res := range results {
		if writeErr != nil {
			continue
		}
		if res.Err != nil && ctx.Err() != nil {
			// Interrupted, not failed; leave it for the resumed run.
			continue
		}
		if err := checkpoint.Append(res); err != nil {
			writeErr = err
			cancel()
			continue
		}
		v.record(res)
	}
	if writeErr != nil {
		return writeErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("validation interrupted: %w", err)
	}
	return nil
}

func (v *Validator) record(res ProbeResult) {
	switch {
	case res.Err != nil:
		v.logger.Warn("probe failed, keeping package", zap.String("url", res.URL), zap.Error(res.Err))
		metrics.ObserveProbe("failed")
		v.update(func(s *Stats) {
			s.Probed++
			s.Failed++
		})
	case !res.Exists:
		metrics.ObserveProbe("missing")
		v.update(func(s *Stats) {
			s.Probed++
			s.Missing++
		})
	default:
		metrics.ObserveProbe("exists")
		v.update(func(s *Stats) { s.Probed++ })
	}
}

// Probe checks one URL. Only a 404 means the package is gone; failures are
// reported with Exists set so they never remove a row.
func (v *Validator) Probe(ctx context.Context, url string) ProbeResult {
	metrics.IncInflightProbes()
	defer metrics.DecInflightProbes()

	probeCtx, cancel := context.WithTimeout(ctx, v.cfg.ProbeTimeout)
	defer cancel()
	resp, err := v.prober.Head(probeCtx, url)
	if err != nil {
		return ProbeResult{URL: url, Exists: true, Err: err}
	}
	return ProbeResult{URL: url, Exists: resp.StatusCode != http.StatusNotFound}
}

func (v *Validator) rewrite(input, output string, column int) error {
	entries, err := ReadCheckpoint(v.cfg.CheckpointPath)
	if err != nil {
		return err
	}
	missing := make(map[string]struct{})
	for _, e := range entries {
		if !e.Exists {
			missing[e.URL] = struct{}{}
		}
	}
	stats, err := store.Rewrite(input, output, nil, func(row []string) ([]string, bool) {
		if column >= len(row) {
			return row, true
		}
		if _, gone := missing[row[column]]; gone {
			v.logger.Info("package no longer exists", zap.String("url", row[column]))
			return nil, false
		}
		return row, true
	})
	if err != nil {
		return err
	}
	v.update(func(s *Stats) {
		s.RowsKept = stats.Kept
		s.RowsRemoved = stats.Dropped
	})
	return nil
}

// DistinctURLs drops repeats and empty values, keeping first-seen order.
func DistinctURLs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, u := range values {
		if u == "" || u == record.NoneValue {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
