// Package harvest drives the incremental collection of package records.
//
// For every candidate name the harvester fetches aggregator metadata, adds
// registry page data, normalizes the result and buffers it. Buffered records
// are flushed to the store every BatchSize packages, followed by a fixed pause.
// Names already present in the store are skipped without any remote call.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/librariesio"
	"github.com/JakeFAU/pypi-harvest/internal/metrics"
	"github.com/JakeFAU/pypi-harvest/internal/pypi"
	"github.com/JakeFAU/pypi-harvest/internal/record"
	"github.com/JakeFAU/pypi-harvest/internal/store"
)

// Defaults for batching.
const (
	DefaultBatchSize  = 60
	DefaultBatchPause = 60 * time.Second
)

// State is where a candidate ended up.
type State string

// Candidate states.
const (
	StatePending              State = "pending"
	StateSkipAlreadyCollected State = "skipped"
	StateFetched              State = "fetched"
	StateEnriched             State = "enriched"
	StateWritten              State = "written"
	StateDropped              State = "dropped"
)

// PackageAPI fetches aggregator metadata for one package.
type PackageAPI interface {
	FetchPackage(ctx context.Context, name string) (record.Raw, librariesio.Outcome, error)
}

// PageSource fetches registry page metadata for one package.
type PageSource interface {
	Metadata(ctx context.Context, name string) (pypi.Metadata, error)
}

// Sink receives flushed batches.
type Sink interface {
	Append(recs []record.PackageRecord) error
}

// Config tunes batching.
type Config struct {
	BatchSize  int
	BatchPause time.Duration
}

// Stats counts what a run did.
type Stats struct {
	Candidates    int `json:"candidates"`
	Skipped       int `json:"skipped"`
	Fetched       int `json:"fetched"`
	NotFound      int `json:"not_found"`
	Removed       int `json:"removed"`
	NoFirstUpload int `json:"no_first_upload"`
	Invalid       int `json:"invalid"`
	Written       int `json:"written"`
	Retries       int `json:"retries"`
	Batches       int `json:"batches"`
}

// Harvester runs the per-package pipeline.
type Harvester struct {
	cfg     Config
	api     PackageAPI
	pages   PageSource
	retrier *librariesio.Retrier
	logger  *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds a Harvester. The retrier's sleeper also paces batch pauses.
func New(cfg Config, api PackageAPI, pages PageSource, retrier *librariesio.Retrier, logger *zap.Logger) *Harvester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{cfg: cfg, api: api, pages: pages, retrier: retrier, logger: logger}
}

// Stats returns a snapshot of the current run's counters.
func (h *Harvester) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Harvester) update(fn func(*Stats)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.stats)
}

// HarvestInto runs source against the store at path. Without update an
// existing store is refused; with update its names seed the skip set.
func (h *Harvester) HarvestInto(ctx context.Context, source CandidateSource, path string, update bool) (Stats, error) {
	exists, err := store.Exists(path)
	if err != nil {
		return Stats{}, err
	}
	if exists && !update {
		return Stats{}, fmt.Errorf("%w: %s (pass --update to resume it)", store.ErrExists, path)
	}
	skip := map[string]struct{}{}
	if exists {
		skip, err = store.ReadNames(path)
		if err != nil {
			return Stats{}, fmt.Errorf("load collected names: %w", err)
		}
		h.logger.Info("resuming store", zap.String("path", path), zap.Int("collected", len(skip)))
	} else if update {
		h.logger.Warn("store to update does not exist, starting fresh", zap.String("path", path))
	}

	candidates, err := source.Candidates(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list candidates: %w", err)
	}

	appender, err := store.OpenAppender(path)
	if err != nil {
		return Stats{}, err
	}
	stats, runErr := h.Run(ctx, candidates, skip, appender)
	if closeErr := appender.Close(); closeErr != nil {
		return stats, errors.Join(runErr, closeErr)
	}
	return stats, runErr
}

// Run processes candidates in order. The final partial batch is always
// flushed, including when ctx is canceled.
func (h *Harvester) Run(ctx context.Context, candidates []string, skip map[string]struct{}, sink Sink) (Stats, error) {
	h.update(func(s *Stats) { *s = Stats{Candidates: len(candidates)} })
	start := time.Now()
	batch := make([]record.PackageRecord, 0, h.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.Append(batch); err != nil {
			return fmt.Errorf("flush batch: %w", err)
		}
		for range batch {
			metrics.ObservePackage(string(StateWritten))
		}
		n := len(batch)
		h.update(func(s *Stats) {
			s.Written += n
			s.Batches++
		})
		batch = batch[:0]
		snap := h.Stats()
		h.logger.Info("batch flushed",
			zap.Int("batch", snap.Batches),
			zap.Int("written", snap.Written),
			zap.Int("skipped", snap.Skipped),
			zap.Int("dropped", snap.NotFound+snap.Removed+snap.NoFirstUpload+snap.Invalid),
			zap.Int("remaining", len(candidates)-h.seen(snap)),
		)
		return nil
	}

	var runErr error
	for _, name := range candidates {
		if _, ok := skip[name]; ok {
			h.update(func(s *Stats) { s.Skipped++ })
			metrics.ObservePackage(string(StateSkipAlreadyCollected))
			continue
		}
		rec, state, err := h.process(ctx, name)
		if err != nil {
			runErr = err
			break
		}
		if state != StateEnriched {
			metrics.ObservePackage(string(state))
			continue
		}
		skip[name] = struct{}{}
		batch = append(batch, rec)
		if len(batch) < h.cfg.BatchSize {
			continue
		}
		if err := flush(); err != nil {
			return h.Stats(), err
		}
		if err := h.retrier.Sleeper.Sleep(ctx, h.cfg.BatchPause); err != nil {
			runErr = err
			break
		}
	}

	if err := flush(); err != nil {
		return h.Stats(), errors.Join(runErr, err)
	}
	stats := h.Stats()
	h.logger.Info("harvest finished",
		zap.Int("candidates", stats.Candidates),
		zap.Int("written", stats.Written),
		zap.Int("skipped", stats.Skipped),
		zap.Int("not_found", stats.NotFound),
		zap.Int("removed", stats.Removed),
		zap.Int("no_first_upload", stats.NoFirstUpload),
		zap.Int("invalid", stats.Invalid),
		zap.Int("retries", stats.Retries),
		zap.Duration("took", time.Since(start)),
		zap.Bool("interrupted", runErr != nil),
	)
	return stats, runErr
}

func (h *Harvester) seen(s Stats) int {
	return s.Skipped + s.Written + s.NotFound + s.Removed + s.NoFirstUpload + s.Invalid
}

// process moves one name from PENDING to ENRICHED or DROPPED. A non-nil error
// means the run must stop.
func (h *Harvester) process(ctx context.Context, name string) (record.PackageRecord, State, error) {
	logger := h.logger.With(zap.String("package", name))

	var raw record.Raw
	outcome, retries, err := h.retrier.Do(ctx, name, func(ctx context.Context) (librariesio.Outcome, error) {
		var (
			o   librariesio.Outcome
			err error
		)
		raw, o, err = h.api.FetchPackage(ctx, name)
		return o, err
	})
	h.update(func(s *Stats) { s.Retries += retries })
	if ctx.Err() != nil {
		return record.PackageRecord{}, StatePending, fmt.Errorf("fetch %s: %w", name, ctx.Err())
	}
	if outcome == librariesio.OutcomeNotFound {
		logger.Debug("package not found in aggregator")
		h.update(func(s *Stats) { s.NotFound++ })
		return record.PackageRecord{}, StateDropped, nil
	}
	if err != nil {
		return record.PackageRecord{}, StatePending, err
	}
	h.update(func(s *Stats) { s.Fetched++ })

	if raw.String("status") == record.StatusRemoved {
		logger.Debug("package removed from registry")
		h.update(func(s *Stats) { s.Removed++ })
		return record.PackageRecord{}, StateDropped, nil
	}

	var meta pypi.Metadata
	_, retries, err = h.retrier.Do(ctx, name+" page", func(ctx context.Context) (librariesio.Outcome, error) {
		var err error
		meta, err = h.pages.Metadata(ctx, name)
		return librariesio.OutcomeOf(err), err
	})
	h.update(func(s *Stats) { s.Retries += retries })
	if ctx.Err() != nil {
		return record.PackageRecord{}, StatePending, fmt.Errorf("project page %s: %w", name, ctx.Err())
	}
	if err != nil {
		return record.PackageRecord{}, StatePending, err
	}
	if !meta.Found || meta.FirstUploadDate == "" {
		logger.Debug("no first upload date", zap.Bool("page_found", meta.Found))
		h.update(func(s *Stats) { s.NoFirstUpload++ })
		return record.PackageRecord{}, StateDropped, nil
	}

	rec, err := record.Normalize(record.Enrich(raw, record.Extras{
		Maintainers:     meta.Maintainers,
		FirstUploadDate: meta.FirstUploadDate,
	}))
	if err != nil {
		logger.Debug("record failed normalization", zap.Error(err))
		h.update(func(s *Stats) { s.Invalid++ })
		return record.PackageRecord{}, StateDropped, nil
	}
	logger.Debug("package harvested")
	return rec, StateEnriched, nil
}
