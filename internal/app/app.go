// Package app holds the long-lived services shared by every command and
// builds the pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/api"
	"github.com/JakeFAU/pypi-harvest/internal/audit"
	"github.com/JakeFAU/pypi-harvest/internal/clock/system"
	"github.com/JakeFAU/pypi-harvest/internal/config"
	collyfetcher "github.com/JakeFAU/pypi-harvest/internal/fetcher/colly"
	"github.com/JakeFAU/pypi-harvest/internal/harvest"
	"github.com/JakeFAU/pypi-harvest/internal/id/uuid"
	"github.com/JakeFAU/pypi-harvest/internal/librariesio"
	"github.com/JakeFAU/pypi-harvest/internal/metrics"
	"github.com/JakeFAU/pypi-harvest/internal/pypi"
	"github.com/JakeFAU/pypi-harvest/internal/ratelimit"
	"github.com/JakeFAU/pypi-harvest/internal/storage"
	"github.com/JakeFAU/pypi-harvest/internal/storage/gcs"
	"github.com/JakeFAU/pypi-harvest/internal/storage/local"
	"github.com/JakeFAU/pypi-harvest/internal/tablestore"
	"github.com/JakeFAU/pypi-harvest/internal/validator"
)

// App holds the configuration, logger and status server of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock
	ids    *uuid.Generator

	status     *api.Server
	stopStatus context.CancelFunc
	statusDone chan error
}

// New builds an App. When metrics.addr is set the status server starts in the
// background and runs until Close.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	if cfg.Metrics.Addr != "" {
		a.status = api.NewServer(logger.Named("api"))
		statusCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopStatus = cancel
		a.statusDone = make(chan error, 1)
		go func() {
			err := a.status.Serve(statusCtx, cfg.Metrics.Addr)
			if err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
			a.statusDone <- err
		}()
	}
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Track exposes fn on the status server. It is a no-op when the server is disabled.
func (a *App) Track(name string, fn api.ProgressFunc) {
	if a.status == nil {
		return
	}
	a.status.Track(name, fn)
}

// Close stops the status server.
func (a *App) Close() error {
	if a.stopStatus == nil {
		return nil
	}
	a.stopStatus()
	select {
	case err := <-a.statusDone:
		return err
	case <-time.After(10 * time.Second):
		return errors.New("status server did not stop")
	}
}

// Fetcher builds a colly fetcher paced at rps requests per second per host.
// maxBody of zero leaves responses unbounded.
func (a *App) Fetcher(rps float64, maxBody int) *collyfetcher.Fetcher {
	var opts []collyfetcher.Option
	if rps > 0 {
		opts = append(opts, collyfetcher.WithWaiter(ratelimit.New(ratelimit.Config{RPS: rps, Burst: 1})))
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.HTTP.UserAgent,
		Timeout:     a.cfg.HTTP.Timeout,
		MaxBodySize: maxBody,
	}, opts...)
}

// Retrier builds the shared retry loop for API and page fetches.
func (a *App) Retrier() *librariesio.Retrier {
	return &librariesio.Retrier{
		Policy: librariesio.RetryPolicy{
			RateLimitBackoff: a.cfg.LibrariesIO.RateLimitBackoff,
			OutageBackoff:    a.cfg.LibrariesIO.OutageBackoff,
		},
		Sleeper: a.clock,
		Logger:  a.logger.Named("retry"),
	}
}

// APIKey returns librariesio.api_key, falling back to librariesio.api_key_file.
func (a *App) APIKey() (string, error) {
	if a.cfg.LibrariesIO.APIKey != "" {
		return a.cfg.LibrariesIO.APIKey, nil
	}
	if a.cfg.LibrariesIO.APIKeyFile == "" {
		return "", librariesio.ErrMissingAPIKey
	}
	key, err := librariesio.ReadAPIKey(a.cfg.LibrariesIO.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("load api key: %w", err)
	}
	return key, nil
}

// LibrariesIO builds the metadata API client.
func (a *App) LibrariesIO(retrier *librariesio.Retrier) (*librariesio.Client, error) {
	key, err := a.APIKey()
	if err != nil {
		return nil, err
	}
	lc := a.cfg.LibrariesIO
	client, err := librariesio.New(librariesio.Config{
		BaseURL:  lc.BaseURL,
		APIKey:   key,
		PerPage:  lc.PerPage,
		MaxPages: lc.MaxPages,
	}, a.Fetcher(lc.RequestsPerSecond, 0), a.logger.Named("librariesio"), librariesio.WithRetrier(retrier))
	if err != nil {
		return nil, fmt.Errorf("init librariesio client: %w", err)
	}
	return client, nil
}

// Harvester builds a Harvester plus its candidate source. A positive window
// harvests packages released within it; otherwise the full registry listing.
func (a *App) Harvester(window time.Duration) (*harvest.Harvester, harvest.CandidateSource, error) {
	retrier := a.Retrier()
	client, err := a.LibrariesIO(retrier)
	if err != nil {
		return nil, nil, err
	}
	pages := a.Fetcher(0, 0)
	pc := a.cfg.PyPI
	h := harvest.New(harvest.Config{
		BatchSize:  a.cfg.Harvest.BatchSize,
		BatchPause: a.cfg.Harvest.BatchPause,
	}, client, pypi.NewProjectPages(pc.ProjectURL, pages, a.logger.Named("pypi")), retrier, a.logger.Named("harvest"))

	var source harvest.CandidateSource = harvest.ListingSource{
		Lister: pypi.NewSimpleIndex(pc.SimpleURL, pc.ProjectURL, pages, a.logger.Named("pypi")),
	}
	if window > 0 {
		source = harvest.RecentSource{Searcher: client, Window: window, Now: a.clock.Now}
	}
	return h, source, nil
}

// Validator builds a Validator probing with HEAD requests.
func (a *App) Validator() *validator.Validator {
	vc := a.cfg.Validator
	prober := a.Fetcher(vc.RequestsPerSecond, 0)
	return validator.New(validator.Config{
		Column:         vc.Column,
		BatchSize:      vc.BatchSize,
		Workers:        vc.Workers,
		ProbeTimeout:   vc.ProbeTimeout,
		CheckpointPath: vc.CheckpointPath,
		CursorPath:     vc.CursorPath,
	}, prober, a.ids, a.logger.Named("validator"))
}

// Auditor builds the repair pass.
func (a *App) Auditor() *audit.Auditor {
	return audit.New(a.logger.Named("audit"))
}

// Loader connects to the table store. The table argument overrides tablestore.table.
func (a *App) Loader(ctx context.Context, table string) (*tablestore.Loader, error) {
	if table == "" {
		table = a.cfg.TableStore.Table
	}
	loader, err := tablestore.New(ctx, tablestore.Config{
		DSN:   a.cfg.TableStore.DSN,
		Table: table,
	}, a.logger.Named("tablestore"))
	if err != nil {
		return nil, fmt.Errorf("init table store: %w", err)
	}
	return loader, nil
}

// BlobStore builds the configured publish target. The returned func releases it.
func (a *App) BlobStore(ctx context.Context) (storage.BlobStore, func() error, error) {
	pc := a.cfg.Publish
	switch pc.Provider {
	case "gcs":
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: pc.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, store.Close, nil
	case "local", "":
		store, err := local.New(local.Config{BaseDir: pc.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown publish provider %q", pc.Provider)
	}
}

// NewRunID mints an identifier for one command invocation.
func (a *App) NewRunID() (string, error) {
	id, err := a.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	return id, nil
}
