// Package tablestore loads finished stores into a Postgres table for querying.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/record"
	"github.com/JakeFAU/pypi-harvest/internal/store"
)

// DefaultTable receives loads when no table is configured.
const DefaultTable = "pypi"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for loads.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Close()
}

// Loader copies store rows into a table whose columns mirror the store header.
type Loader struct {
	pool   pool
	table  string
	logger *zap.Logger
}

// LoadStats describes a finished load.
type LoadStats struct {
	Rows    int64 `json:"rows"`
	Skipped int   `json:"skipped"`
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Loader, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("tablestore.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newLoader(p, table, logger), nil
}

// NewWithPool constructs a Loader from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, logger *zap.Logger) (*Loader, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newLoader(p, name, logger), nil
}

func newLoader(p pool, table string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{pool: p, table: table, logger: logger}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *Loader) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// CreateTableSQL returns the DDL for the target table: one TEXT column per
// store field, in store order.
func (l *Loader) CreateTableSQL() string {
	cols := make([]string, 0, record.FieldCount)
	for _, name := range record.Header() {
		cols = append(cols, "\t"+pgx.Identifier{name}.Sanitize()+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		pgx.Identifier{l.table}.Sanitize(), strings.Join(cols, ",\n"))
}

// Load ensures the table exists, optionally truncates it, and copies every
// full-width row of the store at path into it.
func (l *Loader) Load(ctx context.Context, path string, replace bool) (LoadStats, error) {
	start := time.Now()
	src, err := newRowSource(path)
	if err != nil {
		return LoadStats{}, err
	}
	defer func() { _ = src.Close() }()

	if _, err := l.pool.Exec(ctx, l.CreateTableSQL()); err != nil {
		return LoadStats{}, fmt.Errorf("create table %s: %w", l.table, err)
	}
	if replace {
		if _, err := l.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{l.table}.Sanitize()); err != nil {
			return LoadStats{}, fmt.Errorf("truncate table %s: %w", l.table, err)
		}
	}

	n, err := l.pool.CopyFrom(ctx, pgx.Identifier{l.table}, record.Header(), src)
	stats := LoadStats{Rows: n, Skipped: src.skipped}
	if err != nil {
		return stats, fmt.Errorf("copy into %s: %w", l.table, err)
	}
	l.logger.Info("store loaded",
		zap.String("path", path),
		zap.String("table", l.table),
		zap.Bool("replace", replace),
		zap.Int64("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", time.Since(start)),
	)
	return stats, nil
}

// rowSource adapts a store reader to pgx.CopyFromSource. Rows of the wrong
// width are skipped.
type rowSource struct {
	reader  *store.Reader
	current []string
	skipped int
	err     error
}

func newRowSource(path string) (*rowSource, error) {
	r, err := store.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &rowSource{reader: r}, nil
}

func (s *rowSource) Next() bool {
	for {
		row, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			s.err = err
			return false
		}
		if len(row) != record.FieldCount {
			s.skipped++
			continue
		}
		s.current = row
		return true
	}
}

func (s *rowSource) Values() ([]any, error) {
	values := make([]any, len(s.current))
	for i, v := range s.current {
		values[i] = v
	}
	return values, nil
}

func (s *rowSource) Err() error {
	return s.err
}

func (s *rowSource) Close() error {
	return s.reader.Close()
}
