// Package store reads and writes the CSV package store.
//
// The store is appended to in batches by the harvester and rewritten wholesale
// by the audit pass and the validator. It is never edited in place: rewrites go
// to a sibling temp file that is renamed over the destination.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JakeFAU/pypi-harvest/internal/record"
)

// ErrExists is returned when a fresh store would overwrite an existing file.
var ErrExists = errors.New("store already exists")

// Exists reports whether path names an existing file.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("store path %s is a directory", path)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// Appender appends records to a store file, writing the header once when the
// file is new.
type Appender struct {
	path string
	file *os.File
	w    *csv.Writer
}

// OpenAppender opens path for appending, creating it with a header if needed.
func OpenAppender(path string) (*Appender, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	// #nosec G304 -- store path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat store %s: %w", path, err)
	}
	a := &Appender{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := a.writeRows([][]string{record.Header()}); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return a, nil
}

// Append writes recs and flushes them to the file.
func (a *Appender) Append(recs []record.PackageRecord) error {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, rec.Row())
	}
	return a.writeRows(rows)
}

func (a *Appender) writeRows(rows [][]string) error {
	if err := a.w.WriteAll(rows); err != nil {
		return fmt.Errorf("append to store %s: %w", a.path, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (a *Appender) Close() error {
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		_ = a.file.Close()
		return fmt.Errorf("flush store %s: %w", a.path, err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close store %s: %w", a.path, err)
	}
	return nil
}

// Scan streams every data row of the store to fn and returns the header.
// Rows of any width are passed through; fn decides what to do with them.
func Scan(path string, fn func(row []string) error) ([]string, error) {
	var header []string
	err := scan(path, func(h []string) error {
		header = h
		return nil
	}, fn)
	return header, err
}

func scan(path string, onHeader func([]string) error, fn func(row []string) error) error {
	r, err := OpenReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := onHeader(r.Header()); err != nil {
		return err
	}
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Reader iterates the data rows of a store.
type Reader struct {
	path   string
	file   *os.File
	csv    *csv.Reader
	header []string
}

// OpenReader opens path and consumes its header row.
func OpenReader(path string) (*Reader, error) {
	// #nosec G304 -- store path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	r := &Reader{path: path, file: f, csv: newReader(f)}
	header, err := r.csv.Read()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		_ = f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	default:
		r.header = append([]string(nil), header...)
	}
	return r, nil
}

// Header returns the header row, or nil for an empty file.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next row, or io.EOF when the store is exhausted.
func (r *Reader) Next() ([]string, error) {
	if r.header == nil {
		return nil, io.EOF
	}
	row, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	return row, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close store %s: %w", r.path, err)
	}
	return nil
}

// ReadNames returns the set of package names already in the store.
func ReadNames(path string) (map[string]struct{}, error) {
	values, err := ReadColumn(path, "name")
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(values))
	for _, v := range values {
		names[v] = struct{}{}
	}
	return names, nil
}

// ReadColumn returns the values of column for every row wide enough to hold it.
func ReadColumn(path, column string) ([]string, error) {
	idx, ok := record.Index(column)
	if !ok {
		return nil, fmt.Errorf("unknown store column %q", column)
	}
	var values []string
	_, err := Scan(path, func(row []string) error {
		if idx < len(row) {
			values = append(values, row[idx])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// RewriteFunc maps a source row to an output row. Returning false drops it.
type RewriteFunc func(row []string) ([]string, bool)

// RewriteStats describes a finished Rewrite. Header is the source header.
type RewriteStats struct {
	Header  []string
	Rows    int
	Kept    int
	Dropped int
}

// Rewrite copies src to dst through fn. A nil header copies the source header.
// The output is written to a temp file and renamed into place, so dst may equal src.
func Rewrite(src, dst string, header []string, fn RewriteFunc) (RewriteStats, error) {
	var stats RewriteStats
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return stats, fmt.Errorf("create temp for %s: %w", dst, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	err = scan(src, func(srcHeader []string) error {
		stats.Header = srcHeader
		if header != nil {
			srcHeader = header
		}
		if srcHeader == nil {
			return nil
		}
		return w.Write(srcHeader)
	}, func(row []string) error {
		stats.Rows++
		out, keep := fn(row)
		if !keep {
			stats.Dropped++
			return nil
		}
		stats.Kept++
		return w.Write(out)
	})
	if err != nil {
		return stats, fmt.Errorf("rewrite %s: %w", src, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return stats, fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return stats, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return stats, fmt.Errorf("rename %s to %s: %w", tmpName, dst, err)
	}
	committed = true
	return stats, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	return cr
}
