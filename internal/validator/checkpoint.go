package validator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var checkpointHeader = []string{"pypi_url", "package_exists"}

// Checkpoint appends probe results to the side file, one flushed row per result.
type Checkpoint struct {
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCheckpoint opens path for appending and writes the header if the file is new.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	// #nosec G304 -- checkpoint path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat checkpoint %s: %w", path, err)
	}
	c := &Checkpoint{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := c.write(checkpointHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return c, nil
}

// Append records one result. Failed probes are written as existing.
func (c *Checkpoint) Append(res ProbeResult) error {
	return c.write([]string{res.URL, formatBool(res.Exists)})
}

func (c *Checkpoint) write(row []string) error {
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", c.path, err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush checkpoint %s: %w", c.path, err)
	}
	return nil
}

// Close closes the file.
func (c *Checkpoint) Close() error {
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", c.path, err)
	}
	return nil
}

// CheckpointEntry is one row of the checkpoint.
type CheckpointEntry struct {
	URL    string
	Exists bool
}

// ReadCheckpoint returns every entry in file order. A missing file yields no entries.
func ReadCheckpoint(path string) ([]CheckpointEntry, error) {
	// #nosec G304 -- checkpoint path comes from operator configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var entries []CheckpointEntry
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			// A torn final line from a crash ends the usable checkpoint.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return entries, nil
			}
			return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == checkpointHeader[0] {
				continue
			}
		}
		if len(row) != len(checkpointHeader) {
			continue
		}
		entries = append(entries, CheckpointEntry{URL: row[0], Exists: parseBool(row[1])})
	}
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// parseBool treats anything but an explicit false as existing.
func parseBool(s string) bool {
	return !strings.EqualFold(strings.TrimSpace(s), "false")
}
