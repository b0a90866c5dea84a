package validator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/pypi-harvest/internal/hash/sha256"
)

// Cursor is the persisted resume position of a validation run.
type Cursor struct {
	RunID       string    `yaml:"run_id"`
	Source      string    `yaml:"source"`
	Fingerprint string    `yaml:"fingerprint"`
	Total       int       `yaml:"total"`
	Offset      int       `yaml:"offset"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

// Fingerprint hashes the ordered URL list.
func Fingerprint(urls []string) string {
	return sha256.New().HashLines(urls)
}

// LoadCursor reads path. A missing file returns nil without error.
func LoadCursor(path string) (*Cursor, error) {
	// #nosec G304 -- cursor path comes from operator configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor %s: %w", path, err)
	}
	var c Cursor
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse cursor %s: %w", path, err)
	}
	return &c, nil
}

// SaveCursor writes c to path through a temp file and rename.
func SaveCursor(path string, c Cursor) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cursor temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close cursor: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace cursor %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
