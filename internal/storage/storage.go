// Package storage publishes finished stores to a blob backend.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// CSVContentType is sent with every published store.
const CSVContentType = "text/csv; charset=utf-8"

// BlobStore persists objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ObjectPath builds "<prefix>/<runID>/<name>", skipping empty segments.
func ObjectPath(prefix, runID, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, runID, name} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// PublishFile streams the file at src to store under objectPath.
func PublishFile(ctx context.Context, store BlobStore, src, objectPath string) (string, error) {
	if objectPath == "" {
		objectPath = filepath.Base(src)
	}
	// #nosec G304 -- store path comes from the command line.
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	uri, err := store.PutObject(ctx, objectPath, CSVContentType, f)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", src, err)
	}
	return uri, nil
}
