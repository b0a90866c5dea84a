// Package sha256 provides SHA-256 fingerprints of files and line lists.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Hasher digests inputs with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashLines digests lines as if each were written followed by '\n'. Order matters.
func (h *Hasher) HashLines(lines []string) string {
	d := sha256.New()
	for _, line := range lines {
		_, _ = io.WriteString(d, line)
		_, _ = d.Write([]byte{'\n'})
	}
	return hex.EncodeToString(d.Sum(nil))
}
