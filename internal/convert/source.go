package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ByteSource yields the raw model bytes and, when known, their format.
// An empty format means "trust the caller's Options".
type ByteSource interface {
	Load() (data []byte, format string, err error)
}

// FileSource reads a model from disk. The format is inferred from the file
// extension.
type FileSource string

// Load implements ByteSource.
func (f FileSource) Load() ([]byte, string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, "", fmt.Errorf("reading model: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(string(f)), ".")
	return data, format, nil
}

// BytesSource wraps in-memory model bytes.
type BytesSource struct {
	Data   []byte
	Format string
}

// Load implements ByteSource.
func (b BytesSource) Load() ([]byte, string, error) {
	return b.Data, b.Format, nil
}
