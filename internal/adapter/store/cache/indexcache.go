// Package cache persists the spatial index as a zstd-compressed JSON artifact.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/spatial"
)

// FileName is the artifact name inside the cache directory.
const FileName = "spatial_index.json.zst"

// formatVersion guards against reading artifacts written by an incompatible layout.
const formatVersion = 1

type envelope struct {
	Version int            `json:"version"`
	Index   *spatial.Index `json:"index"`
}

// IndexFile stores one spatial index in a directory.
type IndexFile struct {
	dir string
}

// NewIndexFile creates a store rooted at dir. The directory is created on Save.
func NewIndexFile(dir string) *IndexFile {
	return &IndexFile{dir: dir}
}

// Path returns the artifact path.
func (f *IndexFile) Path() string {
	return filepath.Join(f.dir, FileName)
}

// Load reads the persisted index. It returns domain.ErrIndexNotFound when no
// artifact exists.
func (f *IndexFile) Load(_ context.Context) (*spatial.Index, error) {
	//nolint:gosec // G304: Path built from configured cache directory.
	file, err := os.Open(f.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index cache: %w", err)
	}
	defer func() { _ = file.Close() }()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	var env envelope
	if err := json.NewDecoder(dec).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode index cache: %w", err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("unsupported index cache version %d", env.Version)
	}
	if env.Index == nil || env.Index.Cells == nil {
		return nil, fmt.Errorf("index cache is empty")
	}
	return env.Index, nil
}

// Save writes the index atomically (temp file then rename).
func (f *IndexFile) Save(_ context.Context, ix *spatial.Index) (err error) {
	//nolint:gosec // G301: Cache directory is not sensitive.
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err = json.NewEncoder(enc).Encode(envelope{Version: formatVersion, Index: ix}); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err = enc.Close(); err != nil {
		return fmt.Errorf("failed to flush index: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), f.Path()); err != nil {
		return fmt.Errorf("failed to move index into place: %w", err)
	}
	return nil
}
