package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Store persists and restores artifacts.
type Store interface {
	Save(ctx context.Context, a *Artifact) error
	Load(ctx context.Context) (*Artifact, error)
}

// Encode serializes a to zstd-compressed JSON.
func Encode(w io.Writer, a *Artifact) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("%w: zstd writer: %v", domain.ErrArtifactIO, err)
	}
	if err := json.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return fmt.Errorf("%w: encode artifact: %v", domain.ErrArtifactIO, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: flush artifact: %v", domain.ErrArtifactIO, err)
	}
	return nil
}

// Decode reads an artifact written by Encode and validates it.
func Decode(r io.Reader) (*Artifact, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd reader: %v", domain.ErrArtifactIO, err)
	}
	defer zr.Close()

	var a Artifact
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", domain.ErrArtifactIO, err)
	}
	if a.Pipeline != nil {
		a.Pipeline.Encoders = a.Pipeline.Encoders.Reindex()
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactIO, err)
	}
	return &a, nil
}

// FileStore keeps a single artifact at Path.
type FileStore struct {
	Path string
}

// NewFileStore returns a store rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save writes a atomically: the data goes to a temp file in the same
// directory which is synced and then renamed over Path.
func (s *FileStore) Save(ctx context.Context, a *Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create artifact dir: %v", domain.ErrArtifactIO, err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", domain.ErrArtifactIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write artifact: %v", domain.ErrArtifactIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync artifact: %v", domain.ErrArtifactIO, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close artifact: %v", domain.ErrArtifactIO, err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename artifact: %v", domain.ErrArtifactIO, err)
	}
	return nil
}

// Load reads the artifact at Path.
func (s *FileStore) Load(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open artifact: %v", domain.ErrArtifactIO, err)
	}
	defer f.Close()

	return Decode(f)
}
