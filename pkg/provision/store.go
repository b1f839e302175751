package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AssetKind distinguishes the two cached artifact families.
type AssetKind int

const (
	KindBinary AssetKind = iota
	KindModel
)

func (k AssetKind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindModel:
		return "model"
	default:
		return fmt.Sprintf("AssetKind(%d)", int(k))
	}
}

// Asset is the result of a cache lookup.
type Asset struct {
	Kind AssetKind

	// Path is where the artifact lives or will live once provisioned.
	Path string

	Present bool
}

// Store lays out the cache directory:
//
//	<root>/bin/current/    extracted release archive
//	<root>/bin/.staging-*  extraction in progress
//	<root>/models/         ggml model files
//
// Only final artifacts count as present; in-progress downloads and
// extractions never do.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// DefaultCacheDir returns <user cache dir>/voxquill.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("provision: user cache dir: %w", err)
	}
	return filepath.Join(base, "voxquill"), nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// BinaryDir holds downloaded archives and extraction staging directories.
func (s *Store) BinaryDir() string { return filepath.Join(s.root, "bin") }

// EngineDir is the completed extraction. It only appears once the executable
// inside it has been located and made executable.
func (s *Store) EngineDir() string { return filepath.Join(s.BinaryDir(), "current") }

// ModelDir holds downloaded model files.
func (s *Store) ModelDir() string { return filepath.Join(s.root, "models") }

// Binary searches the completed extraction for one of names.
func (s *Store) Binary(names []string) Asset {
	if path, ok := FindByName(s.EngineDir(), names); ok {
		return Asset{Kind: KindBinary, Path: path, Present: true}
	}
	return Asset{Kind: KindBinary}
}

// Model reports whether filename exists as a regular, non-empty file in the
// model directory.
func (s *Store) Model(filename string) Asset {
	path := filepath.Join(s.ModelDir(), filename)
	info, err := os.Stat(path)
	present := err == nil && info.Mode().IsRegular() && info.Size() > 0
	return Asset{Kind: KindModel, Path: path, Present: present}
}

// Clear removes the binary and model directories. Missing directories are
// not an error.
func (s *Store) Clear() error {
	var errs []error
	for _, dir := range []string{s.BinaryDir(), s.ModelDir()} {
		if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("provision: remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}
