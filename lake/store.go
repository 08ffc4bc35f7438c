// Package lake implements the durable object storage layout for the
// pipeline. Objects are addressed bucket-relative and written through a
// temp-file plus rename path, so a reader never observes a partial object.
package lake

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/glidru/ipeds-pipeline/logging"
)

// Store is a local data-lake root addressed with bucket-relative keys.
type Store struct {
	root   string
	logger *logging.ComponentLogger
}

// NewStore creates a store rooted at bucketPath, creating it if needed.
func NewStore(bucketPath string, logger *logging.ComponentLogger) (*Store, error) {
	if err := os.MkdirAll(bucketPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket root: %w", err)
	}
	return &Store{root: bucketPath, logger: logger}, nil
}

// Root returns the bucket root path.
func (s *Store) Root() string {
	return s.root
}

// ArchiveKey returns the object key for a year's downloaded archive.
func ArchiveKey(year int, filename string) string {
	return fmt.Sprintf("downloads/%d/%s", year, filename)
}

// DownloadMetadataKey returns the object key for a year's download metadata.
func DownloadMetadataKey(year int) string {
	return fmt.Sprintf("downloads/%d/metadata.json", year)
}

// TableKey returns the object key for an extracted table's Parquet file.
func TableKey(year int, table string) string {
	return fmt.Sprintf("extracted/%d/tables/%s.parquet", year, table)
}

// ManifestKey returns the object key for a year's extraction manifest.
func ManifestKey(year int) string {
	return fmt.Sprintf("extracted/%d/metadata/extraction_manifest.json", year)
}

// LoadManifestKey returns the object key for a year's load manifest.
func LoadManifestKey(year int) string {
	return fmt.Sprintf("loads/%d/load_manifest.json", year)
}

// LocalPath resolves an object key to its path under the bucket root.
func (s *Store) LocalPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// URI returns the externally reported location of an object.
func (s *Store) URI(key string) string {
	return "lake://" + key
}

// Exists reports whether an object is present.
func (s *Store) Exists(key string) bool {
	info, err := os.Stat(s.LocalPath(key))
	return err == nil && !info.IsDir()
}

// Size returns the byte size of a stored object.
func (s *Store) Size(key string) (int64, error) {
	info, err := os.Stat(s.LocalPath(key))
	if err != nil {
		return 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return info.Size(), nil
}

// Put copies a local file into the store under key. The object appears
// atomically: content is staged to a temp file in the destination directory
// and renamed into place.
func (s *Store) Put(localPath, key string) (string, error) {
	dst := s.LocalPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to copy object content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Str("path", dst).
		Msg("Stored object")

	return s.URI(key), nil
}

// PutJSON marshals v and stores it under key, atomically.
func (s *Store) PutJSON(key string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	dst := s.LocalPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write object content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}

	return s.URI(key), nil
}

// GetJSON reads the object at key and unmarshals it into v.
func (s *Store) GetJSON(key string, v interface{}) error {
	data, err := os.ReadFile(s.LocalPath(key))
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse object %s: %w", key, err)
	}
	return nil
}
