package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cohortweaver/internal/core"
)

// FileStore implements Store using the filesystem.
//
// Structure:
//
//	{Dir}/
//	  {fingerprint[0:2]}/
//	    {fingerprint}.json  (fingerprint, identifiers, created_at)
type FileStore struct {
	// Dir is the root directory for cache storage.
	Dir string
}

// NewFileStore creates a filesystem-based store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, fp core.Fingerprint) (*Entry, error) {
	data, err := os.ReadFile(s.entryPath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache entry: %w", err)
	}
	if entry.Fingerprint != fp {
		return nil, fmt.Errorf("cache entry %s holds fingerprint %s", fp.Short(), entry.Fingerprint.Short())
	}
	return &entry, nil
}

// Put implements Store.
//
// The entry is written to a temp file and renamed into place, so a crash
// never leaves a partial entry at the canonical path.
func (s *FileStore) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}

	path := s.entryPath(entry.Fingerprint)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, fp core.Fingerprint) error {
	if err := os.Remove(s.entryPath(fp)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// entryPath uses the first 2 characters of the fingerprint as a prefix
// directory to keep directories small.
func (s *FileStore) entryPath(fp core.Fingerprint) string {
	name := string(fp)
	if len(name) < 2 {
		return filepath.Join(s.Dir, name+".json")
	}
	return filepath.Join(s.Dir, name[:2], name+".json")
}
