package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"classtab/internal/apperr"
)

// Store holds per-user calendar sources as plain ICS files under one
// directory, one file per (user, group) binding.
type Store struct {
	dir string
}

// NewStore prepares the ICS directory under dataDir.
func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "ics")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// PathFor is the stable source identity for one binding; it doubles as
// the occurrence-cache key.
func (s *Store) PathFor(groupID, userID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.ics", userID, groupID))
}

// Read returns the raw calendar bytes. A missing or unreadable file is
// SourceUnavailable, distinct from a parse failure; the caller surfaces
// it as "not bound / please rebind" and never retries here.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSourceUnavailable, err)
	}
	return data, nil
}

// Write replaces a calendar source atomically (temp file + rename).
// After a successful write the caller must invalidate the occurrence
// cache for this path, or stale occurrences will be served.
func (s *Store) Write(path string, body []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".classtab-ics-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
