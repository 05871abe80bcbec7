package torrents

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ResumeStore persists one opaque resume blob per torrent identity.
// Files are named by a stable hash of the magnet URI so arbitrary URIs
// map to safe filenames.
type ResumeStore struct {
	dir string
}

func NewResumeStore(dir string) *ResumeStore {
	return &ResumeStore{dir: dir}
}

func (s *ResumeStore) path(magnetURI string) string {
	sum := sha1.Sum([]byte(magnetURI))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".resume")
}

// Exists reports whether a blob is stored for the given identity.
func (s *ResumeStore) Exists(magnetURI string) bool {
	_, err := os.Stat(s.path(magnetURI))
	return err == nil
}

func (s *ResumeStore) Load(magnetURI string) ([]byte, error) {
	blob, err := os.ReadFile(s.path(magnetURI))
	if err != nil {
		return nil, fmt.Errorf("read resume blob: %w", err)
	}
	return blob, nil
}

func (s *ResumeStore) Save(magnetURI string, blob []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create resume dir: %w", err)
	}
	if err := os.WriteFile(s.path(magnetURI), blob, 0o644); err != nil {
		return fmt.Errorf("write resume blob: %w", err)
	}
	return nil
}

// Delete removes the stored blob. Deleting an absent blob is not an error.
func (s *ResumeStore) Delete(magnetURI string) error {
	if err := os.Remove(s.path(magnetURI)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete resume blob: %w", err)
	}
	return nil
}
