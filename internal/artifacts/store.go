// Package artifacts stores oversized tool output on disk, scoped to one
// operation, so conversations reference files instead of carrying megabytes
// of scanner output inline.
package artifacts

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Artifact describes one stored output file.
type Artifact struct {
	// Path is relative to the store root; this is what gets surfaced to
	// the model in truncation notices.
	Path string

	Size      int64
	CreatedAt time.Time
}

// Store writes artifacts under root/<operationID>/artifacts/.
type Store struct {
	mu          sync.RWMutex
	root        string
	operationID string
	index       map[string]Artifact // relative path -> metadata
}

// NewStore creates the operation's artifact directory.
func NewStore(root, operationID string) (*Store, error) {
	dir := filepath.Join(root, sanitizeName(operationID), "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{
		root:        root,
		operationID: operationID,
		index:       make(map[string]Artifact),
	}, nil
}

// Dir returns the absolute artifact directory for this operation.
func (s *Store) Dir() string {
	return filepath.Join(s.root, sanitizeName(s.operationID), "artifacts")
}

// Save writes data as a new artifact named after the producing tool:
// <tool>_<unix-timestamp>_<random-hex>.txt. The returned Artifact.Path is
// relative to the store root.
func (s *Store) Save(toolName string, data []byte) (Artifact, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return Artifact{}, fmt.Errorf("generate artifact name: %w", err)
	}
	now := time.Now().UTC()
	filename := fmt.Sprintf("%s_%d_%s.txt", sanitizeName(toolName), now.Unix(), hex.EncodeToString(suffix))
	absPath := filepath.Join(s.Dir(), filename)

	// Write via temp file then rename so readers never see partial output.
	tmpPath := absPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return Artifact{}, fmt.Errorf("rename artifact: %w", err)
	}

	relPath := filepath.Join(sanitizeName(s.operationID), "artifacts", filename)
	artifact := Artifact{
		Path:      relPath,
		Size:      int64(len(data)),
		CreatedAt: now,
	}

	s.mu.Lock()
	s.index[relPath] = artifact
	s.mu.Unlock()

	return artifact, nil
}

// Read returns the content of an artifact previously written by Save.
func (s *Store) Read(relPath string) ([]byte, error) {
	s.mu.RLock()
	_, ok := s.index[relPath]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown artifact %s", relPath)
	}
	return os.ReadFile(filepath.Join(s.root, relPath))
}

// List returns all artifacts written in this operation, oldest first.
func (s *Store) List() []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(s.index))
	for _, a := range s.index {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeName makes a tool or operation name filesystem-safe.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed"
	}
	return name
}
