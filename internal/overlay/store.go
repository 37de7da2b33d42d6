package overlay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const overlayFileName = "overlay.yaml"

// Store persists the active overlay as YAML in the operation directory
// ({target}/{operation}/overlay.yaml).
type Store struct {
	dir string
}

// NewStore creates the operation directory if needed.
func NewStore(root, target, operationID string) (*Store, error) {
	dir := filepath.Join(root, target, operationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create operation directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the overlay file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, overlayFileName)
}

// Save writes the overlay atomically.
func (s *Store) Save(o *Overlay) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename overlay: %w", err)
	}
	return nil
}

// Load reads the saved overlay, returning nil when none exists.
func (s *Store) Load() (*Overlay, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	if len(o.Directives) == 0 {
		return nil, nil
	}
	return &o, nil
}

// Clear removes the overlay file.
func (s *Store) Clear() error {
	err := os.Remove(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
