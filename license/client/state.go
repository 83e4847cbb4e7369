package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StateFile persists a State as JSON. Saves replace the file atomically, so
// a crash mid-write leaves the previous state in place.
type StateFile struct {
	path string
}

// NewStateFile returns a StateFile at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// DefaultStatePath returns <user config dir>/<app>/license.json.
func DefaultStatePath(app string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, app, "license.json"), nil
}

// Path returns the file location.
func (f *StateFile) Path() string {
	return f.path
}

// Load reads the stored state. It returns ErrStateNotFound when nothing has
// been saved yet and ErrStateCorrupt when the file cannot be decoded.
func (f *StateFile) Load() (State, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, ErrStateNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return s, nil
}

// Save writes s to a temporary file in the same directory, syncs it and
// renames it over the previous state.
func (f *StateFile) Save(s State) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	committed = true
	return nil
}
