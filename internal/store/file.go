package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSlot keeps each slot as a JSON file in a directory.
type FileSlot struct {
	dir string
}

// OpenFileSlot prepares a directory-backed slot store.
func OpenFileSlot(dir string) (*FileSlot, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("slot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create slot directory: %w", err)
	}
	return &FileSlot{dir: dir}, nil
}

// Close implements Slot.
func (s *FileSlot) Close() error {
	return nil
}

func (s *FileSlot) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Read returns the slot content and whether the slot exists.
func (s *FileSlot) Read(_ context.Context, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Write replaces the slot file atomically via temp file and rename.
func (s *FileSlot) Write(_ context.Context, name string, data []byte) error {
	tmpFile, err := os.CreateTemp(s.dir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp slot: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write slot: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close slot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("failed to replace slot: %w", err)
	}
	return nil
}
