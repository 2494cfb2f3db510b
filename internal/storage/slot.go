package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrSlotEmpty is returned by Slot.Read when nothing has been written under the key.
	ErrSlotEmpty = errors.New("slot is empty")
	// ErrCapacityExceeded is returned by Slot.Write when the value exceeds the slot quota.
	ErrCapacityExceeded = errors.New("local storage capacity exceeded")
)

// Slot is a named key-value cell holding one serialized value per key.
// Writes replace the whole value atomically.
type Slot interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Close() error
}

// quarantiner is implemented by slots that can set a corrupt value aside.
type quarantiner interface {
	Quarantine(key string) (string, error)
}

// FileSlot stores each key as <dir>/<key>.json.
type FileSlot struct {
	dir   string
	quota int
}

// NewFileSlot returns a file-backed slot rooted at dir. quota limits the value
// size in bytes; zero disables the limit.
func NewFileSlot(dir string, quota int) *FileSlot {
	return &FileSlot{dir: dir, quota: quota}
}

// Path returns the file that holds key.
func (s *FileSlot) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Read returns the stored value for key.
func (s *FileSlot) Read(key string) ([]byte, error) {
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading %s: %w", path, err)
	}
	return data, nil
}

// Write atomically replaces the value stored under key.
func (s *FileSlot) Write(key string, data []byte) error {
	if s.quota > 0 && len(data) > s.quota {
		return fmt.Errorf("%w: %d bytes over quota of %d", ErrCapacityExceeded, len(data), s.quota)
	}
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// Quarantine moves a corrupt value aside to <path>.corrupt and returns the backup path.
func (s *FileSlot) Quarantine(key string) (string, error) {
	path := s.Path(key)
	backupPath := path + ".corrupt"
	if err := os.Rename(path, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

// Close is a no-op for file slots.
func (s *FileSlot) Close() error { return nil }
