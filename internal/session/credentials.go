package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Saved is the persisted login of the last session.
type Saved struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	SyncEnabled bool      `json:"sync_enabled"`
	SavedAt     time.Time `json:"saved_at"`
}

// CredentialStore keeps the session token file.
type CredentialStore struct {
	path string
}

// NewCredentialStore stores credentials under base/auth.
func NewCredentialStore(base string) *CredentialStore {
	return &CredentialStore{path: filepath.Join(base, "auth", "session.json")}
}

// Path returns the token file location.
func (c *CredentialStore) Path() string { return c.path }

// Load returns the saved session, or nil if there is none.
func (c *CredentialStore) Load() (*Saved, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var s Saved
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file (delete %s to log in again): %w", c.path, err)
	}
	if s.Token == "" || s.UserID == "" {
		return nil, nil
	}
	return &s, nil
}

// Save writes s atomically with owner-only permissions.
func (c *CredentialStore) Save(s Saved) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving session file: %w", err)
	}
	return nil
}

// Clear removes the saved session.
func (c *CredentialStore) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
