package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for wht, stored in ~/.wht/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	Storage  StorageConfig  `json:"storage"`
	Remote   RemoteConfig   `json:"remote"`
	Defaults DefaultsConfig `json:"defaults"`
	Status   StatusConfig   `json:"status"`
}

// StorageConfig selects and sizes the local slot.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `json:"backend"`
	// Slot is the key the entry collection is stored under.
	Slot string `json:"slot"`
	// QuotaBytes caps the serialized collection; 0 means unlimited.
	QuotaBytes int `json:"quota_bytes"`
	// FallbackLimit is how many recent entries survive a full slot.
	FallbackLimit int `json:"fallback_limit"`
}

// RemoteConfig points at the document server.
type RemoteConfig struct {
	URL            string `json:"url"`
	Collection     string `json:"collection"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// DefaultsConfig prefills the entry form.
type DefaultsConfig struct {
	HourlyRate float64 `json:"hourly_rate"`
	Currency   string  `json:"currency"`
}

// StatusConfig controls the notification line.
type StatusConfig struct {
	ClearAfterSeconds int `json:"clear_after_seconds"`
}

// ClearAfter returns how long a notification stays visible.
func (s StatusConfig) ClearAfter() time.Duration {
	return time.Duration(s.ClearAfterSeconds) * time.Second
}

const (
	DefaultBackend        = "file"
	DefaultSlot           = "timeTrackerEntries"
	DefaultFallbackLimit  = 100
	DefaultRemoteURL      = "http://localhost:8080"
	DefaultCollection     = "workEntries"
	DefaultTimeoutSeconds = 15
	DefaultCurrency       = "€"
	DefaultClearAfter     = 3
)

// Default returns a Config pre-filled with the built-in defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:       DefaultBackend,
			Slot:          DefaultSlot,
			FallbackLimit: DefaultFallbackLimit,
		},
		Remote: RemoteConfig{
			URL:            DefaultRemoteURL,
			Collection:     DefaultCollection,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Defaults: DefaultsConfig{Currency: DefaultCurrency},
		Status:   StatusConfig{ClearAfterSeconds: DefaultClearAfter},
	}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// wht configuration – ~/.wht/config.json (or $WHT_HOME/config.json)
//
// All settings are optional; zero or missing values fall back to the
// defaults shown below.
{
  // ── Local storage ────────────────────────────────────────────────────────
  "storage": {
    // "file" keeps entries in <data>/timeTrackerEntries.json,
    // "sqlite" keeps them in <data>/wht.db.
    "backend": "file",

    // Name of the slot holding the entry collection.
    "slot": "timeTrackerEntries",

    // Maximum size of the stored collection in bytes. 0 = unlimited.
    // When a save does not fit, only the most recent entries are kept.
    "quota_bytes": 0,

    // How many recent entries to keep when the slot is full.
    "fallback_limit": 100
  },

  // ── Cloud sync ───────────────────────────────────────────────────────────
  "remote": {
    // Base URL of the document server (see: wht serve).
    "url": "http://localhost:8080",

    // Collection holding the entries of all users.
    "collection": "workEntries",

    // Per-request timeout in seconds.
    "timeout_seconds": 15
  },

  // ── Entry defaults ───────────────────────────────────────────────────────
  "defaults": {
    // Hourly rate used when "wht add" gets no --rate.
    "hourly_rate": 0,

    // Currency symbol used in lists and exports.
    "currency": "€"
  },

  // ── Notifications ────────────────────────────────────────────────────────
  "status": {
    // Seconds a status message stays visible.
    "clear_after_seconds": 3
  }
}
`

// FilePath returns the config location inside the data directory.
func FilePath(base string) string {
	return filepath.Join(base, "config.json")
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads base/config.json, creating it with annotated defaults on first
// run.
func Load(base string) (Config, error) {
	path := FilePath(base)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(stripLineComments(data), &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Slot == "" {
		c.Storage.Slot = d.Storage.Slot
	}
	if c.Storage.FallbackLimit <= 0 {
		c.Storage.FallbackLimit = d.Storage.FallbackLimit
	}
	if c.Remote.URL == "" {
		c.Remote.URL = d.Remote.URL
	}
	if c.Remote.Collection == "" {
		c.Remote.Collection = d.Remote.Collection
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = d.Remote.TimeoutSeconds
	}
	if c.Defaults.Currency == "" {
		c.Defaults.Currency = d.Defaults.Currency
	}
	if c.Status.ClearAfterSeconds <= 0 {
		c.Status.ClearAfterSeconds = d.Status.ClearAfterSeconds
	}
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
