package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
)

const (
	// DefaultKey is the slot name holding the serialized entry collection.
	DefaultKey = "timeTrackerEntries"
	// DefaultFallbackLimit is how many entries survive a capacity overflow.
	DefaultFallbackLimit = 100
)

// ErrPersistence wraps any failure to durably write the collection.
var ErrPersistence = errors.New("local persistence failed")

// BaseDir returns the root data directory (~/.wht), or $WHT_HOME when set.
func BaseDir() (string, error) {
	if dir := os.Getenv("WHT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".wht"), nil
}

// OpenSlot opens the slot backend by name ("file" or "sqlite") under base.
func OpenSlot(backend, base string, quota int) (Slot, error) {
	switch backend {
	case "", "file":
		return NewFileSlot(base, quota), nil
	case "sqlite":
		return OpenSQLiteSlot(filepath.Join(base, "wht.db"), quota)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Options configures a Local store.
type Options struct {
	Key           string
	FallbackLimit int
	Logger        *slog.Logger
}

// PutResult describes what a Put actually persisted.
type PutResult struct {
	Kept    int
	Dropped int
}

// Local persists the full entry collection in one slot. Every Put replaces the
// whole collection.
type Local struct {
	slot          Slot
	key           string
	fallbackLimit int
	log           *slog.Logger
}

// NewLocal wraps slot with the entry collection codec and capacity fallback.
func NewLocal(slot Slot, opts Options) *Local {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = DefaultFallbackLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Local{slot: slot, key: opts.Key, fallbackLimit: opts.FallbackLimit, log: opts.Logger}
}

// Put replaces the stored collection with all. When the slot reports that it
// is full, only the most recently written entries are kept and Dropped reports
// how many were left out. An edit refreshes an entry's timestamp, so a freshly
// edited entry counts as recent.
func (l *Local) Put(all []model.WorkEntry) (PutResult, error) {
	err := l.write(all)
	if err == nil {
		return PutResult{Kept: len(all)}, nil
	}
	if !errors.Is(err, ErrCapacityExceeded) {
		return PutResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	kept := mostRecent(all, l.fallbackLimit)
	if err := l.write(kept); err != nil {
		return PutResult{}, fmt.Errorf("%w: writing %d most recent entries: %v", ErrPersistence, len(kept), err)
	}
	res := PutResult{Kept: len(kept), Dropped: len(all) - len(kept)}
	l.log.Warn("local storage full, kept most recent entries only",
		"kept", res.Kept, "dropped", res.Dropped)
	return res, nil
}

func (l *Local) write(entries []model.WorkEntry) error {
	if entries == nil {
		entries = []model.WorkEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}
	return l.slot.Write(l.key, data)
}

// GetAll returns the stored collection. Any read or decode failure yields an
// empty collection; a corrupt value is moved aside when the slot supports it.
func (l *Local) GetAll() []model.WorkEntry {
	data, err := l.slot.Read(l.key)
	if errors.Is(err, ErrSlotEmpty) {
		return []model.WorkEntry{}
	}
	if err != nil {
		l.log.Warn("reading local entries failed, starting empty", "error", err)
		return []model.WorkEntry{}
	}

	var entries []model.WorkEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		attrs := []any{"error", err}
		if q, ok := l.slot.(quarantiner); ok {
			if backup, qerr := q.Quarantine(l.key); qerr == nil && backup != "" {
				attrs = append(attrs, "backup", backup)
			}
		}
		l.log.Warn("corrupt local entries, starting empty", attrs...)
		return []model.WorkEntry{}
	}
	if entries == nil {
		entries = []model.WorkEntry{}
	}
	return entries
}

// Close releases the underlying slot.
func (l *Local) Close() error {
	return l.slot.Close()
}

// mostRecent returns the n entries with the newest timestamps, keeping their
// original relative order. Equal timestamps favour the later position.
func mostRecent(entries []model.WorkEntry, n int) []model.WorkEntry {
	if len(entries) <= n {
		return model.Clone(entries)
	}
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return entries[idx[a]].Timestamp.Before(entries[idx[b]].Timestamp)
	})
	keep := idx[len(idx)-n:]
	sort.Ints(keep)

	out := make([]model.WorkEntry, 0, n)
	for _, i := range keep {
		out = append(out, entries[i])
	}
	return out
}
