package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/remote"
	"github.com/Tiliavir/work-hours-tracker/internal/status"
	"github.com/Tiliavir/work-hours-tracker/internal/storage"
	"github.com/Tiliavir/work-hours-tracker/internal/timecalc"
)

// ErrEntryNotFound is returned when an id is not in the local collection.
var ErrEntryNotFound = errors.New("entry not found")

// LocalStore persists the whole entry collection.
type LocalStore interface {
	Put(all []model.WorkEntry) (storage.PutResult, error)
	GetAll() []model.WorkEntry
}

// Reporter receives user-facing status messages.
type Reporter interface {
	Show(message string, severity status.Severity)
}

type discardReporter struct{}

func (discardReporter) Show(string, status.Severity) {}

// Options configures an Engine.
type Options struct {
	Status Reporter
	Logger *slog.Logger
	// Clock stamps local writes and mints local ids; defaults to time.Now.
	Clock func() time.Time
}

// Engine owns the canonical entry collection. Every mutation writes the
// local store and, while a mirror is attached, the remote store as well.
// All operations are serialized, so a remote snapshot is never merged into
// a collection that is halfway through a save.
type Engine struct {
	mu      sync.Mutex
	local   LocalStore
	entries []model.WorkEntry
	mirror  remote.Store
	owner   string

	status Reporter
	log    *slog.Logger
	now    func() time.Time
}

// NewEngine returns an Engine over local. Call Load to read the stored entries.
func NewEngine(local LocalStore, opts Options) *Engine {
	e := &Engine{
		local:   local,
		entries: []model.WorkEntry{},
		status:  opts.Status,
		log:     opts.Logger,
		now:     opts.Clock,
	}
	if e.status == nil {
		e.status = discardReporter{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Load replaces the in-memory collection with the local store's contents.
func (e *Engine) Load() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = e.local.GetAll()
}

// Entries returns a copy of the collection sorted by date, newest first.
func (e *Engine) Entries() []model.WorkEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := model.Clone(e.entries)
	model.SortByDateDesc(out)
	return out
}

// Get returns the entry with id.
func (e *Engine) Get(id string) (model.WorkEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexLocked(id); i >= 0 {
		return e.entries[i], true
	}
	return model.WorkEntry{}, false
}

// Mirroring reports whether writes are copied to a remote store.
func (e *Engine) Mirroring() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mirror != nil
}

// Add creates an entry from in. The returned entry carries its final id,
// which is remote-origin if the remote write succeeded.
func (e *Engine) Add(ctx context.Context, in model.EntryInput) (model.WorkEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	entry, err := timecalc.Build(in, timecalc.GenerateID(now), now)
	if err != nil {
		return model.WorkEntry{}, err
	}
	e.entries = append(e.entries, entry)
	model.SortByDateDesc(e.entries)
	e.persistLocked()

	if e.mirror != nil {
		e.status.Show("Saving to cloud...", status.Syncing)
		if id, ok := e.uploadLocked(ctx, entry.ID); ok {
			entry = e.entries[e.indexLocked(id)]
			e.persistLocked()
			e.status.Show("Saved to cloud", status.Success)
		}
	}
	return entry, nil
}

// Edit replaces the editable fields of entry id with in and recomputes the
// derived fields. A remote ErrNotFound is returned wrapped after the local
// change has been kept.
func (e *Engine) Edit(ctx context.Context, id string, in model.EntryInput) (model.WorkEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return model.WorkEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	entry, err := timecalc.Build(in, id, e.now())
	if err != nil {
		return model.WorkEntry{}, err
	}
	entry.UserID = e.entries[i].UserID
	e.entries[i] = entry
	model.SortByDateDesc(e.entries)
	e.persistLocked()

	if e.mirror == nil {
		return entry, nil
	}

	docID, isRemote := model.DocumentID(id)
	if !isRemote {
		e.status.Show("Saving to cloud...", status.Syncing)
		if newID, ok := e.uploadLocked(ctx, id); ok {
			entry = e.entries[e.indexLocked(newID)]
			e.persistLocked()
			e.status.Show("Saved to cloud", status.Success)
		}
		return entry, nil
	}

	e.status.Show("Saving to cloud...", status.Syncing)
	if err := e.mirror.Update(ctx, docID, entry); err != nil {
		e.remoteFailedLocked("update", id, err, "Failed to save to cloud")
		if errors.Is(err, remote.ErrNotFound) {
			return entry, fmt.Errorf("updating %s in cloud: %w", id, err)
		}
		return entry, nil
	}
	e.status.Show("Saved to cloud", status.Success)
	return entry, nil
}

// Delete removes entry id locally and, for remote-origin ids, remotely. A
// remote ErrNotFound is returned wrapped; the local removal stands.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	e.entries = slices.Delete(e.entries, i, i+1)
	e.persistLocked()

	docID, isRemote := model.DocumentID(id)
	if e.mirror == nil || !isRemote {
		return nil
	}
	if err := e.mirror.Delete(ctx, docID); err != nil {
		e.remoteFailedLocked("delete", id, err, "Failed to delete from cloud")
		if errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("deleting %s from cloud: %w", id, err)
		}
		return nil
	}
	e.status.Show("Deleted from cloud", status.Success)
	return nil
}

// AttachResult summarizes the initial reconciliation with a remote store.
type AttachResult struct {
	// Remote is the number of remote records owned by the user.
	Remote int
	// Uploaded counts local entries copied to an empty remote.
	Uploaded int
	// Failed counts uploads that did not succeed.
	Failed int
	// Total is the size of the collection afterwards.
	Total int
}

// Attach reconciles the collection with store for owner and starts mirroring
// writes to it. If the owner has no remote records, local entries are
// uploaded instead of merged. A failing List leaves the engine detached.
func (e *Engine) Attach(ctx context.Context, store remote.Store, owner string) (AttachResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.Show("Loading data from cloud...", status.Syncing)
	all, err := store.List(ctx)
	if err != nil {
		e.log.Error("loading cloud entries failed", "error", err)
		e.status.Show("Failed to load data from cloud", status.Error)
		return AttachResult{}, fmt.Errorf("listing cloud entries: %w", err)
	}
	owned := OwnedBy(all, owner)

	e.mirror = store
	e.owner = owner
	res := AttachResult{Remote: len(owned)}

	if len(owned) == 0 && len(e.entries) > 0 {
		e.status.Show("Uploading local data...", status.Syncing)
		for _, entry := range model.Clone(e.entries) {
			if _, ok := e.uploadLocked(ctx, entry.ID); ok {
				res.Uploaded++
			} else {
				res.Failed++
			}
		}
		e.persistLocked()
		res.Total = len(e.entries)
		if res.Failed > 0 {
			e.status.Show(fmt.Sprintf("Uploaded %d of %d entries to cloud", res.Uploaded, res.Uploaded+res.Failed), status.Error)
		} else {
			e.status.Show("Saved to cloud", status.Success)
		}
		return res, nil
	}

	e.entries = Merge(owned, e.entries)
	e.persistLocked()
	res.Total = len(e.entries)
	e.status.Show(fmt.Sprintf("Loaded %d entries from cloud", len(owned)), status.Success)
	return res, nil
}

// ApplySnapshot merges a full remote snapshot into the collection. It is a
// no-op while detached.
func (e *Engine) ApplySnapshot(snapshot []model.WorkEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mirror == nil {
		return
	}
	owned := OwnedBy(snapshot, e.owner)
	e.entries = Merge(owned, e.entries)
	e.persistLocked()
	e.log.Debug("applied cloud snapshot", "remote", len(owned), "total", len(e.entries))
}

// Detach stops mirroring writes.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mirror = nil
	e.owner = ""
}

func (e *Engine) indexLocked(id string) int {
	return slices.IndexFunc(e.entries, func(x model.WorkEntry) bool { return x.ID == id })
}

// uploadLocked adds entry id to the mirror and re-keys it to the remote id.
func (e *Engine) uploadLocked(ctx context.Context, id string) (string, bool) {
	i := e.indexLocked(id)
	if i < 0 {
		return "", false
	}
	docID, err := e.mirror.Add(ctx, e.entries[i])
	if err != nil {
		e.remoteFailedLocked("add", id, err, "Failed to save to cloud")
		return "", false
	}
	newID := model.RemoteID(docID)
	e.entries[i].ID = newID
	e.entries[i].UserID = e.owner
	return newID, true
}

func (e *Engine) remoteFailedLocked(op, id string, err error, msg string) {
	e.log.Error("cloud write failed", "op", op, "id", id, "error", err)
	e.status.Show(msg, status.Error)
}

// persistLocked writes the collection to the local store. Failures are
// reported, never returned: the in-memory collection stays authoritative.
func (e *Engine) persistLocked() {
	res, err := e.local.Put(e.entries)
	if err != nil {
		e.log.Error("saving entries locally failed", "error", err)
		e.status.Show("Failed to save locally", status.Error)
		return
	}
	if res.Dropped > 0 {
		e.status.Show(fmt.Sprintf("Storage full: kept the %d most recent entries", res.Kept), status.Warning)
	}
}
