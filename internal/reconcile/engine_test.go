package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/reconcile"
	"github.com/Tiliavir/work-hours-tracker/internal/remote"
	"github.com/Tiliavir/work-hours-tracker/internal/status"
	"github.com/Tiliavir/work-hours-tracker/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// statusLog records every status shown.
type statusLog struct {
	mu   sync.Mutex
	msgs []string
}

func (s *statusLog) Show(msg string, sev status.Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, string(sev)+":"+msg)
}

func (s *statusLog) has(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// recordingStore wraps a Store, recording calls and optionally failing them.
type recordingStore struct {
	remote.Store
	mu    sync.Mutex
	calls []string
	fail  error
}

func (s *recordingStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.fail
}

func (s *recordingStore) Add(ctx context.Context, e model.WorkEntry) (string, error) {
	if err := s.record("add"); err != nil {
		return "", err
	}
	return s.Store.Add(ctx, e)
}

func (s *recordingStore) Update(ctx context.Context, id string, e model.WorkEntry) error {
	if err := s.record("update:" + id); err != nil {
		return err
	}
	return s.Store.Update(ctx, id, e)
}

func (s *recordingStore) Delete(ctx context.Context, id string) error {
	if err := s.record("delete:" + id); err != nil {
		return err
	}
	return s.Store.Delete(ctx, id)
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fixture struct {
	engine *reconcile.Engine
	local  *storage.Local
	status *statusLog
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	local := storage.NewLocal(storage.NewFileSlot(t.TempDir(), 0), storage.Options{Logger: quiet})
	st := &statusLog{}
	clock := t0
	engine := reconcile.NewEngine(local, reconcile.Options{
		Status: st,
		Logger: quiet,
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	engine.Load()
	return fixture{engine: engine, local: local, status: st}
}

func fullDay(date string) model.EntryInput {
	return model.EntryInput{Date: date, StartTime: "09:00", EndTime: "17:00", HourlyRate: 20}
}

func TestAddDerivesFieldsAndPersists(t *testing.T) {
	f := newFixture(t)
	e, err := f.engine.Add(context.Background(), fullDay("2024-01-15"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.Hours != 8 || e.TotalEarnings != 160 || e.WithdrawnAmount != 0 || e.RemainingAmount != 160 {
		t.Errorf("derived fields = %+v", e)
	}
	if e.IsRemote() {
		t.Errorf("id %q is remote-origin without a mirror", e.ID)
	}
	stored := f.local.GetAll()
	if len(stored) != 1 || stored[0].ID != e.ID {
		t.Errorf("local store = %v, want [%s]", ids(stored), e.ID)
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	in := fullDay("2024-01-15")
	in.StartTime = "9am"
	if _, err := f.engine.Add(context.Background(), in); err == nil {
		t.Fatal("expected validation error")
	}
	if n := len(f.engine.Entries()); n != 0 {
		t.Errorf("entries = %d after rejected add, want 0", n)
	}
}

func TestEditRecomputesDerivedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, _ := f.engine.Add(ctx, fullDay("2024-01-15"))

	in := e.Input()
	in.EndTime = "13:30"
	in.WithdrawnAmount = 50
	edited, err := f.engine.Edit(ctx, e.ID, in)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Hours != 4.5 || edited.TotalEarnings != 90 || edited.RemainingAmount != 40 {
		t.Errorf("edited = %+v", edited)
	}
	if !edited.Timestamp.After(e.Timestamp) {
		t.Error("edit did not refresh the timestamp")
	}

	if _, err := f.engine.Edit(ctx, "missing", in); !errors.Is(err, reconcile.ErrEntryNotFound) {
		t.Errorf("Edit(missing) err = %v, want ErrEntryNotFound", err)
	}
}

func TestEntriesSortedByDateDesc(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []string{"2024-01-10", "2024-01-20", "2024-01-15"} {
		if _, err := f.engine.Add(ctx, fullDay(d)); err != nil {
			t.Fatal(err)
		}
	}
	got := f.engine.Entries()
	if got[0].Date != "2024-01-20" || got[1].Date != "2024-01-15" || got[2].Date != "2024-01-10" {
		t.Errorf("order = %s, %s, %s", got[0].Date, got[1].Date, got[2].Date)
	}
}

func attached(t *testing.T, f fixture) (*recordingStore, *remote.Memory, remote.Identity) {
	t.Helper()
	mem := remote.NewMemory()
	id, err := mem.Register(context.Background(), "ana@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	rs := &recordingStore{Store: mem.Store(id)}
	if _, err := f.engine.Attach(context.Background(), rs, id.UserID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return rs, mem, id
}

func TestAddWhileMirroringRekeys(t *testing.T) {
	f := newFixture(t)
	rs, _, id := attached(t, f)

	e, err := f.engine.Add(context.Background(), fullDay("2024-01-15"))
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsRemote() || e.UserID != id.UserID {
		t.Errorf("entry = %+v, want remote-origin owned by %s", e, id.UserID)
	}
	if stored := f.local.GetAll(); stored[0].ID != e.ID {
		t.Errorf("local store id = %s, want %s", stored[0].ID, e.ID)
	}
	list, _ := rs.List(context.Background())
	if len(list) != 1 || model.RemoteID(list[0].ID) != e.ID {
		t.Errorf("remote = %+v", list)
	}
	if !f.status.has("success:Saved to cloud") {
		t.Errorf("status log = %v", f.status.msgs)
	}
}

func TestDeleteRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rs, _, _ := attached(t, f)

	cloudEntry, _ := f.engine.Add(ctx, fullDay("2024-01-15"))
	// With the remote failing, the next entry keeps its local id.
	rs.fail = remote.ErrUnavailable
	localEntry, _ := f.engine.Add(ctx, fullDay("2024-01-16"))
	rs.fail = nil
	if !cloudEntry.IsRemote() || localEntry.IsRemote() {
		t.Fatalf("setup: cloud=%s local=%s", cloudEntry.ID, localEntry.ID)
	}
	rs.mu.Lock()
	rs.calls = nil
	rs.mu.Unlock()

	if err := f.engine.Delete(ctx, localEntry.ID); err != nil {
		t.Fatalf("Delete local: %v", err)
	}
	if calls := rs.Calls(); len(calls) != 0 {
		t.Errorf("deleting a local id called remote: %v", calls)
	}

	docID, _ := model.DocumentID(cloudEntry.ID)
	if err := f.engine.Delete(ctx, cloudEntry.ID); err != nil {
		t.Fatalf("Delete cloud: %v", err)
	}
	if calls := rs.Calls(); len(calls) != 1 || calls[0] != "delete:"+docID {
		t.Errorf("remote calls = %v, want [delete:%s]", calls, docID)
	}
	if _, ok := f.engine.Get(cloudEntry.ID); ok {
		t.Error("cloud entry still present locally")
	}
	if err := f.engine.Delete(ctx, "missing"); !errors.Is(err, reconcile.ErrEntryNotFound) {
		t.Errorf("Delete(missing) err = %v, want ErrEntryNotFound", err)
	}
}

func TestEditRemoteOriginUpdatesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rs, _, _ := attached(t, f)

	e, _ := f.engine.Add(ctx, fullDay("2024-01-15"))
	in := e.Input()
	in.Notes = "late start"
	if _, err := f.engine.Edit(ctx, e.ID, in); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	docID, _ := model.DocumentID(e.ID)
	calls := rs.Calls()
	if calls[len(calls)-1] != "update:"+docID {
		t.Errorf("remote calls = %v, want trailing update:%s", calls, docID)
	}
	list, _ := rs.List(ctx)
	if len(list) != 1 || list[0].Notes != "late start" {
		t.Errorf("remote = %+v", list)
	}
}

func TestDeleteRemoteNotFoundKeepsLocalRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rs, mem, id := attached(t, f)

	e, _ := f.engine.Add(ctx, fullDay("2024-01-15"))
	docID, _ := model.DocumentID(e.ID)
	// Removed behind the engine's back.
	if err := mem.Store(id).Delete(ctx, docID); err != nil {
		t.Fatal(err)
	}

	err := f.engine.Delete(ctx, e.ID)
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("Delete err = %v, want ErrNotFound", err)
	}
	if _, ok := f.engine.Get(e.ID); ok {
		t.Error("local removal was rolled back")
	}
	if len(f.local.GetAll()) != 0 {
		t.Error("local store still holds the entry")
	}
	if calls := rs.Calls(); calls[len(calls)-1] != "delete:"+docID {
		t.Errorf("remote calls = %v", calls)
	}
}

func TestRemoteFailureDoesNotBlockLocalWrite(t *testing.T) {
	f := newFixture(t)
	rs, _, _ := attached(t, f)
	rs.fail = remote.ErrUnavailable

	e, err := f.engine.Add(context.Background(), fullDay("2024-01-15"))
	if err != nil {
		t.Fatalf("Add returned remote failure: %v", err)
	}
	if e.IsRemote() {
		t.Error("entry re-keyed although the remote write failed")
	}
	if len(f.local.GetAll()) != 1 {
		t.Error("local write missing")
	}
	if !f.status.has("error:Failed to save to cloud") {
		t.Errorf("status log = %v", f.status.msgs)
	}

	if err := f.engine.Delete(context.Background(), e.ID); err != nil {
		t.Errorf("Delete: %v", err)
	}
}

func TestAttachUploadsWhenOwnerHasNoRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.Add(ctx, fullDay("2024-01-15"))
	f.engine.Add(ctx, fullDay("2024-01-16"))

	mem := remote.NewMemory()
	id, _ := mem.Register(ctx, "ana@example.com", "secret1")
	// Another user's data must not count as the owner's.
	mem.As("someone-else").Add(ctx, model.WorkEntry{Date: "2024-01-01", StartTime: "09:00", EndTime: "10:00"})

	res, err := f.engine.Attach(ctx, mem.Store(id), id.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Remote != 0 || res.Uploaded != 2 || res.Failed != 0 || res.Total != 2 {
		t.Errorf("AttachResult = %+v", res)
	}
	for _, e := range f.engine.Entries() {
		if !e.IsRemote() {
			t.Errorf("entry %s was not re-keyed", e.ID)
		}
	}
	owned := reconcile.OwnedBy(must(mem.List(ctx)), id.UserID)
	if len(owned) != 2 {
		t.Errorf("remote owned entries = %d, want 2", len(owned))
	}
}

func TestAttachMergesOwnedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.Add(ctx, fullDay("2024-01-15"))

	mem := remote.NewMemory()
	id, _ := mem.Register(ctx, "ana@example.com", "secret1")
	mem.SetClock(func() time.Time { return t0.Add(time.Hour) })
	mem.Store(id).Add(ctx, model.WorkEntry{Date: "2024-01-15", StartTime: "09:00", EndTime: "17:00", Notes: "from phone", UserID: id.UserID})
	mem.Store(id).Add(ctx, model.WorkEntry{Date: "2024-01-20", StartTime: "09:00", EndTime: "12:00"})
	mem.As("other").Add(ctx, model.WorkEntry{Date: "2024-01-21", StartTime: "09:00", EndTime: "12:00"})

	res, err := f.engine.Attach(ctx, mem.Store(id), id.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Remote != 2 || res.Uploaded != 0 || res.Total != 2 {
		t.Errorf("AttachResult = %+v", res)
	}
	got := f.engine.Entries()
	if got[0].Date != "2024-01-20" || got[1].Notes != "from phone" {
		t.Errorf("entries = %+v", got)
	}
	if !f.status.has("success:Loaded 2 entries from cloud") {
		t.Errorf("status log = %v", f.status.msgs)
	}
}

func TestAttachListFailureStaysDetached(t *testing.T) {
	f := newFixture(t)
	rs := &recordingStore{Store: failingList{}}
	if _, err := f.engine.Attach(context.Background(), rs, "u1"); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("Attach err = %v, want ErrUnavailable", err)
	}
	if f.engine.Mirroring() {
		t.Error("engine mirroring after failed attach")
	}
}

type failingList struct{ remote.Store }

func (failingList) List(context.Context) ([]model.WorkEntry, error) {
	return nil, remote.ErrUnavailable
}

func TestApplySnapshot(t *testing.T) {
	f := newFixture(t)
	snap := []model.WorkEntry{
		{ID: "d1", Date: "2024-01-15", StartTime: "09:00", EndTime: "17:00", UserID: "u1", Timestamp: t0},
		{ID: "d2", Date: "2024-01-16", StartTime: "09:00", EndTime: "17:00", UserID: "u2", Timestamp: t0},
	}

	f.engine.ApplySnapshot(snap)
	if n := len(f.engine.Entries()); n != 0 {
		t.Fatalf("detached engine applied snapshot: %d entries", n)
	}

	mem := remote.NewMemory()
	if _, err := f.engine.Attach(context.Background(), mem.As("u1"), "u1"); err != nil {
		t.Fatal(err)
	}
	f.engine.ApplySnapshot(snap)
	got := f.engine.Entries()
	if len(got) != 1 || got[0].ID != "cloud_d1" {
		t.Errorf("entries = %v, want [cloud_d1]", ids(got))
	}
	if stored := f.local.GetAll(); len(stored) != 1 {
		t.Errorf("snapshot not persisted: %v", ids(stored))
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestReattachAfterOfflineEditKeepsIDsUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mem := remote.NewMemory()
	mem.SetClock(func() time.Time { return t0 })
	id, _ := mem.Register(ctx, "ana@example.com", "secret1")
	if _, err := f.engine.Attach(ctx, mem.Store(id), id.UserID); err != nil {
		t.Fatal(err)
	}
	e, _ := f.engine.Add(ctx, fullDay("2024-01-01"))
	if !e.IsRemote() {
		t.Fatalf("setup: %s was not re-keyed", e.ID)
	}

	// Edited while sync is off: the cloud copy keeps the old date.
	f.engine.Detach()
	if _, err := f.engine.Edit(ctx, e.ID, fullDay("2024-01-02")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Attach(ctx, mem.Store(id), id.UserID); err != nil {
		t.Fatal(err)
	}

	got := f.engine.Entries()
	if len(got) != 1 || got[0].ID != e.ID || got[0].Date != "2024-01-02" {
		t.Errorf("entries = %+v, want only %s on 2024-01-02", got, e.ID)
	}

	f.engine.ApplySnapshot(must(mem.List(ctx)))
	if n := len(f.engine.Entries()); n != 1 {
		t.Errorf("entries after snapshot = %d, want 1", n)
	}
}

// stubLocal is a LocalStore whose Put outcome is fixed.
type stubLocal struct {
	mu      sync.Mutex
	putErr  error
	dropped int
	puts    int
}

func (s *stubLocal) Put(all []model.WorkEntry) (storage.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return storage.PutResult{}, s.putErr
	}
	return storage.PutResult{Kept: len(all) - s.dropped, Dropped: s.dropped}, nil
}

func (s *stubLocal) GetAll() []model.WorkEntry { return []model.WorkEntry{} }

func stubEngine(local *stubLocal) (*reconcile.Engine, *statusLog) {
	st := &statusLog{}
	e := reconcile.NewEngine(local, reconcile.Options{Status: st, Logger: quiet})
	e.Load()
	return e, st
}

func TestLocalPersistenceFailureIsAbsorbed(t *testing.T) {
	local := &stubLocal{putErr: fmt.Errorf("%w: disk gone", storage.ErrPersistence)}
	engine, st := stubEngine(local)
	ctx := context.Background()

	e, err := engine.Add(ctx, fullDay("2024-01-15"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := engine.Get(e.ID); !ok {
		t.Error("added entry missing from the collection")
	}

	in := e.Input()
	in.Notes = "edited"
	if _, err := engine.Edit(ctx, e.ID, in); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got, _ := engine.Get(e.ID); got.Notes != "edited" {
		t.Errorf("notes = %q, want edited", got.Notes)
	}

	if err := engine.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := len(engine.Entries()); n != 0 {
		t.Errorf("entries = %d after delete, want 0", n)
	}

	if local.puts != 3 {
		t.Errorf("Put calls = %d, want 3", local.puts)
	}
	if !st.has("error:Failed to save locally") {
		t.Errorf("status log = %v", st.msgs)
	}
}

func TestCapacityFallbackIsAWarning(t *testing.T) {
	local := &stubLocal{}
	engine, st := stubEngine(local)
	ctx := context.Background()

	if _, err := engine.Add(ctx, fullDay("2024-01-15")); err != nil {
		t.Fatal(err)
	}
	local.dropped = 1
	if _, err := engine.Add(ctx, fullDay("2024-01-16")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := len(engine.Entries()); n != 2 {
		t.Errorf("entries = %d, want 2 in memory", n)
	}
	if !st.has("warning:Storage full: kept the 1 most recent entries") {
		t.Errorf("status log = %v", st.msgs)
	}
	if st.has("error:") {
		t.Errorf("capacity fallback reported as an error: %v", st.msgs)
	}
}
