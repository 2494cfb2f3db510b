package remote_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tiliavir/work-hours-tracker/internal/docserver"
	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/remote"
)

func entry(date string) model.WorkEntry {
	return model.WorkEntry{
		ID: "local-1", Date: date, StartTime: "09:00", EndTime: "17:00",
		Hours: 8, HourlyRate: 20, TotalEarnings: 160, RemainingAmount: 160,
	}
}

func nextSnapshot(t *testing.T, sub remote.Subscription) []model.WorkEntry {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatalf("feed closed: %v", sub.Err())
		}
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// storeContract exercises the behaviour both Store implementations share.
func storeContract(t *testing.T, owner string, store remote.Store) {
	ctx := context.Background()

	sub, err := store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	if snap := nextSnapshot(t, sub); len(snap) != 0 {
		t.Fatalf("initial snapshot has %d entries, want 0", len(snap))
	}

	id, err := store.Add(ctx, entry("2024-01-15"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" || id == "local-1" {
		t.Fatalf("Add returned id %q, want a server-generated id", id)
	}

	snap := nextSnapshot(t, sub)
	if len(snap) != 1 || snap[0].ID != id || snap[0].UserID != owner {
		t.Fatalf("snapshot after Add = %+v", snap)
	}
	if snap[0].Timestamp.IsZero() {
		t.Error("server did not set a timestamp")
	}
	if snap[0].TotalEarnings != 160 {
		t.Errorf("totalEarnings = %v, want 160", snap[0].TotalEarnings)
	}

	updated := entry("2024-01-15")
	updated.Notes = "edited"
	if err := store.Update(ctx, id, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Notes != "edited" || list[0].UserID != owner {
		t.Fatalf("List after Update = %+v", list)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, id, updated); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Update of deleted doc err = %v, want ErrNotFound", err)
	}

	if err := sub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	for range sub.Snapshots() {
	}
	if err := sub.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
}

func TestMemoryStore(t *testing.T) {
	mem := remote.NewMemory()
	id, err := mem.Register(context.Background(), "ana@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	storeContract(t, id.UserID, mem.Store(id))
}

func TestMemoryAuth(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	if _, err := mem.Register(ctx, "ana@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Register(ctx, "ana@example.com", "secret1"); !errors.Is(err, remote.ErrAuth) {
		t.Errorf("duplicate Register err = %v, want ErrAuth", err)
	}
	if _, err := mem.Login(ctx, "ana@example.com", "wrong"); !errors.Is(err, remote.ErrAuth) {
		t.Errorf("Login wrong password err = %v, want ErrAuth", err)
	}
}

func TestMemorySubscriptionOutlivesOpeningContext(t *testing.T) {
	mem := remote.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := mem.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	nextSnapshot(t, sub)
	cancel()

	if _, err := mem.Add(context.Background(), entry("2024-01-15")); err != nil {
		t.Fatal(err)
	}
	if snap := nextSnapshot(t, sub); len(snap) != 1 {
		t.Fatalf("snapshot after cancel has %d entries, want 1", len(snap))
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if n := mem.Subscribers(); n != 0 {
		t.Errorf("Subscribers after Close = %d, want 0", n)
	}
}

func TestMemorySubscribeWithDoneContext(t *testing.T) {
	mem := remote.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mem.Subscribe(ctx); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("Subscribe err = %v, want ErrUnavailable", err)
	}
	if n := mem.Subscribers(); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestMemorySnapshotsArriveInCommitOrder(t *testing.T) {
	mem := remote.NewMemory()
	ctx := context.Background()
	sub, err := mem.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	nextSnapshot(t, sub)

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mem.Add(ctx, entry(fmt.Sprintf("2024-01-%02d", i+1))); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// Only the newest snapshot is buffered, so it must hold every write.
	if snap := nextSnapshot(t, sub); len(snap) != writers {
		t.Errorf("last snapshot has %d entries, want %d", len(snap), writers)
	}
}

func newServer(t *testing.T) (*httptest.Server, *docserver.Server) {
	t.Helper()
	srv := docserver.NewServer(docserver.NewMemoryStore(), docserver.Options{
		JWTSecret: "test-secret",
		AuthRPS:   1000,
		AuthBurst: 1000,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, srv
}

func TestClientStore(t *testing.T) {
	ts, _ := newServer(t)
	client := remote.NewClient(ts.URL, "")

	id, err := client.Register(context.Background(), "ana@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id.Token == "" || id.UserID == "" || id.Email != "ana@example.com" {
		t.Fatalf("identity = %+v", id)
	}
	storeContract(t, id.UserID, client.Store(id))
}

func TestClientAnonymousWrites(t *testing.T) {
	ts, _ := newServer(t)
	client := remote.NewClient(ts.URL, remote.DefaultCollection)

	if _, err := client.Add(context.Background(), entry("2024-01-15")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	list, err := client.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UserID != model.AnonymousUser {
		t.Errorf("List = %+v, want one anonymous entry", list)
	}
}

func TestClientAuthErrors(t *testing.T) {
	ts, _ := newServer(t)
	client := remote.NewClient(ts.URL, "")
	ctx := context.Background()

	if _, err := client.Register(ctx, "ana@example.com", "123"); !errors.Is(err, remote.ErrAuth) {
		t.Errorf("short password err = %v, want ErrAuth", err)
	}
	if _, err := client.Register(ctx, "ana@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Register(ctx, "ana@example.com", "secret1"); !errors.Is(err, remote.ErrAuth) {
		t.Errorf("duplicate register err = %v, want ErrAuth", err)
	}
	_, err := client.Login(ctx, "ana@example.com", "wrong!!")
	if !errors.Is(err, remote.ErrAuth) {
		t.Fatalf("wrong password err = %v, want ErrAuth", err)
	}
	if want := "invalid email or password"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not carry server message %q", err, want)
	}

	if _, err := client.WithToken("forged").List(ctx); !errors.Is(err, remote.ErrAuth) {
		t.Errorf("forged token err = %v, want ErrAuth", err)
	}
}

func TestClientUnavailable(t *testing.T) {
	ts, _ := newServer(t)
	url := ts.URL
	ts.Close()

	client := remote.NewClient(url, "")
	if _, err := client.List(context.Background()); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("List against closed server err = %v, want ErrUnavailable", err)
	}
	if _, err := client.Subscribe(context.Background()); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("Subscribe against closed server err = %v, want ErrUnavailable", err)
	}
}

func TestClientSubscribeHandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	client := remote.NewClient(ts.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Subscribe(ctx)
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("Subscribe err = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Subscribe returned after %v, want it bounded by the context", elapsed)
	}
}

func TestClientFeedOutlivesOpeningContext(t *testing.T) {
	ts, _ := newServer(t)
	client := remote.NewClient(ts.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	nextSnapshot(t, sub)
	cancel()

	if _, err := client.Add(context.Background(), entry("2024-01-15")); err != nil {
		t.Fatal(err)
	}
	if snap := nextSnapshot(t, sub); len(snap) != 1 {
		t.Errorf("snapshot after cancel has %d entries, want 1", len(snap))
	}
}

func TestClientFeedDropped(t *testing.T) {
	ts, srv := newServer(t)
	client := remote.NewClient(ts.URL, "")

	sub, err := client.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	nextSnapshot(t, sub)

	srv.Close()
	select {
	case _, ok := <-sub.Snapshots():
		if ok {
			t.Fatal("unexpected snapshot after server shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not end after server shutdown")
	}
	if !errors.Is(sub.Err(), remote.ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", sub.Err())
	}
}
