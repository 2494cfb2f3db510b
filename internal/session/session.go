// Package session drives login state and the lifetime of the cloud
// subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/reconcile"
	"github.com/Tiliavir/work-hours-tracker/internal/remote"
	"github.com/Tiliavir/work-hours-tracker/internal/status"
)

var (
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// State is the position of a Session in its lifecycle.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	LoggedInSyncDisabled
	LoggedInSyncEnabled
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged out"
	case LoggingIn:
		return "logging in"
	case LoggedInSyncDisabled:
		return "logged in, sync disabled"
	case LoggedInSyncEnabled:
		return "logged in, sync enabled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Backend authenticates users and hands out their remote store.
type Backend interface {
	Login(ctx context.Context, email, password string) (remote.Identity, error)
	Register(ctx context.Context, email, password string) (remote.Identity, error)
	Store(id remote.Identity) remote.Store
}

// Reconciler is the part of the engine the session drives.
type Reconciler interface {
	Attach(ctx context.Context, store remote.Store, owner string) (reconcile.AttachResult, error)
	ApplySnapshot(snapshot []model.WorkEntry)
	Detach()
}

// Options configures a Session.
type Options struct {
	// Credentials persists the login between runs; nil disables persistence.
	Credentials *CredentialStore
	Status      reconcile.Reporter
	Logger      *slog.Logger
	// OnTransition observes every state change. It runs with the session
	// lock held and must not call back into the Session.
	OnTransition func(from, to State)
}

// Session is the authentication state machine. While sync is enabled it owns
// one subscription whose snapshots are pumped into the engine.
type Session struct {
	backend Backend
	engine  Reconciler
	opts    Options
	log     *slog.Logger
	status  reconcile.Reporter

	mu       sync.Mutex
	state    State
	identity remote.Identity
	enabling bool
	sub      remote.Subscription
	pumpDone chan struct{}
}

// New returns a logged-out Session.
func New(backend Backend, engine Reconciler, opts Options) *Session {
	s := &Session{backend: backend, engine: engine, opts: opts, log: opts.Logger, status: opts.Status}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.status == nil {
		s.status = nopReporter{}
	}
	return s
}

type nopReporter struct{}

func (nopReporter) Show(string, status.Severity) {}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the logged-in user; ok is false when logged out.
func (s *Session) Identity() (remote.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.state == LoggedInSyncDisabled || s.state == LoggedInSyncEnabled
}

// FeedDone is closed when the current subscription ends. It is nil while
// sync is disabled.
func (s *Session) FeedDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pumpDone == nil {
		return nil
	}
	return s.pumpDone
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.log.Debug("session state changed", "from", from.String(), "to", to.String())
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(from, to)
	}
}

// Login authenticates with email and password.
func (s *Session) Login(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "Login", s.backend.Login, email, password)
}

// Register creates an account and logs into it.
func (s *Session) Register(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "Registration", s.backend.Register, email, password)
}

type authFunc func(ctx context.Context, email, password string) (remote.Identity, error)

func (s *Session) authenticate(ctx context.Context, action string, fn authFunc, email, password string) error {
	s.mu.Lock()
	if s.state != LoggedOut {
		s.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	s.setStateLocked(LoggingIn)
	s.mu.Unlock()

	s.status.Show(action+" in progress...", status.Syncing)
	id, err := fn(ctx, email, password)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setStateLocked(LoggedOut)
		s.log.Warn("authentication failed", "action", action, "email", email, "error", err)
		s.status.Show(action+" failed: "+err.Error(), status.Error)
		return fmt.Errorf("%s failed: %w", action, err)
	}
	s.identity = id
	s.setStateLocked(LoggedInSyncDisabled)
	s.saveLocked(false)
	s.status.Show(action+" successful", status.Success)
	return nil
}

// EnableSync reconciles with the cloud and starts the live subscription. It is
// a no-op while sync is already enabled or being enabled.
func (s *Session) EnableSync(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == LoggedInSyncEnabled, s.enabling:
		s.mu.Unlock()
		return nil
	case s.state != LoggedInSyncDisabled:
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.enabling = true
	id := s.identity
	s.mu.Unlock()

	store := s.backend.Store(id)
	res, err := s.engine.Attach(ctx, store, id.UserID)
	if err != nil {
		return s.enableFailed(id, err)
	}
	s.log.Info("cloud sync attached", "remote", res.Remote, "uploaded", res.Uploaded, "failed", res.Failed, "total", res.Total)

	// ctx bounds the handshake; the feed itself runs until released.
	sub, err := store.Subscribe(ctx)
	if err != nil {
		s.engine.Detach()
		return s.enableFailed(id, err)
	}

	s.mu.Lock()
	s.enabling = false
	if s.state != LoggedInSyncDisabled || s.identity.UserID != id.UserID {
		// Logged out or switched user while attaching.
		s.mu.Unlock()
		_ = sub.Close()
		s.engine.Detach()
		return ErrNotLoggedIn
	}
	done := make(chan struct{})
	s.sub = sub
	s.pumpDone = done
	s.setStateLocked(LoggedInSyncEnabled)
	s.saveLocked(true)
	s.mu.Unlock()

	go s.pump(sub, done)
	return nil
}

func (s *Session) enableFailed(id remote.Identity, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabling = false
	if errors.Is(err, remote.ErrAuth) && s.identity.UserID == id.UserID {
		// The saved token is no longer accepted.
		s.identity = remote.Identity{}
		s.setStateLocked(LoggedOut)
		s.clearLocked()
		s.status.Show("Session expired, please log in again", status.Error)
	} else {
		s.status.Show("Failed to enable cloud sync", status.Error)
	}
	s.log.Error("enabling cloud sync failed", "error", err)
	return fmt.Errorf("enabling sync: %w", err)
}

func (s *Session) pump(sub remote.Subscription, done chan struct{}) {
	defer close(done)
	for snap := range sub.Snapshots() {
		s.engine.ApplySnapshot(snap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != sub {
		return
	}
	// The feed ended without DisableSync or Logout; it is not retried.
	s.sub = nil
	s.pumpDone = nil
	s.engine.Detach()
	s.setStateLocked(LoggedInSyncDisabled)
	s.log.Warn("cloud subscription ended", "error", sub.Err())
	s.status.Show("Lost connection to cloud, sync disabled", status.Error)
	_ = sub.Close()
}

// releaseLocked detaches the subscription. The returned func closes it and
// waits for the pump; call it without holding the lock.
func (s *Session) releaseLocked() func() {
	sub, done := s.sub, s.pumpDone
	s.sub, s.pumpDone = nil, nil
	return func() {
		if sub == nil {
			return
		}
		_ = sub.Close()
		<-done
		s.engine.Detach()
	}
}

// DisableSync stops the subscription and the remote mirror.
func (s *Session) DisableSync() error {
	s.mu.Lock()
	switch s.state {
	case LoggedInSyncDisabled:
		s.mu.Unlock()
		return nil
	case LoggedInSyncEnabled:
	default:
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	release := s.releaseLocked()
	s.setStateLocked(LoggedInSyncDisabled)
	s.saveLocked(false)
	s.mu.Unlock()

	release()
	s.status.Show("Cloud sync disabled", status.Info)
	return nil
}

// Logout releases the subscription and forgets the identity.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state == LoggedOut {
		s.mu.Unlock()
		return nil
	}
	release := s.releaseLocked()
	s.identity = remote.Identity{}
	s.setStateLocked(LoggedOut)
	s.clearLocked()
	s.mu.Unlock()

	release()
	s.engine.Detach()
	s.status.Show("Logged out", status.Info)
	return nil
}

// Resume restores the saved login and re-enables sync if it was enabled when
// the login was saved.
func (s *Session) Resume(ctx context.Context) error {
	if s.opts.Credentials == nil {
		return nil
	}
	saved, err := s.opts.Credentials.Load()
	if err != nil {
		return err
	}
	if saved == nil {
		return nil
	}

	s.mu.Lock()
	if s.state != LoggedOut {
		s.mu.Unlock()
		return nil
	}
	s.identity = remote.Identity{UserID: saved.UserID, Email: saved.Email, Token: saved.Token}
	s.setStateLocked(LoggedInSyncDisabled)
	s.mu.Unlock()

	if saved.SyncEnabled {
		return s.EnableSync(ctx)
	}
	return nil
}

// Close stops the subscription without changing the saved sync preference.
func (s *Session) Close() {
	s.mu.Lock()
	release := s.releaseLocked()
	if s.state == LoggedInSyncEnabled {
		s.setStateLocked(LoggedInSyncDisabled)
	}
	s.mu.Unlock()
	release()
}

func (s *Session) saveLocked(syncEnabled bool) {
	if s.opts.Credentials == nil {
		return
	}
	err := s.opts.Credentials.Save(Saved{
		UserID:      s.identity.UserID,
		Email:       s.identity.Email,
		Token:       s.identity.Token,
		SyncEnabled: syncEnabled,
		SavedAt:     time.Now(),
	})
	if err != nil {
		s.log.Warn("could not save session", "error", err)
	}
}

func (s *Session) clearLocked() {
	if s.opts.Credentials == nil {
		return
	}
	if err := s.opts.Credentials.Clear(); err != nil {
		s.log.Warn("could not remove session", "error", err)
	}
}
