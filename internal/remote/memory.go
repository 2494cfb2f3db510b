package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
)

// Memory is an in-process document collection with the same semantics as the
// remote server. Views created with As share one collection.
type Memory struct {
	state *memState
	owner string
}

type memState struct {
	mu    sync.Mutex
	docs  []model.WorkEntry
	users map[string]memUser
	subs  map[*memSub]struct{}
	clock func() time.Time
}

type memUser struct {
	id       string
	password string
}

// NewMemory returns an empty collection accessed anonymously.
func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			users: map[string]memUser{},
			subs:  map[*memSub]struct{}{},
			clock: time.Now,
		},
		owner: model.AnonymousUser,
	}
}

// As returns a view of the same collection whose writes are owned by userID.
func (m *Memory) As(userID string) *Memory {
	return &Memory{state: m.state, owner: userID}
}

// SetClock replaces the server clock used for write timestamps.
func (m *Memory) SetClock(clock func() time.Time) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.clock = clock
}

// Register creates a user with the given password.
func (m *Memory) Register(_ context.Context, email, password string) (Identity, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	if _, exists := m.state.users[email]; exists {
		return Identity{}, fmt.Errorf("%w: email already taken", ErrAuth)
	}
	u := memUser{id: uuid.New().String(), password: password}
	m.state.users[email] = u
	return Identity{UserID: u.id, Email: email, Token: "mem-" + u.id}, nil
}

// Login checks the password of a registered user.
func (m *Memory) Login(_ context.Context, email, password string) (Identity, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	u, ok := m.state.users[email]
	if !ok || u.password != password {
		return Identity{}, fmt.Errorf("%w: invalid email or password", ErrAuth)
	}
	return Identity{UserID: u.id, Email: email, Token: "mem-" + u.id}, nil
}

// Store returns the view owned by id.
func (m *Memory) Store(id Identity) Store {
	return m.As(id.UserID)
}

// Add stores entry under a new document id.
func (m *Memory) Add(_ context.Context, entry model.WorkEntry) (string, error) {
	s := m.state
	s.mu.Lock()
	entry.ID = uuid.New().String()
	entry.UserID = m.owner
	entry.Timestamp = s.clock()
	s.docs = append(s.docs, entry)
	s.publishLocked()
	s.mu.Unlock()
	return entry.ID, nil
}

// List returns all documents.
func (m *Memory) List(_ context.Context) ([]model.WorkEntry, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.state.snapshotLocked(), nil
}

// Update replaces the fields of document id, keeping its owner.
func (m *Memory) Update(_ context.Context, id string, entry model.WorkEntry) error {
	s := m.state
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entry.ID = id
	entry.UserID = s.docs[i].UserID
	entry.Timestamp = s.clock()
	s.docs[i] = entry
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

// Delete removes document id.
func (m *Memory) Delete(_ context.Context, id string) error {
	s := m.state
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.docs = append(s.docs[:i], s.docs[i+1:]...)
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

// Subscribe delivers the current snapshot immediately and again after every
// change until the subscription is closed.
func (m *Memory) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: subscribing: %v", ErrUnavailable, err)
	}
	s := m.state
	sub := &memSub{state: s, ch: make(chan []model.WorkEntry, 1)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.deliver(s.snapshotLocked())
	s.mu.Unlock()
	return sub, nil
}

// Subscribers returns the number of open feeds.
func (m *Memory) Subscribers() int {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return len(m.state.subs)
}

func (s *memState) indexLocked(id string) int {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *memState) snapshotLocked() []model.WorkEntry {
	return model.Clone(s.docs)
}

// publishLocked sends the current snapshot to every subscriber. Holding the
// state lock keeps deliveries in commit order.
func (s *memState) publishLocked() {
	snap := s.snapshotLocked()
	for sub := range s.subs {
		sub.deliver(snap)
	}
}

type memSub struct {
	state  *memState
	mu     sync.Mutex
	ch     chan []model.WorkEntry
	closed bool
}

func (s *memSub) deliver(snap []model.WorkEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	deliverLatest(s.ch, model.Clone(snap))
}

func (s *memSub) Snapshots() <-chan []model.WorkEntry { return s.ch }

func (s *memSub) Err() error { return nil }

func (s *memSub) Close() error {
	s.state.mu.Lock()
	delete(s.state.subs, s)
	s.state.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
