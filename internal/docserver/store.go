// Package docserver serves a shared document collection over HTTP with a
// websocket snapshot feed. It is the server side of remote.Client.
package docserver

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateEmail   = errors.New("email already exists")
)

// AnonymousOwner tags documents written without a session token.
const AnonymousOwner = "anonymous"

// reserved are the document keys owned by the server.
var reserved = []string{"id", "userId", "timestamp"}

// Document is one record of a collection. It marshals as a flat JSON object
// of its fields plus id, userId and timestamp.
type Document struct {
	ID        string
	Owner     string
	Timestamp time.Time
	Fields    map[string]any
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+3)
	maps.Copy(out, d.Fields)
	out["id"] = d.ID
	out["userId"] = d.Owner
	out["timestamp"] = d.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// stripReserved removes client-supplied values for server-owned keys.
func stripReserved(fields map[string]any) map[string]any {
	out := maps.Clone(fields)
	if out == nil {
		out = map[string]any{}
	}
	for _, k := range reserved {
		delete(out, k)
	}
	return out
}

// User is a registered account.
type User struct {
	ID        string
	Email     string
	AuthHash  string
	CreatedAt time.Time
}

// Store persists documents and users.
type Store interface {
	CreateDocument(ctx context.Context, collection string, doc Document) error
	// ListDocuments returns the collection in insertion order.
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	// UpdateDocument merges fields into document id and sets its timestamp.
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any, ts time.Time) (Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error

	CreateUser(ctx context.Context, user User) error
	UserByEmail(ctx context.Context, email string) (User, error)

	Close() error
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	users       map[string]User
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string][]Document{},
		users:       map[string]User{},
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, collection string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.Fields = maps.Clone(doc.Fields)
	s.collections[collection] = append(s.collections[collection], doc)
	return nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collections[collection]
	out := make([]Document, len(docs))
	for i, d := range docs {
		d.Fields = maps.Clone(d.Fields)
		out[i] = d
	}
	return out, nil
}

func (s *MemoryStore) UpdateDocument(_ context.Context, collection, id string, fields map[string]any, ts time.Time) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i := range docs {
		if docs[i].ID != id {
			continue
		}
		merged := maps.Clone(docs[i].Fields)
		if merged == nil {
			merged = map[string]any{}
		}
		maps.Copy(merged, fields)
		docs[i].Fields = merged
		docs[i].Timestamp = ts
		d := docs[i]
		d.Fields = maps.Clone(merged)
		return d, nil
	}
	return Document{}, ErrDocumentNotFound
}

func (s *MemoryStore) DeleteDocument(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i := range docs {
		if docs[i].ID == id {
			s.collections[collection] = append(docs[:i], docs[i+1:]...)
			return nil
		}
	}
	return ErrDocumentNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return ErrDuplicateEmail
	}
	s.users[user.Email] = user
	return nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) Close() error { return nil }
