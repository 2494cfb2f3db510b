// Package remote talks to the shared document collection that mirrors the
// local entry store across devices.
package remote

import (
	"context"
	"errors"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
)

// DefaultCollection is the collection shared by all users.
const DefaultCollection = "workEntries"

var (
	ErrUnavailable = errors.New("remote store unavailable")
	ErrNotFound    = errors.New("remote document not found")
	ErrAuth        = errors.New("authentication failed")
)

// Store is a remote document collection of work entries. Ids passed to and
// returned by a Store are raw document ids without the remote-origin marker.
type Store interface {
	// Add stores entry and returns the generated document id. The server
	// assigns the write timestamp and owner tag.
	Add(ctx context.Context, entry model.WorkEntry) (string, error)
	// List returns every document in the collection regardless of owner.
	List(ctx context.Context) ([]model.WorkEntry, error)
	// Update overwrites the fields of document id.
	Update(ctx context.Context, id string, entry model.WorkEntry) error
	// Delete removes document id.
	Delete(ctx context.Context, id string) error
	// Subscribe opens a feed delivering the full collection after every change.
	// ctx bounds opening the feed; once open it runs until Close.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a live snapshot feed. Snapshots is closed when the feed
// ends; Close must be called to release the connection.
type Subscription interface {
	Snapshots() <-chan []model.WorkEntry
	// Err reports why the feed ended, or nil if it was closed by Close.
	Err() error
	Close() error
}

// Identity is an authenticated user and the token that proves it.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// deliverLatest replaces any undelivered snapshot in ch with snap. ch must have
// a buffer of one and a single sender.
func deliverLatest(ch chan []model.WorkEntry, snap []model.WorkEntry) {
	select {
	case <-ch:
	default:
	}
	ch <- snap
}
