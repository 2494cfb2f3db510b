package model

import (
	"sort"
	"strings"
	"time"
)

// RemoteIDPrefix marks identifiers that were minted by the remote document store.
const RemoteIDPrefix = "cloud_"

// AnonymousUser is the owner tag for entries written without an authenticated session.
const AnonymousUser = "anonymous"

// WorkEntry represents a single logged work session.
type WorkEntry struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	Hours           float64   `json:"hours"`
	HourlyRate      float64   `json:"hourlyRate"`
	TotalEarnings   float64   `json:"totalEarnings"`
	WithdrawnAmount float64   `json:"withdrawnAmount"`
	RemainingAmount float64   `json:"remainingAmount"`
	Notes           string    `json:"notes"`
	Timestamp       time.Time `json:"timestamp"`
	UserID          string    `json:"userId,omitempty"`
}

// EntryInput holds the user-editable fields of a WorkEntry. Derived fields are
// never part of the input.
type EntryInput struct {
	Date            string
	StartTime       string
	EndTime         string
	HourlyRate      float64
	WithdrawnAmount float64
	Notes           string
}

// Input returns the editable fields of e.
func (e WorkEntry) Input() EntryInput {
	return EntryInput{
		Date:            e.Date,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		HourlyRate:      e.HourlyRate,
		WithdrawnAmount: e.WithdrawnAmount,
		Notes:           e.Notes,
	}
}

// IsRemote reports whether the entry id carries the remote-origin marker.
func (e WorkEntry) IsRemote() bool {
	return IsRemoteID(e.ID)
}

// NaturalKey is the (date, start, end) triple used to match entries across stores.
func (e WorkEntry) NaturalKey() string {
	return e.Date + "|" + e.StartTime + "|" + e.EndTime
}

// IsRemoteID reports whether id was minted by the remote store.
func IsRemoteID(id string) bool {
	return strings.HasPrefix(id, RemoteIDPrefix)
}

// RemoteID tags a remote document id with the remote-origin marker.
func RemoteID(docID string) string {
	return RemoteIDPrefix + docID
}

// DocumentID strips the remote-origin marker. ok is false for local ids.
func DocumentID(id string) (string, bool) {
	return strings.CutPrefix(id, RemoteIDPrefix)
}

// SortByDateDesc orders entries newest date first. Entries on the same date
// keep their relative order.
func SortByDateDesc(entries []WorkEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
}

// Clone returns a copy of entries that shares no backing array with the input.
func Clone(entries []WorkEntry) []WorkEntry {
	out := make([]WorkEntry, len(entries))
	copy(out, entries)
	return out
}
