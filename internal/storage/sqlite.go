package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// SQLiteSlot keeps slot values in a single-table SQLite database.
type SQLiteSlot struct {
	db    *sql.DB
	quota int
}

// OpenSQLiteSlot opens (and if needed creates) the database at path.
func OpenSQLiteSlot(path string, quota int) (*SQLiteSlot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteSlot{db: db, quota: quota}, nil
}

// Read returns the stored value for key.
func (s *SQLiteSlot) Read(key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT value FROM slots WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read slot %s: %w", key, err)
	}
	return data, nil
}

// Write clears and rewrites the value for key in one transaction.
func (s *SQLiteSlot) Write(key string, data []byte) error {
	if s.quota > 0 && len(data) > s.quota {
		return fmt.Errorf("%w: %d bytes over quota of %d", ErrCapacityExceeded, len(data), s.quota)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin slot write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM slots WHERE key = ?", key); err != nil {
		return fmt.Errorf("clear slot %s: %w", key, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO slots (key, value, updated_at) VALUES (?, ?, ?)",
		key, data, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("write slot %s: %w", key, err)
	}
	return tx.Commit()
}

// Quarantine drops a corrupt value; SQLite has no side file to keep it in.
func (s *SQLiteSlot) Quarantine(key string) (string, error) {
	_, err := s.db.Exec("DELETE FROM slots WHERE key = ?", key)
	return "", err
}

// Close closes the database connection.
func (s *SQLiteSlot) Close() error {
	return s.db.Close()
}
