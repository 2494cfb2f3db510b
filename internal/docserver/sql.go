package docserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Both dialects accept these statements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		collection VARCHAR(128) NOT NULL,
		owner VARCHAR(255) NOT NULL,
		fields TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		auth_hash VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// SQLStore is a Store on database/sql. Supported drivers are "sqlite3" and "mysql".
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore connects to dsn with driver and creates missing tables.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// One writer avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) CreateDocument(ctx context.Context, collection string, doc Document) error {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	ts := doc.Timestamp.UnixNano()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, owner, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, collection, doc.Owner, string(fields), ts, ts)
	return err
}

func (s *SQLStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, fields, updated_at FROM documents WHERE collection = ? ORDER BY created_at, id`,
		collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		d      Document
		fields string
		ts     int64
	)
	if err := row.Scan(&d.ID, &d.Owner, &fields, &ts); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal([]byte(fields), &d.Fields); err != nil {
		return Document{}, fmt.Errorf("decoding fields of %s: %w", d.ID, err)
	}
	d.Timestamp = time.Unix(0, ts).UTC()
	return d, nil
}

func (s *SQLStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any, ts time.Time) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, owner, fields, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}

	if d.Fields == nil {
		d.Fields = map[string]any{}
	}
	maps.Copy(d.Fields, fields)
	d.Timestamp = ts.UTC()
	data, err := json.Marshal(d.Fields)
	if err != nil {
		return Document{}, fmt.Errorf("encoding fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(data), ts.UnixNano(), collection, id); err != nil {
		return Document{}, err
	}
	return d, tx.Commit()
}

func (s *SQLStore) DeleteDocument(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, auth_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.AuthHash, user.CreatedAt.UnixNano())
	if isDuplicateEntryError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *SQLStore) UserByEmail(ctx context.Context, email string) (User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, auth_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &u.AuthHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isDuplicateEntryError matches MySQL error 1062 and SQLite unique violations.
func isDuplicateEntryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
