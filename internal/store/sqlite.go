package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opsi-org/cachesync/internal/object"
)

// SQLiteStore is a Store backed by a single SQLite database. Records live
// in one table keyed by (type, ident) with the attribute map as a JSON
// payload; encoding/json emits map keys sorted, so payloads are canonical
// and byte-comparable.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path and
// prepares the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// SQLite only supports one writer at a time, so the connection pool is
// limited to a single connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.CreateSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateSchema creates the records table if it does not exist.
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			type  TEXT NOT NULL,
			ident TEXT NOT NULL,
			attrs TEXT NOT NULL,
			PRIMARY KEY (type, ident)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DropSchema discards all content.
func (s *SQLiteStore) DropSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS records`); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

// GetObjects returns all records of the given type matching the filter.
// Rows are fetched in ident order for deterministic results; filtering is
// applied in-process with set semantics.
func (s *SQLiteStore) GetObjects(ctx context.Context, typeName string, f Filter) ([]object.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attrs FROM records WHERE type = ? ORDER BY ident
	`, typeName)
	if err != nil {
		return nil, fmt.Errorf("get %s objects: %w", typeName, err)
	}
	defer rows.Close()

	var recs []object.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("get %s objects: scan: %w", typeName, err)
		}
		rec, err := unmarshalRecord(typeName, payload)
		if err != nil {
			return nil, fmt.Errorf("get %s objects: %w", typeName, err)
		}
		if f.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get %s objects: %w", typeName, err)
	}
	return recs, nil
}

// CreateObjects inserts records, replacing any existing record with the
// same ident.
func (s *SQLiteStore) CreateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	return s.write(ctx, "create", typeName, recs)
}

// UpdateObjects upserts records: existing records are replaced wholesale,
// missing ones inserted.
func (s *SQLiteStore) UpdateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	return s.write(ctx, "update", typeName, recs)
}

func (s *SQLiteStore) write(ctx context.Context, op, typeName string, recs []object.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s objects: begin tx: %w", op, typeName, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, rec := range recs {
		payload, err := marshalRecord(rec)
		if err != nil {
			return fmt.Errorf("%s %s objects: %w", op, typeName, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (type, ident, attrs) VALUES (?, ?, ?)
			ON CONFLICT(type, ident) DO UPDATE SET attrs = excluded.attrs
		`, typeName, rec.Ident(), payload)
		if err != nil {
			return fmt.Errorf("%s %s object %s: %w", op, typeName, rec.Ident(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s %s objects: commit: %w", op, typeName, err)
	}
	return nil
}

// DeleteObjects removes records by ident. Records already absent are
// silently ignored.
func (s *SQLiteStore) DeleteObjects(ctx context.Context, typeName string, recs []object.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s objects: begin tx: %w", typeName, err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM records WHERE type = ? AND ident = ?
		`, typeName, rec.Ident())
		if err != nil {
			return fmt.Errorf("delete %s object %s: %w", typeName, rec.Ident(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s objects: commit: %w", typeName, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalRecord(rec object.Record) (string, error) {
	b, err := json.Marshal(rec.Attrs)
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", rec.Ident(), err)
	}
	return string(b), nil
}

func unmarshalRecord(typeName, payload string) (object.Record, error) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(payload), &attrs); err != nil {
		return object.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return object.Record{Type: typeName, Attrs: attrs}, nil
}
