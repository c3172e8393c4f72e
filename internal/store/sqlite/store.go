// Package sqlite is the default durable LocalStore backend: a single-file
// embedded database that survives restarts without any external service.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"quiz-attempt-engine/internal/store"
)

type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the database file and initializes the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = "attempts.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			PRIMARY KEY (collection, key)
		);`,
		`CREATE TABLE IF NOT EXISTS outboxes (
			outbox TEXT NOT NULL,
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			data BLOB NOT NULL,
			queued_at_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outboxes_name_seq ON outboxes(outbox, seq);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, collection, key string, value []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO collections (collection, key, value, updated_at_unix)
		 VALUES (?, ?, ?, strftime('%s','now'))
		 ON CONFLICT (collection, key) DO UPDATE SET value=excluded.value, updated_at_unix=excluded.updated_at_unix`,
		collection, key, value,
	)
	if err != nil {
		return fmt.Errorf("%w: sqlite put: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT value FROM collections WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite get: %v", store.ErrStorageUnavailable, err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM collections WHERE collection = ? AND key = ?`,
		collection, key,
	); err != nil {
		return fmt.Errorf("%w: sqlite delete: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, outbox string, data []byte) (uint64, error) {
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO outboxes (outbox, data, queued_at_unix) VALUES (?, ?, strftime('%s','now'))`,
		outbox, data,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: sqlite enqueue: %v", store.ErrStorageUnavailable, err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: sqlite enqueue seq: %v", store.ErrStorageUnavailable, err)
	}
	return uint64(seq), nil
}

func (s *Store) ListAll(ctx context.Context, outbox string) ([]store.QueuedEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, data FROM outboxes WHERE outbox = ? ORDER BY seq ASC`,
		outbox,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list: %v", store.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var entries []store.QueuedEntry
	for rows.Next() {
		var entry store.QueuedEntry
		if err := rows.Scan(&entry.Seq, &entry.Data); err != nil {
			return nil, fmt.Errorf("%w: sqlite list scan: %v", store.ErrStorageUnavailable, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite list rows: %v", store.ErrStorageUnavailable, err)
	}
	return entries, nil
}

func (s *Store) RemoveBySeq(ctx context.Context, outbox string, seq uint64) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM outboxes WHERE outbox = ? AND seq = ?`,
		outbox, seq,
	); err != nil {
		return fmt.Errorf("%w: sqlite remove: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
