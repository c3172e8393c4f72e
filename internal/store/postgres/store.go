// Package postgres backs the LocalStore with Postgres, for classroom-server
// deployments where attempt state must outlive any single machine.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-engine/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Put(ctx context.Context, collection, key string, value []byte) error {
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO attempt_collections (collection, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		collection, key, value,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(
		ctx,
		`SELECT value FROM attempt_collections WHERE collection=$1 AND key=$2`,
		collection, key,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.pool.Exec(
		ctx,
		`DELETE FROM attempt_collections WHERE collection=$1 AND key=$2`,
		collection, key,
	); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, outbox string, data []byte) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(
		ctx,
		`INSERT INTO attempt_outboxes (outbox, data, queued_at) VALUES ($1, $2, now()) RETURNING seq`,
		outbox, data,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return seq, nil
}

func (s *Store) ListAll(ctx context.Context, outbox string) ([]store.QueuedEntry, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT seq, data FROM attempt_outboxes WHERE outbox=$1 ORDER BY seq ASC`,
		outbox,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var entries []store.QueuedEntry
	for rows.Next() {
		var entry store.QueuedEntry
		if err := rows.Scan(&entry.Seq, &entry.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return entries, nil
}

func (s *Store) RemoveBySeq(ctx context.Context, outbox string, seq uint64) error {
	if _, err := s.pool.Exec(
		ctx,
		`DELETE FROM attempt_outboxes WHERE outbox=$1 AND seq=$2`,
		outbox, seq,
	); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
