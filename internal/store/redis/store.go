// Package redis backs the LocalStore with a Redis instance, for kiosk or
// shared-lab deployments where several machines share one persistence host.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-engine/internal/store"
)

// Store keys collections as attempt:col:{collection}:{key} and outboxes as a
// hash attempt:outbox:{name} (field = sequence number) plus an INCR counter
// attempt:outbox:{name}:seq that provides monotonically increasing keys.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Put(ctx context.Context, collection, key string, value []byte) error {
	if err := s.client.Set(ctx, s.colKey(collection, key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.colKey(collection, key)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := s.client.Del(ctx, s.colKey(collection, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, outbox string, data []byte) (uint64, error) {
	seq, err := s.client.Incr(ctx, s.outboxKey(outbox)+":seq").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	if err := s.client.HSet(ctx, s.outboxKey(outbox), strconv.FormatInt(seq, 10), data).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return uint64(seq), nil
}

func (s *Store) ListAll(ctx context.Context, outbox string) ([]store.QueuedEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.outboxKey(outbox)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	entries := make([]store.QueuedEntry, 0, len(fields))
	for field, data := range fields {
		seq, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, store.QueuedEntry{Seq: seq, Data: []byte(data)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func (s *Store) RemoveBySeq(ctx context.Context, outbox string, seq uint64) error {
	if err := s.client.HDel(ctx, s.outboxKey(outbox), strconv.FormatUint(seq, 10)).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) colKey(collection, key string) string {
	return "attempt:col:" + collection + ":" + key
}

func (s *Store) outboxKey(outbox string) string {
	return "attempt:outbox:" + outbox
}
