// Package store defines the local durable storage the attempt engine relies
// on for snapshots, cached quiz payloads, and the offline outboxes. Values
// are opaque JSON bytes; backends (memory, sqlite, redis, postgres) are
// interchangeable behind LocalStore.
package store

import "context"

// Named key-value collections.
const (
	CollectionQuizContent   = "quiz-content"
	CollectionQuizListing   = "quiz-listing"
	CollectionSnapshots     = "snapshots"
	CollectionSnapshotIndex = "snapshot-index"
)

// Named outboxes. Entries are append-only and replayed in insertion order.
const (
	OutboxAnswers     = "answers"
	OutboxCompletions = "completions"
)

// QueuedEntry is one outbox record with its backend-assigned sequence key.
type QueuedEntry struct {
	Seq  uint64
	Data []byte
}

// LocalStore is key-value/document persistence surviving process restarts.
//
// Collection operations are last-write-wins per key. Outbox sequence keys
// strictly increase per outbox, and ListAll returns entries in ascending
// sequence order. Backends report unavailability by wrapping
// ErrStorageUnavailable; callers degrade to memory-only operation.
type LocalStore interface {
	Put(ctx context.Context, collection, key string, value []byte) error
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Delete(ctx context.Context, collection, key string) error

	Enqueue(ctx context.Context, outbox string, data []byte) (uint64, error)
	ListAll(ctx context.Context, outbox string) ([]QueuedEntry, error)
	RemoveBySeq(ctx context.Context, outbox string, seq uint64) error

	Close() error
}
