package redis

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-attempt-engine/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestCollectionKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, store.CollectionSnapshots, "quiz-1", []byte("snap")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := s.Get(ctx, store.CollectionSnapshots, "quiz-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "snap" {
		t.Fatalf("expected snap, got %s", value)
	}

	if err := s.Delete(ctx, store.CollectionSnapshots, "quiz-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, store.CollectionSnapshots, "quiz-1"); err != store.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestOutboxOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, payload := range []string{"q1", "q2", "q3"} {
		if _, err := s.Enqueue(ctx, store.OutboxAnswers, []byte(payload)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	entries, err := s.ListAll(ctx, store.OutboxAnswers)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if string(entries[i].Data) != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, entries[i].Data)
		}
	}

	if err := s.RemoveBySeq(ctx, store.OutboxAnswers, entries[0].Seq); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ = s.ListAll(ctx, store.OutboxAnswers)
	if len(entries) != 2 || string(entries[0].Data) != "q2" {
		t.Fatalf("expected q2 first after removal, got %+v", entries)
	}
}

func TestUnavailableBackendWrapsError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewStore(client)
	mr.Close()

	err = s.Put(context.Background(), store.CollectionSnapshots, "quiz-1", []byte("snap"))
	if err == nil {
		t.Fatalf("expected error from closed backend")
	}
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
