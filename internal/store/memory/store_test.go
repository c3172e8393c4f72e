package memory

import (
	"context"
	"testing"

	"quiz-attempt-engine/internal/store"
)

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if _, err := s.Get(ctx, store.CollectionSnapshots, "quiz-1"); err != store.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := s.Put(ctx, store.CollectionSnapshots, "quiz-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, store.CollectionSnapshots, "quiz-1", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}

	value, err := s.Get(ctx, store.CollectionSnapshots, "quiz-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `{"a":2}` {
		t.Fatalf("expected last write to win, got %s", value)
	}

	if err := s.Delete(ctx, store.CollectionSnapshots, "quiz-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, store.CollectionSnapshots, "quiz-1"); err != store.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestOutboxOrderAndRemoval(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var seqs []uint64
	for _, payload := range []string{"q1", "q2", "q3"} {
		seq, err := s.Enqueue(ctx, store.OutboxAnswers, []byte(payload))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		seqs = append(seqs, seq)
	}
	if !(seqs[0] < seqs[1] && seqs[1] < seqs[2]) {
		t.Fatalf("expected strictly increasing sequence keys, got %v", seqs)
	}

	entries, err := s.ListAll(ctx, store.OutboxAnswers)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || string(entries[0].Data) != "q1" || string(entries[2].Data) != "q3" {
		t.Fatalf("expected insertion order, got %+v", entries)
	}

	if err := s.RemoveBySeq(ctx, store.OutboxAnswers, seqs[1]); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ = s.ListAll(ctx, store.OutboxAnswers)
	if len(entries) != 2 || string(entries[0].Data) != "q1" || string(entries[1].Data) != "q3" {
		t.Fatalf("expected q1,q3 remaining in order, got %+v", entries)
	}
}
