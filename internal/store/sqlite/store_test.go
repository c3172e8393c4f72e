package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"quiz-attempt-engine/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Get(ctx, store.CollectionQuizContent, "quiz-1"); err != store.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := s.Put(ctx, store.CollectionQuizContent, "quiz-1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, store.CollectionQuizContent, "quiz-1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	value, err := s.Get(ctx, store.CollectionQuizContent, "quiz-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `{"v":2}` {
		t.Fatalf("expected last write, got %s", value)
	}

	if err := s.Delete(ctx, store.CollectionQuizContent, "quiz-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, store.CollectionQuizContent, "quiz-1"); err != store.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attempts.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Enqueue(ctx, store.OutboxAnswers, []byte("q1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(ctx, store.OutboxAnswers, []byte("q2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.ListAll(ctx, store.OutboxAnswers)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || string(entries[0].Data) != "q1" || string(entries[1].Data) != "q2" {
		t.Fatalf("expected queued entries to survive reopen in order, got %+v", entries)
	}

	if err := reopened.RemoveBySeq(ctx, store.OutboxAnswers, entries[0].Seq); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ = reopened.ListAll(ctx, store.OutboxAnswers)
	if len(entries) != 1 || string(entries[0].Data) != "q2" {
		t.Fatalf("expected only q2 remaining, got %+v", entries)
	}
}

func TestOutboxesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enqueue(ctx, store.OutboxAnswers, []byte("a")); err != nil {
		t.Fatalf("enqueue answers: %v", err)
	}
	if _, err := s.Enqueue(ctx, store.OutboxCompletions, []byte("c")); err != nil {
		t.Fatalf("enqueue completions: %v", err)
	}

	answers, _ := s.ListAll(ctx, store.OutboxAnswers)
	completions, _ := s.ListAll(ctx, store.OutboxCompletions)
	if len(answers) != 1 || len(completions) != 1 {
		t.Fatalf("expected one entry each, got %d and %d", len(answers), len(completions))
	}
	if string(answers[0].Data) != "a" || string(completions[0].Data) != "c" {
		t.Fatalf("outboxes mixed entries: %+v %+v", answers, completions)
	}
}

func TestClosedStoreWrapsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	if err := s.Put(ctx, store.CollectionSnapshots, "quiz-1", []byte("snap")); !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable from put, got %v", err)
	}
	if _, err := s.Enqueue(ctx, store.OutboxAnswers, []byte("{}")); !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable from enqueue, got %v", err)
	}
	if _, err := s.ListAll(ctx, store.OutboxAnswers); !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable from list, got %v", err)
	}
}
