// Package snapshot persists the single in-progress attempt snapshot per quiz
// and the lightweight index the app uses to list incomplete quizzes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/store"
)

// DefaultTTL is the staleness window after which a snapshot is no longer
// offered for resume. Expiry is lazy: stale records are deleted on read.
const DefaultTTL = 7 * 24 * time.Hour

type Manager struct {
	store store.LocalStore
	ttl   time.Duration
	clock func() time.Time
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(localStore store.LocalStore, opts ...Option) *Manager {
	m := &Manager{store: localStore, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save overwrites the snapshot for its quiz, stamping LastSavedAt, and keeps
// the incomplete-quizzes index entry in step.
func (m *Manager) Save(ctx context.Context, snap domain.ProgressSnapshot) error {
	snap.LastSavedAt = m.clock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.store.Put(ctx, store.CollectionSnapshots, snap.QuizID, data); err != nil {
		return err
	}

	index := domain.SnapshotIndexEntry{
		QuizID:      snap.QuizID,
		Title:       snap.Title,
		Answered:    len(snap.Answers),
		Total:       snap.TotalQuestions,
		LastSavedAt: snap.LastSavedAt,
	}
	indexData, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal snapshot index: %w", err)
	}
	return m.store.Put(ctx, store.CollectionSnapshotIndex, snap.QuizID, indexData)
}

// Load returns the snapshot for a quiz, or ok=false when absent. A snapshot
// older than the staleness window is deleted and reported absent, not an error.
func (m *Manager) Load(ctx context.Context, quizID string) (domain.ProgressSnapshot, bool, error) {
	raw, err := m.store.Get(ctx, store.CollectionSnapshots, quizID)
	if errors.Is(err, store.ErrKeyNotFound) {
		return domain.ProgressSnapshot{}, false, nil
	}
	if err != nil {
		return domain.ProgressSnapshot{}, false, err
	}

	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		_ = m.Clear(ctx, quizID)
		return domain.ProgressSnapshot{}, false, nil
	}

	if m.clock().Sub(snap.LastSavedAt) > m.ttl {
		_ = m.Clear(ctx, quizID)
		return domain.ProgressSnapshot{}, false, nil
	}
	return snap, true, nil
}

// Clear removes the snapshot and its index entry.
func (m *Manager) Clear(ctx context.Context, quizID string) error {
	if err := m.store.Delete(ctx, store.CollectionSnapshots, quizID); err != nil {
		return err
	}
	return m.store.Delete(ctx, store.CollectionSnapshotIndex, quizID)
}

// ListIncomplete returns the index entry for one quiz, if present and fresh.
// Listing across quizzes is keyed per quiz because LocalStore has no scan;
// callers pass the quiz ids they show in the UI.
func (m *Manager) ListIncomplete(ctx context.Context, quizIDs []string) ([]domain.SnapshotIndexEntry, error) {
	entries := make([]domain.SnapshotIndexEntry, 0, len(quizIDs))
	for _, quizID := range quizIDs {
		raw, err := m.store.Get(ctx, store.CollectionSnapshotIndex, quizID)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry domain.SnapshotIndexEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if m.clock().Sub(entry.LastSavedAt) > m.ttl {
			_ = m.Clear(ctx, quizID)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
