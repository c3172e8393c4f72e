// Package outbox guarantees answer and completion submissions are eventually
// delivered to the remote grading service despite network interruption:
// immediate delivery when possible, durable queueing otherwise, ordered
// replay on flush.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/store"
	"quiz-attempt-engine/internal/store/memory"
)

// Submitter is the remote side of the engine.
type Submitter interface {
	SubmitAnswer(ctx context.Context, attemptID, questionID string, selectedIndex int, selectedIndexes []int) error
	CompleteAttempt(ctx context.Context, attemptID string, timeSpentSeconds int) (domain.AttemptResult, error)
}

// SyncState describes the queue backlog after a change.
type SyncState struct {
	PendingAnswers     int
	PendingCompletions int
	Synced             bool
}

// SyncListener observes backlog changes. Calls arrive on engine goroutines
// and must not block.
type SyncListener func(SyncState)

type Engine struct {
	remote Submitter
	clock  func() time.Time

	mu       sync.Mutex
	listener SyncListener
	queue    store.LocalStore
	degraded bool
	flushing sync.Mutex
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithListener(listener SyncListener) Option {
	return func(e *Engine) { e.listener = listener }
}

func NewEngine(queue store.LocalStore, remote Submitter, opts ...Option) *Engine {
	e := &Engine{remote: remote, clock: time.Now, queue: queue}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitAnswer attempts immediate delivery and queues on any failure. It
// reports success to the caller either way: the UI never blocks progression
// on submission confirmation.
func (e *Engine) SubmitAnswer(ctx context.Context, attemptID, questionID string, selectedIndex int, selectedIndexes []int) {
	if err := e.remote.SubmitAnswer(ctx, attemptID, questionID, selectedIndex, selectedIndexes); err == nil {
		return
	}
	entry := domain.OutboxAnswer{
		AttemptID:       attemptID,
		QuestionID:      questionID,
		SelectedIndex:   selectedIndex,
		SelectedIndexes: selectedIndexes,
		QueuedAt:        e.clock(),
	}
	e.enqueue(ctx, store.OutboxAnswers, entry)
	e.notify(ctx)
}

// SubmitCompletion attempts immediate delivery; delivered=false means the
// completion was queued and the result is a pending placeholder.
func (e *Engine) SubmitCompletion(ctx context.Context, attemptID string, timeSpentSeconds int) (domain.AttemptResult, bool) {
	result, err := e.remote.CompleteAttempt(ctx, attemptID, timeSpentSeconds)
	if err == nil {
		return result, true
	}
	entry := domain.OutboxCompletion{
		AttemptID:        attemptID,
		TimeSpentSeconds: timeSpentSeconds,
		QueuedAt:         e.clock(),
	}
	e.enqueue(ctx, store.OutboxCompletions, entry)
	e.notify(ctx)
	return domain.AttemptResult{Pending: true}, false
}

// FlushPending replays the answer queue, then the completion queue, in
// insertion order. Any single-entry failure stops that queue's cycle so a
// later answer is never applied before an earlier one.
func (e *Engine) FlushPending(ctx context.Context) error {
	e.flushing.Lock()
	defer e.flushing.Unlock()

	if err := e.flushAnswers(ctx); err != nil {
		e.notify(ctx)
		return err
	}
	if err := e.flushCompletions(ctx); err != nil {
		e.notify(ctx)
		return err
	}
	e.notify(ctx)
	return nil
}

func (e *Engine) flushAnswers(ctx context.Context) error {
	entries, err := e.store().ListAll(ctx, store.OutboxAnswers)
	if err != nil {
		return err
	}
	for _, queued := range entries {
		var entry domain.OutboxAnswer
		if err := json.Unmarshal(queued.Data, &entry); err != nil {
			// Unreadable entry cannot ever succeed; drop it rather than wedge the queue.
			_ = e.store().RemoveBySeq(ctx, store.OutboxAnswers, queued.Seq)
			continue
		}
		if err := e.remote.SubmitAnswer(ctx, entry.AttemptID, entry.QuestionID, entry.SelectedIndex, entry.SelectedIndexes); err != nil {
			return fmt.Errorf("flush answer %s: %w", entry.QuestionID, err)
		}
		if err := e.store().RemoveBySeq(ctx, store.OutboxAnswers, queued.Seq); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) flushCompletions(ctx context.Context) error {
	entries, err := e.store().ListAll(ctx, store.OutboxCompletions)
	if err != nil {
		return err
	}
	for _, queued := range entries {
		var entry domain.OutboxCompletion
		if err := json.Unmarshal(queued.Data, &entry); err != nil {
			_ = e.store().RemoveBySeq(ctx, store.OutboxCompletions, queued.Seq)
			continue
		}
		if _, err := e.remote.CompleteAttempt(ctx, entry.AttemptID, entry.TimeSpentSeconds); err != nil {
			return fmt.Errorf("flush completion %s: %w", entry.AttemptID, err)
		}
		if err := e.store().RemoveBySeq(ctx, store.OutboxCompletions, queued.Seq); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports the current backlog.
func (e *Engine) Pending(ctx context.Context) SyncState {
	answers, _ := e.store().ListAll(ctx, store.OutboxAnswers)
	completions, _ := e.store().ListAll(ctx, store.OutboxCompletions)
	return SyncState{
		PendingAnswers:     len(answers),
		PendingCompletions: len(completions),
		Synced:             len(answers) == 0 && len(completions) == 0,
	}
}

// Degraded reports whether durable queueing was lost for this session.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

func (e *Engine) enqueue(ctx context.Context, outbox string, entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("outbox: marshal entry: %v", err)
		return
	}
	if _, err := e.store().Enqueue(ctx, outbox, data); err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			e.degrade()
			if _, err := e.store().Enqueue(ctx, outbox, data); err != nil {
				log.Printf("outbox: enqueue after degrade: %v", err)
			}
			return
		}
		log.Printf("outbox: enqueue: %v", err)
	}
}

// degrade swaps the durable queue for an in-memory one for the remainder of
// the session. Queued entries already on disk stay there for a later run.
func (e *Engine) degrade() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.degraded {
		return
	}
	log.Printf("outbox: storage unavailable, queueing in memory for this session")
	e.degraded = true
	e.queue = memory.NewStore()
}

func (e *Engine) store() store.LocalStore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}

// SetListener installs (or replaces) the backlog observer. The facade binds
// itself here after construction so queue growth is pushed to live sessions.
func (e *Engine) SetListener(listener SyncListener) {
	e.mu.Lock()
	e.listener = listener
	e.mu.Unlock()
}

func (e *Engine) notify(ctx context.Context) {
	e.mu.Lock()
	listener := e.listener
	e.mu.Unlock()
	if listener == nil {
		return
	}
	listener(e.Pending(ctx))
}
