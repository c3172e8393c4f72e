package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/store/memory"
	"quiz-attempt-engine/internal/store/sqlite"
)

type answerCall struct {
	questionID    string
	selectedIndex int
}

type fakeRemote struct {
	online      bool
	failOn      map[string]bool
	answers     []answerCall
	completions []string
}

func (r *fakeRemote) SubmitAnswer(_ context.Context, _, questionID string, selectedIndex int, _ []int) error {
	if !r.online || r.failOn[questionID] {
		return errors.New("network down")
	}
	r.answers = append(r.answers, answerCall{questionID: questionID, selectedIndex: selectedIndex})
	return nil
}

func (r *fakeRemote) CompleteAttempt(_ context.Context, attemptID string, _ int) (domain.AttemptResult, error) {
	if !r.online {
		return domain.AttemptResult{}, errors.New("network down")
	}
	r.completions = append(r.completions, attemptID)
	return domain.AttemptResult{Score: 80, TotalQuestions: 10}, nil
}

func TestSubmitAnswerQueuesOnFailure(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{online: false}
	engine := NewEngine(memory.NewStore(), remote)

	engine.SubmitAnswer(ctx, "a-1", "q1", 0, nil)
	engine.SubmitAnswer(ctx, "a-1", "q1", 1, nil)

	state := engine.Pending(ctx)
	// No coalescing: both selections queue, last-write-wins at the remote.
	if state.PendingAnswers != 2 {
		t.Fatalf("expected both entries queued, got %d", state.PendingAnswers)
	}

	remote.online = true
	if err := engine.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(remote.answers) != 2 {
		t.Fatalf("expected 2 replayed calls, got %d", len(remote.answers))
	}
	if remote.answers[1].selectedIndex != 1 {
		t.Fatalf("expected final applied value 1, got %d", remote.answers[1].selectedIndex)
	}
	if !engine.Pending(ctx).Synced {
		t.Fatalf("expected queue drained")
	}
}

func TestFlushStopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{online: false}
	engine := NewEngine(memory.NewStore(), remote)

	engine.SubmitAnswer(ctx, "a-1", "q1", 0, nil)
	engine.SubmitAnswer(ctx, "a-1", "q2", 1, nil)
	engine.SubmitAnswer(ctx, "a-1", "q3", 2, nil)

	remote.online = true
	remote.failOn = map[string]bool{"q2": true}
	if err := engine.FlushPending(ctx); err == nil {
		t.Fatalf("expected flush error on q2")
	}

	if len(remote.answers) != 1 || remote.answers[0].questionID != "q1" {
		t.Fatalf("expected only q1 delivered, got %+v", remote.answers)
	}
	state := engine.Pending(ctx)
	if state.PendingAnswers != 2 {
		t.Fatalf("expected q2 and q3 still pending, got %d", state.PendingAnswers)
	}

	// Next flush after the failure clears picks up where it stopped.
	remote.failOn = nil
	if err := engine.FlushPending(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(remote.answers) != 3 || remote.answers[1].questionID != "q2" || remote.answers[2].questionID != "q3" {
		t.Fatalf("expected q2 then q3 delivered, got %+v", remote.answers)
	}
}

func TestCompletionsFlushAfterAnswers(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{online: false}
	engine := NewEngine(memory.NewStore(), remote)

	engine.SubmitAnswer(ctx, "a-1", "q1", 0, nil)
	result, delivered := engine.SubmitCompletion(ctx, "a-1", 120)
	if delivered {
		t.Fatalf("expected queued completion")
	}
	if !result.Pending {
		t.Fatalf("expected pending placeholder result")
	}

	remote.online = true
	if err := engine.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(remote.answers) != 1 || len(remote.completions) != 1 {
		t.Fatalf("expected answer and completion delivered, got %d/%d", len(remote.answers), len(remote.completions))
	}
}

func TestSubmitCompletionReturnsResultWhenOnline(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{online: true}
	engine := NewEngine(memory.NewStore(), remote)

	result, delivered := engine.SubmitCompletion(ctx, "a-1", 90)
	if !delivered {
		t.Fatalf("expected synchronous delivery")
	}
	if result.Pending || result.Score != 80 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestListenerObservesBacklog(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{online: false}
	var states []SyncState
	engine := NewEngine(memory.NewStore(), remote, WithListener(func(s SyncState) {
		states = append(states, s)
	}))

	engine.SubmitAnswer(ctx, "a-1", "q1", 0, nil)
	if len(states) == 0 || states[len(states)-1].PendingAnswers != 1 {
		t.Fatalf("expected listener to see 1 pending answer, got %+v", states)
	}

	remote.online = true
	if err := engine.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !states[len(states)-1].Synced {
		t.Fatalf("expected synced notification after drain, got %+v", states[len(states)-1])
	}
}

func TestDurableStoreFailureDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	durable, err := sqlite.Open(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	_ = durable.Close()

	remote := &fakeRemote{online: false}
	engine := NewEngine(durable, remote)

	engine.SubmitAnswer(ctx, "attempt-1", "q1", 2, nil)

	if !engine.Degraded() {
		t.Fatalf("expected degraded queueing after storage failure")
	}
	state := engine.Pending(ctx)
	if state.PendingAnswers != 1 || state.Synced {
		t.Fatalf("expected the answer held in the fallback queue, got %+v", state)
	}

	// The fallback queue still drains once connectivity returns.
	remote.online = true
	if err := engine.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(remote.answers) != 1 || remote.answers[0].questionID != "q1" {
		t.Fatalf("expected queued answer delivered, got %+v", remote.answers)
	}
}
