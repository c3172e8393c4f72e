package app

import (
	"context"
	"sync"

	"quiz-attempt-engine/internal/content"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/outbox"
	"quiz-attempt-engine/internal/session"
	"quiz-attempt-engine/internal/snapshot"
)

// Service wires the attempt components together and tracks the live sessions.
// At most one live session exists per quiz at a time.
type Service struct {
	starter   session.Starter
	engine    *outbox.Engine
	snapshots *snapshot.Manager
	cache     *content.Cache
	opts      []session.Option

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewService(starter session.Starter, engine *outbox.Engine, snapshots *snapshot.Manager, cache *content.Cache, opts ...session.Option) *Service {
	s := &Service{
		starter:   starter,
		engine:    engine,
		snapshots: snapshots,
		cache:     cache,
		opts:      opts,
		sessions:  make(map[string]*session.Session),
	}
	// Queue growth must reach the UI as it happens, not only after a flush.
	engine.SetListener(s.broadcastSyncState)
	return s
}

// broadcastSyncState pushes an outbox backlog change to every live session.
func (s *Service) broadcastSyncState(state outbox.SyncState) {
	s.mu.Lock()
	live := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.NotifySyncState(state)
	}
}

// StartSession begins a new or resumed attempt for a quiz. A second start for
// a quiz whose session is still live fails with ErrSessionActive.
func (s *Service) StartSession(ctx context.Context, params session.StartParams) (*session.Session, error) {
	key := params.QuizID
	if params.Quick != nil {
		key = "quick"
	}

	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		status := existing.State().Status
		if status == domain.StatusInProgress || status == domain.StatusReviewing || status == domain.StatusSubmitting {
			s.mu.Unlock()
			return nil, domain.ErrSessionActive
		}
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	sess := session.New(s.starter, s.engine, s.snapshots, s.opts...)
	if err := sess.Start(ctx, params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()
	return sess, nil
}

// Session returns the live session for a quiz, if any.
func (s *Service) Session(quizID string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[quizID]
	return sess, ok
}

// EndSession saves progress, tears the session down and forgets it.
func (s *Service) EndSession(ctx context.Context, quizID string) {
	s.mu.Lock()
	sess, ok := s.sessions[quizID]
	delete(s.sessions, quizID)
	s.mu.Unlock()
	if ok {
		sess.Teardown(ctx)
	}
}

// Resumable reports whether a saved snapshot exists for the quiz.
func (s *Service) Resumable(ctx context.Context, quizID string) bool {
	_, ok, err := s.snapshots.Load(ctx, quizID)
	return err == nil && ok
}

// QuizInfo returns quiz metadata through the read-through content cache.
func (s *Service) QuizInfo(ctx context.Context, quizID string) (domain.QuizInfo, error) {
	return s.cache.QuizInfo(ctx, quizID)
}

// ListQuizzes returns the quiz listing for a filter through the content cache.
func (s *Service) ListQuizzes(ctx context.Context, filter domain.ListingFilter) ([]domain.QuizInfo, error) {
	return s.cache.Listing(ctx, filter)
}

// IncompleteQuizzes lists the quizzes from a listing that have a resumable
// snapshot, newest save first.
func (s *Service) IncompleteQuizzes(ctx context.Context, filter domain.ListingFilter) ([]domain.SnapshotIndexEntry, error) {
	listing, err := s.cache.Listing(ctx, filter)
	if err != nil {
		return nil, err
	}
	quizIDs := make([]string, 0, len(listing))
	for _, quiz := range listing {
		quizIDs = append(quizIDs, quiz.QuizID)
	}
	return s.snapshots.ListIncomplete(ctx, quizIDs)
}

// FlushPending drains the outbox queues and pushes the resulting sync state to
// every live session. Call on startup and whenever connectivity returns.
func (s *Service) FlushPending(ctx context.Context) error {
	err := s.engine.FlushPending(ctx)
	s.broadcastSyncState(s.engine.Pending(ctx))
	return err
}

// SyncState reports the current outbox backlog without flushing.
func (s *Service) SyncState(ctx context.Context) outbox.SyncState {
	return s.engine.Pending(ctx)
}

// Shutdown tears down every live session, saving progress first.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	live := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()

	for _, sess := range live {
		sess.Teardown(ctx)
	}
}
