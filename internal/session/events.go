package session

import (
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/outbox"
)

// EventType names the observable state-machine transitions.
type EventType string

const (
	EventStarted        EventType = "started"
	EventAnswerSelected EventType = "answerSelected"
	EventNavigated      EventType = "navigated"
	EventFlagToggled    EventType = "flagToggled"
	EventReviewOpened   EventType = "reviewOpened"
	EventReviewClosed   EventType = "reviewClosed"
	EventWarning        EventType = "warning"
	EventSyncStatus     EventType = "syncStatus"
	EventCompleted      EventType = "completed"
)

// StateView is the read-only slice of session state pushed to the UI layer.
type StateView struct {
	Status               domain.AttemptStatus `json:"status"`
	AttemptID            string               `json:"attemptId"`
	QuizID               string               `json:"quizId"`
	Title                string               `json:"title"`
	Cursor               int                  `json:"cursor"`
	TotalQuestions       int                  `json:"totalQuestions"`
	TimeRemainingSeconds int                  `json:"timeRemainingSeconds"`
	CurrentQuestion      *domain.Question     `json:"currentQuestion,omitempty"`
	Answered             bool                 `json:"answered"`
	Flagged              bool                 `json:"flagged"`
	AnsweredCount        int                  `json:"answeredCount"`
	FlaggedCount         int                  `json:"flaggedCount"`
	Paused               bool                 `json:"paused"`
}

// ReviewItem summarizes one question for the review screen.
type ReviewItem struct {
	Index      int    `json:"index"`
	QuestionID string `json:"questionId"`
	Answered   bool   `json:"answered"`
	Flagged    bool   `json:"flagged"`
}

// Event is one observable change, carrying the state after the change.
type Event struct {
	Type   EventType             `json:"type"`
	State  StateView             `json:"state"`
	Sync   *outbox.SyncState     `json:"sync,omitempty"`
	Result *domain.AttemptResult `json:"result,omitempty"`
}

// Subscribe returns a channel of session events. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := Event{Type: EventStarted, State: s.stateLocked()}
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked fans an event out without blocking on slow subscribers;
// a stale queued event is dropped in favor of the newer one.
func (s *Session) broadcastLocked(event Event) {
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (s *Session) broadcast(eventType EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(Event{Type: eventType, State: s.stateLocked()})
}

func (s *Session) stateLocked() StateView {
	view := StateView{
		Status:               s.status,
		AttemptID:            s.attemptID,
		QuizID:               s.quizID,
		Title:                s.title,
		Cursor:               s.cursor,
		TotalQuestions:       len(s.questions),
		TimeRemainingSeconds: s.timeRemaining,
		AnsweredCount:        len(s.answers),
		FlaggedCount:         len(s.flags),
		Paused:               s.paused,
	}
	if s.cursor >= 0 && s.cursor < len(s.questions) {
		question := s.questions[s.cursor]
		view.CurrentQuestion = &question
		_, view.Answered = s.answers[question.ID]
		_, view.Flagged = s.flags[question.ID]
	}
	return view
}

// State returns the current state view.
func (s *Session) State() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// ReviewSummary lists answered/flagged status per question in order.
func (s *Session) ReviewSummary() []ReviewItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ReviewItem, len(s.questions))
	for i, question := range s.questions {
		_, answered := s.answers[question.ID]
		_, flagged := s.flags[question.ID]
		items[i] = ReviewItem{Index: i, QuestionID: question.ID, Answered: answered, Flagged: flagged}
	}
	return items
}

// NotifySyncState forwards outbox backlog changes to subscribers.
func (s *Session) NotifySyncState(state outbox.SyncState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(Event{Type: EventSyncStatus, State: s.stateLocked(), Sync: &state})
}
