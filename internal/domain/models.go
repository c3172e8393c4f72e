package domain

import (
	"sort"
	"strings"
	"time"
)

// AttemptStatus is the closed set of states an attempt session moves through.
// Statuses only move forward, except Reviewing which may return to InProgress.
type AttemptStatus string

const (
	StatusNotStarted AttemptStatus = "notStarted"
	StatusInProgress AttemptStatus = "inProgress"
	StatusReviewing  AttemptStatus = "reviewing"
	StatusSubmitting AttemptStatus = "submitting"
	StatusCompleted  AttemptStatus = "completed"
)

// ParseAttemptStatus normalizes external status strings once, at the boundary.
func ParseAttemptStatus(raw string) (AttemptStatus, bool) {
	status := AttemptStatus(strings.TrimSpace(raw))
	switch status {
	case StatusNotStarted, StatusInProgress, StatusReviewing, StatusSubmitting, StatusCompleted:
		return status, true
	}
	return "", false
}

// Option is one selectable answer; text, image, or both.
type Option struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Question is read-only quiz content. Correctness data is never present
// during an active attempt; it is revealed only in the graded result.
type Question struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Options  []Option `json:"options"`
	Multi    bool     `json:"multi"`
	Order    int      `json:"order"`
}

// QuizInfo is the metadata-only preview of a quiz.
type QuizInfo struct {
	QuizID           string `json:"quizId"`
	Title            string `json:"title"`
	QuestionCount    int    `json:"questionCount"`
	TimeLimitMinutes int    `json:"timeLimitMinutes"`
}

// AttemptStart is what the remote service returns when an attempt begins.
type AttemptStart struct {
	AttemptID        string     `json:"attemptId"`
	QuizID           string     `json:"quizId"`
	Title            string     `json:"title"`
	TimeLimitMinutes int        `json:"timeLimitMinutes"`
	Questions        []Question `json:"questions"`
}

// AnswerSelection holds the current choice for one question. SelectedIndexes
// is nil for single-answer questions and sorted ascending for multi-answer.
type AnswerSelection struct {
	QuestionID      string `json:"questionId"`
	SelectedIndex   int    `json:"selectedIndex"`
	SelectedIndexes []int  `json:"selectedIndexes,omitempty"`
}

// IsMulti reports whether this selection is the multi-answer variant.
func (a AnswerSelection) IsMulti() bool { return a.SelectedIndexes != nil }

// ToggleIndex flips membership of index in a multi-answer selection and keeps
// the set sorted so equal selections serialize identically.
func (a AnswerSelection) ToggleIndex(index int) AnswerSelection {
	out := make([]int, 0, len(a.SelectedIndexes)+1)
	removed := false
	for _, v := range a.SelectedIndexes {
		if v == index {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if !removed {
		out = append(out, index)
		sort.Ints(out)
	}
	a.SelectedIndexes = out
	return a
}

// ProgressSnapshot is the durable serialization of an in-progress attempt,
// keyed by quiz id. One snapshot per quiz at a time.
type ProgressSnapshot struct {
	QuizID               string                     `json:"quizId"`
	Title                string                     `json:"title"`
	TotalQuestions       int                        `json:"totalQuestions"`
	Cursor               int                        `json:"cursor"`
	Answers              map[string]AnswerSelection `json:"answers"`
	Flags                []string                   `json:"flags"`
	TimeRemainingSeconds int                        `json:"timeRemainingSeconds"`
	InitialLimitSeconds  int                        `json:"initialLimitSeconds"`
	StartedAt            time.Time                  `json:"startedAt"`
	LastSavedAt          time.Time                  `json:"lastSavedAt"`
}

// SnapshotIndexEntry is the lightweight record used to list incomplete quizzes.
type SnapshotIndexEntry struct {
	QuizID      string    `json:"quizId"`
	Title       string    `json:"title"`
	Answered    int       `json:"answered"`
	Total       int       `json:"total"`
	LastSavedAt time.Time `json:"lastSavedAt"`
}

// OutboxAnswer is a queued answer submission awaiting remote delivery.
type OutboxAnswer struct {
	AttemptID       string    `json:"attemptId"`
	QuestionID      string    `json:"questionId"`
	SelectedIndex   int       `json:"selectedIndex"`
	SelectedIndexes []int     `json:"selectedIndexes,omitempty"`
	QueuedAt        time.Time `json:"queuedAt"`
}

// OutboxCompletion is a queued completion submission awaiting remote delivery.
type OutboxCompletion struct {
	AttemptID        string    `json:"attemptId"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	QueuedAt         time.Time `json:"queuedAt"`
}

// GradedQuestion is revealed correctness for one question after completion.
type GradedQuestion struct {
	ID              string `json:"id"`
	CorrectIndex    int    `json:"correctIndex"`
	CorrectIndexes  []int  `json:"correctIndexes,omitempty"`
	SelectedIndex   int    `json:"selectedIndex"`
	SelectedIndexes []int  `json:"selectedIndexes,omitempty"`
	Correct         bool   `json:"correct"`
	Explanation     string `json:"explanation,omitempty"`
}

// AttemptResult is the graded outcome of a completed attempt. Pending is set
// when the completion was queued offline and grading is not yet confirmed.
type AttemptResult struct {
	Score          int              `json:"score"`
	CorrectAnswers int              `json:"correctAnswers"`
	TotalQuestions int              `json:"totalQuestions"`
	Questions      []GradedQuestion `json:"questions,omitempty"`
	Pending        bool             `json:"pending"`
}

// QuickQuizParams configures a quick-quiz attempt assembled by the remote
// service from user-chosen parameters instead of a predefined quiz.
type QuickQuizParams struct {
	Grade            string `json:"grade"`
	Medium           string `json:"medium"`
	Subject          string `json:"subject"`
	QuestionCount    int    `json:"questionCount"`
	TimeLimitMinutes int    `json:"timeLimitMinutes"`
	SourceFilter     string `json:"sourceFilter,omitempty"`
}

// ListingFilter selects a quiz listing by audience parameters.
type ListingFilter struct {
	Grade   string `json:"grade"`
	Medium  string `json:"medium"`
	Subject string `json:"subject"`
	Type    string `json:"type"`
}

// Signature is the stable cache key for a filter combination.
func (f ListingFilter) Signature() string {
	return strings.Join([]string{f.Grade, f.Medium, f.Subject, f.Type}, "|")
}
