package domain

import "errors"

var (
	// ErrSessionNotStarted is returned when an operation needs a live attempt.
	ErrSessionNotStarted = errors.New("attempt session not started")
	// ErrSessionCompleted is returned for mutations after completion.
	ErrSessionCompleted = errors.New("attempt session already completed")
	// ErrSessionActive is returned when a second session is started for a quiz.
	ErrSessionActive = errors.New("attempt session already active for quiz")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question ID outside the attempt's set.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionOutOfRange indicates a selected option index outside the question's options.
	ErrOptionOutOfRange = errors.New("option index out of range")
	// ErrNotMultiAnswer is returned when toggling indexes on a single-answer question.
	ErrNotMultiAnswer = errors.New("question is not multi-answer")
	// ErrSessionStart wraps remote start failures; no local state is retained.
	ErrSessionStart = errors.New("attempt start failed")
)
