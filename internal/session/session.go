// Package session implements the attempt session state machine: the single
// controller that owns the question cursor, answer state, countdown, review
// and submission flow for one quiz attempt, and decides when to persist,
// resume, and force-submit.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/outbox"
	"quiz-attempt-engine/internal/snapshot"
	"quiz-attempt-engine/internal/timing"
)

// Starter is the remote side of attempt creation.
type Starter interface {
	StartAttempt(ctx context.Context, quizID string) (domain.AttemptStart, error)
	StartQuickAttempt(ctx context.Context, params domain.QuickQuizParams) (domain.AttemptStart, error)
}

// StartParams selects the attempt variant. Quick takes precedence over
// QuizID; Resume restores local answer state against a fresh attempt.
type StartParams struct {
	QuizID string
	Resume bool
	Quick  *domain.QuickQuizParams
}

const defaultInflightLimit = 8

// DefaultSaveInterval is the periodic snapshot cadence while in progress.
const DefaultSaveInterval = 30 * time.Second

type Session struct {
	starter   Starter
	outbox    *outbox.Engine
	snapshots *snapshot.Manager
	clock     func() time.Time

	mu            sync.Mutex
	attemptID     string
	quizID        string
	title         string
	questions     []domain.Question
	cursor        int
	answers       map[string]domain.AnswerSelection
	flags         map[string]struct{}
	timeRemaining int
	initialLimit  int
	startedAt     time.Time
	status        domain.AttemptStatus
	paused        bool
	result        *domain.AttemptResult
	subscribers   map[chan Event]struct{}

	// inflight tracks fire-and-forget answer dispatches; it is waited on
	// exactly once, at the Submitting transition.
	inflight *errgroup.Group

	controller   *timing.Controller
	cues         timing.Cues
	tickInterval time.Duration
	saveInterval time.Duration
	saveStop     chan struct{}
	saveDone     chan struct{}

	saveStarted  bool
	saveStopOnce sync.Once
	teardownOnce sync.Once
}

type Option func(*Session)

// WithClock makes timestamps deterministic in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithCues wires the feedback side channel.
func WithCues(cues timing.Cues) Option {
	return func(s *Session) { s.cues = cues }
}

// WithTickInterval overrides the one-second countdown tick, for tests.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Session) { s.tickInterval = interval }
}

// WithSaveInterval overrides the periodic snapshot cadence.
func WithSaveInterval(interval time.Duration) Option {
	return func(s *Session) { s.saveInterval = interval }
}

func New(starter Starter, engine *outbox.Engine, snapshots *snapshot.Manager, opts ...Option) *Session {
	s := &Session{
		starter:      starter,
		outbox:       engine,
		snapshots:    snapshots,
		clock:        time.Now,
		status:       domain.StatusNotStarted,
		answers:      make(map[string]domain.AnswerSelection),
		flags:        make(map[string]struct{}),
		subscribers:  make(map[chan Event]struct{}),
		cues:         timing.NopCues{},
		tickInterval: time.Second,
		saveInterval: DefaultSaveInterval,
		saveStop:     make(chan struct{}),
		saveDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inflight = &errgroup.Group{}
	s.inflight.SetLimit(defaultInflightLimit)
	return s
}

// Start transitions NotStarted to InProgress. On failure no local state is
// retained and the caller must retry explicitly.
func (s *Session) Start(ctx context.Context, params StartParams) error {
	s.mu.Lock()
	if s.status != domain.StatusNotStarted {
		s.mu.Unlock()
		return domain.ErrSessionActive
	}
	s.mu.Unlock()

	var saved domain.ProgressSnapshot
	restored := false
	if params.Resume && params.QuizID != "" {
		snap, ok, err := s.snapshots.Load(ctx, params.QuizID)
		if err == nil && ok {
			saved = snap
			restored = true
		}
	} else if params.QuizID != "" {
		// Starting fresh discards any leftover snapshot for this quiz.
		_ = s.snapshots.Clear(ctx, params.QuizID)
	}

	var start domain.AttemptStart
	var err error
	if params.Quick != nil {
		start, err = s.starter.StartQuickAttempt(ctx, *params.Quick)
	} else {
		start, err = s.starter.StartAttempt(ctx, params.QuizID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSessionStart, err)
	}

	questions := make([]domain.Question, len(start.Questions))
	copy(questions, start.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })

	quizID := start.QuizID
	if quizID == "" {
		quizID = params.QuizID
	}

	s.mu.Lock()
	s.attemptID = start.AttemptID
	s.quizID = quizID
	s.title = start.Title
	s.questions = questions
	s.cursor = 0
	s.initialLimit = start.TimeLimitMinutes * 60
	s.timeRemaining = s.initialLimit
	s.startedAt = s.clock()
	s.status = domain.StatusInProgress

	var replay []domain.AnswerSelection
	if restored {
		replay = s.reconcileLocked(saved)
	}
	s.broadcastLocked(Event{Type: EventStarted, State: s.stateLocked()})
	s.mu.Unlock()

	for _, selection := range replay {
		s.dispatch(start.AttemptID, selection)
	}

	s.controller = timing.NewController(s, &eventCues{session: s, inner: s.cues}, s.initialLimit, timing.WithInterval(s.tickInterval))
	go s.controller.Run()
	go s.runSnapshotLoop()
	return nil
}

// reconcileLocked restores saved answer state against the fresh question set:
// entries referencing vanished questions are dropped, the cursor is clamped,
// and remaining time never exceeds the new limit. It returns the surviving
// selections in question order for replay under the new attempt id.
func (s *Session) reconcileLocked(saved domain.ProgressSnapshot) []domain.AnswerSelection {
	valid := make(map[string]int, len(s.questions))
	for i, question := range s.questions {
		valid[question.ID] = i
	}

	for questionID, selection := range saved.Answers {
		if _, ok := valid[questionID]; !ok {
			continue
		}
		selection.QuestionID = questionID
		s.answers[questionID] = selection
	}
	for _, questionID := range saved.Flags {
		if _, ok := valid[questionID]; ok {
			s.flags[questionID] = struct{}{}
		}
	}

	s.cursor = saved.Cursor
	if s.cursor >= len(s.questions) {
		s.cursor = len(s.questions) - 1
	}
	if s.cursor < 0 {
		s.cursor = 0
	}
	if saved.TimeRemainingSeconds < s.timeRemaining {
		s.timeRemaining = saved.TimeRemainingSeconds
	}

	replay := make([]domain.AnswerSelection, 0, len(s.answers))
	for _, selection := range s.answers {
		replay = append(replay, selection)
	}
	sort.Slice(replay, func(i, j int) bool { return valid[replay[i].QuestionID] < valid[replay[j].QuestionID] })
	return replay
}

// SelectAnswer records the choice for the current single-answer question.
// Repeated calls overwrite; each call dispatches without blocking the caller.
func (s *Session) SelectAnswer(index int) error {
	s.mu.Lock()
	question, err := s.currentMutableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if question.Multi {
		s.mu.Unlock()
		return domain.ErrNotMultiAnswer
	}
	if index < 0 || index >= len(question.Options) {
		s.mu.Unlock()
		return domain.ErrOptionOutOfRange
	}
	selection := domain.AnswerSelection{QuestionID: question.ID, SelectedIndex: index}
	s.answers[question.ID] = selection
	attemptID := s.attemptID
	s.broadcastLocked(Event{Type: EventAnswerSelected, State: s.stateLocked()})
	s.mu.Unlock()

	s.controller.AnswerSelected()
	s.dispatch(attemptID, selection)
	return nil
}

// ToggleMultiAnswer flips one option of the current multi-answer question and
// dispatches the full updated set.
func (s *Session) ToggleMultiAnswer(index int) error {
	s.mu.Lock()
	question, err := s.currentMutableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !question.Multi {
		s.mu.Unlock()
		return domain.ErrNotMultiAnswer
	}
	if index < 0 || index >= len(question.Options) {
		s.mu.Unlock()
		return domain.ErrOptionOutOfRange
	}

	selection, ok := s.answers[question.ID]
	if !ok {
		selection = domain.AnswerSelection{QuestionID: question.ID, SelectedIndexes: []int{}}
	}
	selection = selection.ToggleIndex(index)
	if len(selection.SelectedIndexes) == 0 {
		// Empty set means unanswered locally; the remote still receives the
		// update so its recorded answer is cleared.
		delete(s.answers, question.ID)
	} else {
		s.answers[question.ID] = selection
	}
	attemptID := s.attemptID
	s.broadcastLocked(Event{Type: EventAnswerSelected, State: s.stateLocked()})
	s.mu.Unlock()

	s.controller.AnswerSelected()
	s.dispatch(attemptID, selection)
	return nil
}

// Navigate moves the cursor by delta, clamped to bounds.
func (s *Session) Navigate(delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.ErrSessionNotStarted
	}
	s.cursor = clamp(s.cursor+delta, 0, len(s.questions)-1)
	s.broadcastLocked(Event{Type: EventNavigated, State: s.stateLocked()})
	return nil
}

// NavigateTo jumps the cursor to an absolute index, clamped to bounds.
func (s *Session) NavigateTo(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.ErrSessionNotStarted
	}
	s.cursor = clamp(index, 0, len(s.questions)-1)
	s.broadcastLocked(Event{Type: EventNavigated, State: s.stateLocked()})
	return nil
}

// ToggleFlag marks or unmarks the current question for review. Advisory only.
func (s *Session) ToggleFlag() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	question, err := s.currentMutableLocked()
	if err != nil {
		return err
	}
	if _, ok := s.flags[question.ID]; ok {
		delete(s.flags, question.ID)
	} else {
		s.flags[question.ID] = struct{}{}
	}
	s.broadcastLocked(Event{Type: EventFlagToggled, State: s.stateLocked()})
	return nil
}

// RequestReview freezes navigation into the review summary. The countdown
// keeps running.
func (s *Session) RequestReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.ErrSessionNotStarted
	}
	s.status = domain.StatusReviewing
	s.broadcastLocked(Event{Type: EventReviewOpened, State: s.stateLocked()})
	return nil
}

// ResumeFromReview returns to the quiz view, optionally jumping to a chosen
// question.
func (s *Session) ResumeFromReview(jumpTo *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusReviewing {
		return domain.ErrSessionNotStarted
	}
	s.status = domain.StatusInProgress
	if jumpTo != nil {
		s.cursor = clamp(*jumpTo, 0, len(s.questions)-1)
	}
	s.broadcastLocked(Event{Type: EventReviewClosed, State: s.stateLocked()})
	return nil
}

// TogglePause flips the manual countdown pause.
func (s *Session) TogglePause() bool {
	paused := s.controller.TogglePause()
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	return paused
}

// ConfirmSubmit finalizes the attempt from InProgress or Reviewing.
func (s *Session) ConfirmSubmit(ctx context.Context) error {
	return s.submit(ctx)
}

// ForceSubmit is the timer-expiry edge: submission without confirmation,
// regardless of unanswered questions. Invoked by the timing controller.
func (s *Session) ForceSubmit() {
	_ = s.submit(context.Background())
}

// Tick implements timing.Countdown. Time only decrements while the attempt
// is answerable (InProgress or Reviewing).
func (s *Session) Tick() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress && s.status != domain.StatusReviewing {
		return s.timeRemaining, false
	}
	if s.timeRemaining > 0 {
		s.timeRemaining--
	}
	return s.timeRemaining, true
}

// submit stops the countdown, joins all outstanding answer dispatches, then
// submits completion. Completion failure still completes the session with a
// pending-results placeholder; the user is never blocked on an error screen.
func (s *Session) submit(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case domain.StatusInProgress, domain.StatusReviewing:
	case domain.StatusSubmitting, domain.StatusCompleted:
		// Forced submit and user submit can race; the second call is a no-op.
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return domain.ErrSessionNotStarted
	}
	s.status = domain.StatusSubmitting
	attemptID := s.attemptID
	quizID := s.quizID
	timeSpent := s.timeSpentLocked()
	s.mu.Unlock()

	s.stopSaveLoop()
	s.controller.Stop()

	// Final submission must not race in-flight answer writes.
	_ = s.inflight.Wait()

	result, _ := s.outbox.SubmitCompletion(ctx, attemptID, timeSpent)
	_ = s.snapshots.Clear(ctx, quizID)

	s.mu.Lock()
	s.status = domain.StatusCompleted
	s.result = &result
	s.broadcastLocked(Event{Type: EventCompleted, State: s.stateLocked(), Result: &result})
	s.mu.Unlock()

	s.controller.Completed()
	return nil
}

// timeSpentLocked computes elapsed seconds from the wall clock, falling back
// to limit minus remaining when the start timestamp is unavailable, floored
// at one second for any started attempt.
func (s *Session) timeSpentLocked() int {
	spent := 0
	if !s.startedAt.IsZero() {
		spent = int(s.clock().Sub(s.startedAt).Seconds())
	} else {
		spent = s.initialLimit - s.timeRemaining
	}
	if spent < 1 {
		spent = 1
	}
	return spent
}

// Result returns the graded outcome once the session is Completed.
func (s *Session) Result() (domain.AttemptResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.AttemptResult{}, false
	}
	return *s.result, true
}

// SaveNow persists the snapshot synchronously; the gateway calls this on
// page-unload and visibility loss.
func (s *Session) SaveNow(ctx context.Context) error {
	s.mu.Lock()
	if s.status != domain.StatusInProgress && s.status != domain.StatusReviewing {
		s.mu.Unlock()
		return nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return s.snapshots.Save(ctx, snap)
}

// Teardown releases timers and subscriptions when the owning view goes away.
// The snapshot on disk remains valid for resume.
func (s *Session) Teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		_ = s.SaveNow(ctx)
		s.stopSaveLoop()
		if s.controller != nil {
			s.controller.Stop()
		}
		s.mu.Lock()
		for ch := range s.subscribers {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	})
}

// SetMuted controls the feedback cue side channel.
func (s *Session) SetMuted(muted bool) {
	if s.controller != nil {
		s.controller.SetMuted(muted)
	}
}

func (s *Session) snapshotLocked() domain.ProgressSnapshot {
	answers := make(map[string]domain.AnswerSelection, len(s.answers))
	for questionID, selection := range s.answers {
		answers[questionID] = selection
	}
	flags := make([]string, 0, len(s.flags))
	for questionID := range s.flags {
		flags = append(flags, questionID)
	}
	sort.Strings(flags)
	return domain.ProgressSnapshot{
		QuizID:               s.quizID,
		Title:                s.title,
		TotalQuestions:       len(s.questions),
		Cursor:               s.cursor,
		Answers:              answers,
		Flags:                flags,
		TimeRemainingSeconds: s.timeRemaining,
		InitialLimitSeconds:  s.initialLimit,
		StartedAt:            s.startedAt,
	}
}

func (s *Session) runSnapshotLoop() {
	s.mu.Lock()
	s.saveStarted = true
	s.mu.Unlock()

	defer close(s.saveDone)
	ticker := time.NewTicker(s.saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.saveStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.status != domain.StatusInProgress {
				s.mu.Unlock()
				continue
			}
			snap := s.snapshotLocked()
			s.mu.Unlock()
			_ = s.snapshots.Save(context.Background(), snap)
		}
	}
}

func (s *Session) stopSaveLoop() {
	s.saveStopOnce.Do(func() { close(s.saveStop) })
	s.mu.Lock()
	started := s.saveStarted
	s.mu.Unlock()
	if started {
		<-s.saveDone
	}
}

// dispatch hands a selection to the outbox on the in-flight group; the UI
// never awaits delivery.
func (s *Session) dispatch(attemptID string, selection domain.AnswerSelection) {
	s.inflight.Go(func() error {
		s.outbox.SubmitAnswer(context.Background(), attemptID, selection.QuestionID, selection.SelectedIndex, selection.SelectedIndexes)
		return nil
	})
}

func (s *Session) currentMutableLocked() (domain.Question, error) {
	switch s.status {
	case domain.StatusInProgress:
	case domain.StatusNotStarted:
		return domain.Question{}, domain.ErrSessionNotStarted
	case domain.StatusCompleted:
		return domain.Question{}, domain.ErrSessionCompleted
	default:
		return domain.Question{}, domain.ErrSessionNotStarted
	}
	if s.cursor < 0 || s.cursor >= len(s.questions) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return s.questions[s.cursor], nil
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// eventCues layers the warning broadcast on top of the configured cues.
type eventCues struct {
	session *Session
	inner   timing.Cues
}

func (c *eventCues) Click() { c.inner.Click() }

func (c *eventCues) Warning() {
	c.session.broadcast(EventWarning)
	c.inner.Warning()
}

func (c *eventCues) Completion() { c.inner.Completion() }
