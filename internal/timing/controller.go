// Package timing drives the attempt countdown and the advisory feedback
// cues. The controller observes the session through the narrow Countdown
// interface and never mutates it except through the single ForceSubmit
// signal on expiry.
package timing

import (
	"log"
	"sync"
	"time"
)

// Countdown is the controller's view of the session.
type Countdown interface {
	// Tick decrements remaining time by one second while the attempt is in
	// progress and returns the remaining seconds.
	Tick() (remaining int, active bool)
	// ForceSubmit is invoked exactly once, when remaining time reaches zero.
	ForceSubmit()
}

// Cues emits the sound/vibration side channel. Implementations are advisory:
// they may do nothing, but they must return quickly.
type Cues interface {
	Click()
	Warning()
	Completion()
}

// NopCues is the silent default.
type NopCues struct{}

func (NopCues) Click()      {}
func (NopCues) Warning()    {}
func (NopCues) Completion() {}

// WarnThreshold returns the remaining-seconds mark at which the warning cue
// fires: 20s for quizzes under five minutes, 60s otherwise.
func WarnThreshold(initialLimitSeconds int) int {
	if initialLimitSeconds < 5*60 {
		return 20
	}
	return 60
}

type Controller struct {
	target    Countdown
	cues      Cues
	interval  time.Duration
	threshold int

	mu     sync.Mutex
	muted  bool
	paused bool
	warned bool

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Controller)

// WithInterval overrides the one-second tick, for tests.
func WithInterval(interval time.Duration) Option {
	return func(c *Controller) { c.interval = interval }
}

func NewController(target Countdown, cues Cues, initialLimitSeconds int, opts ...Option) *Controller {
	if cues == nil {
		cues = NopCues{}
	}
	c := &Controller{
		target:    target,
		cues:      cues,
		interval:  time.Second,
		threshold: WarnThreshold(initialLimitSeconds),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the countdown until expiry or Stop. Call in a goroutine.
func (c *Controller) Run() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.isPaused() {
				continue
			}
			remaining, active := c.target.Tick()
			if !active {
				continue
			}
			c.checkWarning(remaining)
			if remaining <= 0 {
				// ForceSubmit may call back into Stop; run it off this
				// goroutine so Stop can observe Run's exit.
				go c.target.ForceSubmit()
				return
			}
		}
	}
}

// checkWarning fires the warning cue once per continuous threshold crossing.
// The latch re-arms only if remaining time rises back above the threshold.
func (c *Controller) checkWarning(remaining int) {
	c.mu.Lock()
	if remaining > c.threshold {
		c.warned = false
		c.mu.Unlock()
		return
	}
	if c.warned {
		c.mu.Unlock()
		return
	}
	c.warned = true
	c.mu.Unlock()
	c.play(c.cues.Warning)
}

// Stop tears the countdown down; safe to call more than once. When Run is
// active, Stop returns only after the tick loop has exited.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
}

// TogglePause flips the manual pause and reports the new paused state.
func (c *Controller) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = !c.paused
	return c.paused
}

func (c *Controller) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetMuted controls the cue side channel only; timing is unaffected.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// AnswerSelected plays the click cue.
func (c *Controller) AnswerSelected() { c.play(c.cues.Click) }

// Completed plays the completion cue.
func (c *Controller) Completed() { c.play(c.cues.Completion) }

// play isolates cue failures from the state machine.
func (c *Controller) play(cue func()) {
	c.mu.Lock()
	muted := c.muted
	c.mu.Unlock()
	if muted {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("timing: feedback cue panicked: %v", r)
		}
	}()
	cue()
}
