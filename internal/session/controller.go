// Package session runs one test-taker's attempt at an assessment: loading
// or resuming it, buffering answers, autosaving them, enforcing the time
// limit and finalizing exactly once.
//
// All mutable state of a Controller is owned by a single loop goroutine.
// Public methods and timer callbacks post closures onto the loop's queue,
// so transitions never race each other. Persistence calls run outside
// the loop and post their results back.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/answer"
	"github.com/stemsi/exstem-session/internal/model"
)

const (
	DefaultQuietPeriod   = 2 * time.Second
	DefaultConfirmWindow = 60 * time.Second
	DefaultWriteTimeout  = 15 * time.Second

	eventBuffer = 64
	queueBuffer = 32
)

// Deps are the collaborators of a Controller.
type Deps struct {
	Directory Directory
	Store     Store
	// Watcher is optional. When set, closing the assessment force-submits.
	Watcher StatusWatcher
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	Log   zerolog.Logger
}

// Option tunes a Controller.
type Option func(*Controller)

// WithQuietPeriod sets the autosave debounce period.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.quiet = d
		}
	}
}

// WithConfirmWindow sets how long a manual-submit confirmation stays open.
func WithConfirmWindow(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.confirmWindow = d
		}
	}
}

// WithWriteTimeout bounds background autosave and finalize writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// Controller is the state machine of a single attempt.
type Controller struct {
	assessmentID uuid.UUID
	studentID    int

	dir     Directory
	store   Store
	watcher StatusWatcher
	clock   clockwork.Clock

	quiet         time.Duration
	confirmWindow time.Duration
	writeTimeout  time.Duration

	queue     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	events    chan Event
	done      chan struct{}

	// Everything below is owned by the loop goroutine.
	log        zerolog.Logger
	state      State
	errInfo    *ErrorInfo
	busy       bool
	assessment *model.Assessment
	questions  []model.Question
	attempt    *model.Attempt
	buffer     *AnswerBuffer
	current    int
	flags      []bool

	countdown  *Countdown
	tickerStop chan struct{}
	ticker     clockwork.Ticker

	debounce    clockwork.Timer
	debounceGen uint64
	flushing    bool
	flushAgain  bool
	flushDone   chan struct{}
	lastSaved   *time.Time

	confirm      *Confirmation
	confirmTimer clockwork.Timer
	confirmGen   uint64

	watchCancel context.CancelFunc

	reason       *model.SubmitReason
	finalizeDone chan struct{}
	completedID  *uuid.UUID
	terminal     bool
}

// New creates a Controller in the Loading state and starts its loop.
// Call Load next, and Close when the session is no longer observed.
func New(assessmentID uuid.UUID, studentID int, deps Deps, opts ...Option) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &Controller{
		assessmentID:  assessmentID,
		studentID:     studentID,
		dir:           deps.Directory,
		store:         deps.Store,
		watcher:       deps.Watcher,
		clock:         clock,
		quiet:         DefaultQuietPeriod,
		confirmWindow: DefaultConfirmWindow,
		writeTimeout:  DefaultWriteTimeout,
		queue:         make(chan func(), queueBuffer),
		quit:          make(chan struct{}),
		loopDone:      make(chan struct{}),
		events:        make(chan Event, eventBuffer),
		done:          make(chan struct{}),
		state:         StateLoading,
		log: deps.Log.With().
			Str("component", "session").
			Str("assessment_id", assessmentID.String()).
			Int("student_id", studentID).
			Logger(),
	}
	for _, o := range opts {
		o(c)
	}

	go c.run()
	return c
}

// AssessmentID returns the assessment this session belongs to.
func (c *Controller) AssessmentID() uuid.UUID { return c.assessmentID }

// StudentID returns the test-taker this session belongs to.
func (c *Controller) StudentID() int { return c.studentID }

// Events streams observable changes. Slow consumers miss events; the
// channel is closed when the session is closed.
func (c *Controller) Events() <-chan Event { return c.events }

// Done is closed once the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Close stops every timer and watcher owned by the session and ends the
// loop. A finalize write that already started still completes. Close is
// idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.loopDone
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() { s = c.snapshot() })
	return s, err
}

// Paper returns the questions without keys, in ordinal order.
func (c *Controller) Paper() ([]model.QuestionForStudent, error) {
	var out []model.QuestionForStudent
	err := c.do(func() {
		out = make([]model.QuestionForStudent, len(c.questions))
		for i := range c.questions {
			out[i] = c.questions[i].ForStudent()
		}
	})
	return out, err
}

// ─── Loop plumbing ────────────────────────────────────────────────────

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.quit:
			c.teardown()
			return
		}
	}
}

// post enqueues fn for the loop. It reports false once the session is
// closed. It must never be called from the loop goroutine itself.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.queue <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (c *Controller) do(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.loopDone:
		return ErrClosed
	}
}

func (c *Controller) teardown() {
	c.stopActivity()
	c.log.Debug().Str("state", string(c.state)).Msg("Session closed")
	close(c.events)
}

func (c *Controller) emit(ev Event) {
	ev.At = c.clock.Now()
	if ev.State == "" {
		ev.State = c.state
	}
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Str("event", string(ev.Type)).Msg("Event dropped, consumer too slow")
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Info().Str("from", string(c.state)).Str("to", string(s)).Msg("Session state changed")
	c.state = s
	c.emit(Event{Type: EventState, State: s, RemainingSeconds: c.remaining(), Error: c.errInfo})
	if s.Terminal() && !c.terminal {
		c.terminal = true
		close(c.done)
	}
}

func (c *Controller) fail(err *Error) {
	c.errInfo = &ErrorInfo{Kind: err.Kind, Message: err.Error()}
	c.stopActivity()
	c.log.Error().Err(err.Err).Str("kind", string(err.Kind)).Str("op", err.Op).Msg("Session failed")
	c.setState(StateError)
}

// stopActivity cancels the countdown, the pending autosave, the submit
// confirmation and the status watcher.
func (c *Controller) stopActivity() {
	c.stopCountdown()
	c.cancelDebounce()
	c.dismissConfirmation(false)
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
}

func (c *Controller) remaining() int {
	if c.countdown == nil {
		return Unlimited
	}
	return c.countdown.Remaining()
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		State:            c.state,
		AssessmentID:     c.assessmentID,
		StudentID:        c.studentID,
		QuestionCount:    len(c.questions),
		Current:          c.current,
		RemainingSeconds: c.remaining(),
		Error:            c.errInfo,
		SubmitReason:     c.reason,
	}
	if c.attempt != nil {
		id := c.attempt.ID
		started := c.attempt.StartedAt
		s.AttemptID = &id
		s.StartedAt = &started
		elapsed := c.clock.Since(started)
		if elapsed > 0 {
			s.ElapsedSeconds = int(elapsed / time.Second)
		}
	}
	if c.buffer != nil {
		s.Answers = c.buffer.Snapshot()
		s.Complete = answer.Complete(c.questions, s.Answers)
		s.Unanswered = answer.Unanswered(c.questions, s.Answers)
	}
	if c.flags != nil {
		s.Flags = make([]bool, len(c.flags))
		copy(s.Flags, c.flags)
	}
	if c.confirm != nil {
		conf := *c.confirm
		s.Confirmation = &conf
	}
	if c.lastSaved != nil {
		t := *c.lastSaved
		s.LastSavedAt = &t
	}
	if c.completedID != nil {
		id := *c.completedID
		s.CompletedAttemptID = &id
	}
	return s
}
