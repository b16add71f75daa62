package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/answer"
	"github.com/stemsi/exstem-session/internal/model"
)

type loadResult struct {
	assessment     *model.Assessment
	questions      []model.Question
	attempt        *model.Attempt
	deadlinePassed bool
}

// Load evaluates the session prerequisites and moves out of Loading into
// Ready, InProgress (resume), AlreadyCompleted, DeadlinePassed or Error.
// A returned *Error means the session ended in the Error state.
func (c *Controller) Load(ctx context.Context) (Snapshot, error) {
	var allowed bool
	if err := c.do(func() {
		allowed = c.state == StateLoading && !c.busy
		if allowed {
			c.busy = true
		}
	}); err != nil {
		return Snapshot{}, err
	}
	if !allowed {
		return Snapshot{}, ErrWrongState
	}

	res, lerr := c.load(ctx)

	var snap Snapshot
	if err := c.do(func() {
		c.busy = false
		if lerr != nil {
			c.fail(lerr)
		} else {
			c.applyLoad(res)
		}
		snap = c.snapshot()
	}); err != nil {
		return Snapshot{}, err
	}
	if lerr != nil {
		return snap, lerr
	}
	return snap, nil
}

// load performs the reads of the entry algorithm outside the loop.
func (c *Controller) load(ctx context.Context) (*loadResult, *Error) {
	if _, err := c.dir.Student(ctx, c.studentID); err != nil {
		return nil, readError("load student", err)
	}

	a, err := c.dir.Assessment(ctx, c.assessmentID)
	if err != nil {
		return nil, readError("load assessment", err)
	}
	if !a.Kind.SessionCapable() {
		return nil, newError(KindUnavailable, "load assessment",
			fmt.Errorf("assessments of kind %s are not taken in a timed session", a.Kind))
	}

	res := &loadResult{assessment: a}

	att, err := c.store.FindAttempt(ctx, c.assessmentID, c.studentID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		att = nil
	case err != nil:
		return nil, newError(KindPersistence, "find attempt", err)
	}
	res.attempt = att

	if att != nil && att.Completed() {
		return res, nil
	}

	if att == nil {
		if a.DeadlinePassed(c.clock.Now()) {
			res.deadlinePassed = true
			return res, nil
		}
		if a.Status != model.AssessmentStatusPublished {
			return nil, newError(KindUnavailable, "load assessment",
				fmt.Errorf("assessment is %s", strings.ToLower(string(a.Status))))
		}
	}

	qs, err := c.dir.Questions(ctx, c.assessmentID)
	if err != nil {
		return nil, readError("load questions", err)
	}
	if len(qs) == 0 {
		return nil, newError(KindNotFound, "load questions", errors.New("assessment has no questions"))
	}
	res.questions = qs
	return res, nil
}

func readError(op string, err error) *Error {
	if errors.Is(err, model.ErrNotFound) {
		return newError(KindNotFound, op, err)
	}
	return newError(KindPersistence, op, err)
}

func (c *Controller) applyLoad(res *loadResult) {
	c.assessment = res.assessment

	switch {
	case res.attempt != nil && res.attempt.Completed():
		c.attempt = res.attempt
		id := res.attempt.ID
		c.completedID = &id
		c.setState(StateAlreadyCompleted)

	case res.deadlinePassed:
		c.setState(StateDeadlinePassed)

	case res.attempt != nil:
		c.setQuestions(res.questions)
		c.resume(res.attempt)

	default:
		c.setQuestions(res.questions)
		c.setState(StateReady)
	}
}

func (c *Controller) setQuestions(qs []model.Question) {
	if c.assessment.QuestionCount != len(qs) {
		c.log.Warn().
			Int("declared", c.assessment.QuestionCount).
			Int("persisted", len(qs)).
			Msg("Question count mismatch, using persisted questions")
	}
	c.questions = qs
}

// Start creates the attempt and moves Ready to InProgress. If another
// session created the attempt first, that attempt is resumed instead. On
// a write failure the session stays Ready.
func (c *Controller) Start(ctx context.Context) (Snapshot, error) {
	var (
		allowed bool
		ended   bool
		n       int
		now     time.Time
		snap    Snapshot
	)
	if err := c.do(func() {
		if c.state != StateReady || c.busy {
			return
		}
		now = c.clock.Now()
		if c.assessment.DeadlinePassed(now) {
			c.setState(StateDeadlinePassed)
			ended = true
			snap = c.snapshot()
			return
		}
		allowed = true
		c.busy = true
		n = len(c.questions)
	}); err != nil {
		return Snapshot{}, err
	}
	if ended {
		return snap, nil
	}
	if !allowed {
		return Snapshot{}, ErrWrongState
	}

	att := &model.Attempt{
		ID:           uuid.New(),
		AssessmentID: c.assessmentID,
		StudentID:    c.studentID,
		Status:       model.AttemptStatusInProgress,
		StartedAt:    now,
		Answers:      make([]string, n),
	}
	resumed := false
	err := c.store.CreateAttempt(ctx, att)
	if errors.Is(err, model.ErrAttemptExists) {
		existing, ferr := c.store.FindAttempt(ctx, c.assessmentID, c.studentID)
		if ferr != nil {
			err = ferr
		} else {
			att, err, resumed = existing, nil, true
		}
	}

	if derr := c.do(func() {
		c.busy = false
		switch {
		case err != nil:
			c.log.Error().Err(err).Msg("Create attempt failed")
		case att.Completed():
			c.attempt = att
			id := att.ID
			c.completedID = &id
			c.setState(StateAlreadyCompleted)
		case resumed:
			c.log.Info().Str("attempt_id", att.ID.String()).Msg("Attempt already started elsewhere, resuming")
			c.resume(att)
		default:
			c.begin(att)
		}
		snap = c.snapshot()
	}); derr != nil {
		return Snapshot{}, derr
	}
	if err != nil {
		return snap, newError(KindPersistence, "create attempt", err)
	}
	return snap, nil
}

func (c *Controller) begin(att *model.Attempt) {
	c.attempt = att
	c.log = c.log.With().Str("attempt_id", att.ID.String()).Logger()
	c.buffer = NewAnswerBuffer(att.Answers)
	c.log.Info().Msg("Attempt started")
	c.enterInProgress()
}

// resume restores an in-progress attempt. The answer array is reconciled
// to the question count and the time budget is derived from the original
// start time.
func (c *Controller) resume(att *model.Attempt) {
	answers, resized := answer.Reconcile(att.Answers, len(c.questions))
	restored := *att
	restored.Answers = answers
	c.attempt = &restored
	c.log = c.log.With().Str("attempt_id", att.ID.String()).Logger()
	if resized {
		c.log.Warn().
			Int("stored", len(att.Answers)).
			Int("questions", len(c.questions)).
			Msg("Answer count mismatch on resume, reconciled")
	}
	c.buffer = NewAnswerBuffer(answers)
	c.log.Info().Time("started_at", att.StartedAt).Msg("Attempt resumed")

	c.enterInProgress()
	if resized && c.state == StateInProgress {
		c.scheduleAutosave()
	}
}

func (c *Controller) enterInProgress() {
	c.current = 0
	c.flags = make([]bool, len(c.questions))

	if end, ok := endTime(c.assessment.DurationMinutes, c.assessment.Deadline, c.attempt.StartedAt); ok {
		c.countdown = NewCountdown(end, c.clock.Now())
	}
	c.setState(StateInProgress)

	switch {
	case c.assessment.Status == model.AssessmentStatusClosed:
		c.log.Info().Msg("Assessment closed while attempt was open, submitting")
		c.beginFinalize(model.SubmitReasonAssessmentClosed)
		return
	case c.countdown != nil && c.countdown.Due():
		c.log.Info().Msg("Time already expired on entry, submitting")
		c.beginFinalize(model.SubmitReasonTimeExpired)
		return
	}

	if c.countdown != nil {
		c.startTicker()
	}
	c.startWatcher()
}

// ─── Countdown ────────────────────────────────────────────────────────

func (c *Controller) startTicker() {
	t := c.clock.NewTicker(time.Second)
	stop := make(chan struct{})
	c.ticker = t
	c.tickerStop = stop

	go func() {
		for {
			select {
			case <-t.Chan():
				if !c.post(c.onTick) {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Controller) stopCountdown() {
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.tickerStop)
		c.ticker = nil
		c.tickerStop = nil
	}
	if c.countdown != nil {
		c.countdown.Stop()
	}
}

func (c *Controller) onTick() {
	if c.state != StateInProgress || c.countdown == nil {
		return
	}
	remaining, fired := c.countdown.Tick(c.clock.Now())
	c.emit(Event{Type: EventTick, RemainingSeconds: remaining})
	if fired {
		c.log.Info().Msg("Time limit reached, submitting")
		c.beginFinalize(model.SubmitReasonTimeExpired)
	}
}

// ─── Status watcher ───────────────────────────────────────────────────

func (c *Controller) startWatcher() {
	if c.watcher == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel
	w, id, log := c.watcher, c.assessmentID, c.log

	go func() {
		ch, err := w.WatchStatus(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("Assessment status watch failed")
			}
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-ch:
				if !ok {
					return
				}
				if st == model.AssessmentStatusClosed {
					c.post(c.onAssessmentClosed)
					return
				}
			}
		}
	}()
}

func (c *Controller) onAssessmentClosed() {
	if c.state != StateInProgress {
		return
	}
	c.log.Info().Msg("Assessment closed by grader, submitting")
	c.beginFinalize(model.SubmitReasonAssessmentClosed)
}

// ─── Submit ───────────────────────────────────────────────────────────

// RequestSubmit opens the manual-submit confirmation. Every question must
// be answered. The confirmation dismisses itself after the confirm window.
func (c *Controller) RequestSubmit() (Confirmation, error) {
	var (
		conf Confirmation
		err  error
	)
	if derr := c.do(func() { conf, err = c.requestSubmit() }); derr != nil {
		return Confirmation{}, derr
	}
	return conf, err
}

func (c *Controller) requestSubmit() (Confirmation, error) {
	if c.state != StateInProgress {
		return Confirmation{}, ErrWrongState
	}
	if !answer.Complete(c.questions, c.buffer.answers) {
		return Confirmation{}, newError(KindValidation, "request submit", ErrIncomplete)
	}

	c.dismissConfirmation(false)
	c.confirmGen++
	gen := c.confirmGen
	conf := &Confirmation{ID: gen, ExpiresAt: c.clock.Now().Add(c.confirmWindow)}
	c.confirm = conf
	c.confirmTimer = c.clock.AfterFunc(c.confirmWindow, func() {
		go c.post(func() { c.onConfirmExpired(gen) })
	})
	c.emit(Event{Type: EventConfirm, Confirmation: conf, RemainingSeconds: c.remaining()})
	return *conf, nil
}

func (c *Controller) onConfirmExpired(gen uint64) {
	if c.confirm == nil || c.confirm.ID != gen {
		return
	}
	c.confirmTimer = nil
	c.dismissConfirmation(true)
}

func (c *Controller) dismissConfirmation(notify bool) {
	if c.confirmTimer != nil {
		c.confirmTimer.Stop()
		c.confirmTimer = nil
	}
	if c.confirm == nil {
		return
	}
	c.confirm = nil
	if notify {
		c.emit(Event{Type: EventConfirm, RemainingSeconds: c.remaining()})
	}
}

// CancelSubmit dismisses an open confirmation.
func (c *Controller) CancelSubmit() error {
	var err error
	if derr := c.do(func() {
		if c.confirm == nil {
			err = ErrNoConfirmation
			return
		}
		c.dismissConfirmation(true)
	}); derr != nil {
		return derr
	}
	return err
}

// ConfirmSubmit finalizes the attempt after RequestSubmit and waits for
// the finalize write to return.
func (c *Controller) ConfirmSubmit(ctx context.Context) (Snapshot, error) {
	var (
		done chan struct{}
		err  error
	)
	if derr := c.do(func() {
		switch {
		case c.state != StateInProgress:
			err = ErrWrongState
		case c.confirm == nil:
			err = ErrNoConfirmation
		case !answer.Complete(c.questions, c.buffer.answers):
			c.dismissConfirmation(true)
			err = newError(KindValidation, "confirm submit", ErrIncomplete)
		default:
			c.beginFinalize(model.SubmitReasonManual)
			done = c.finalizeDone
		}
	}); derr != nil {
		return Snapshot{}, derr
	}
	if err != nil {
		return Snapshot{}, err
	}
	return c.awaitFinalize(ctx, done)
}

// WaitFinalized blocks until a finalize that already began has returned.
func (c *Controller) WaitFinalized(ctx context.Context) (Snapshot, error) {
	var done chan struct{}
	if err := c.do(func() { done = c.finalizeDone }); err != nil {
		return Snapshot{}, err
	}
	if done == nil {
		return Snapshot{}, ErrWrongState
	}
	return c.awaitFinalize(ctx, done)
}

func (c *Controller) awaitFinalize(ctx context.Context, done chan struct{}) (Snapshot, error) {
	select {
	case <-done:
	case <-c.loopDone:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	snap, err := c.Snapshot()
	if err != nil {
		return snap, err
	}
	if snap.State == StateError && snap.Error != nil {
		return snap, newError(snap.Error.Kind, "finalize attempt", errors.New(snap.Error.Message))
	}
	return snap, nil
}

// beginFinalize is the single entry to Submitting. The state check and
// the transition happen in one loop turn, so concurrent triggers collapse
// into one finalize write.
func (c *Controller) beginFinalize(reason model.SubmitReason) bool {
	if c.state != StateInProgress {
		return false
	}
	c.reason = &reason
	c.setState(StateSubmitting)
	c.stopActivity()

	answers := c.buffer.Snapshot()
	inflight := c.flushDone
	attemptID := c.attempt.ID
	completedAt := c.clock.Now()
	done := make(chan struct{})
	c.finalizeDone = done

	store, timeout, log := c.store, c.writeTimeout, c.log
	log.Info().Str("reason", string(reason)).Msg("Finalizing attempt")

	go func() {
		if inflight != nil {
			<-inflight
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := store.Finalize(ctx, attemptID, answers, completedAt, reason)
		cancel()
		if errors.Is(err, model.ErrAttemptFinalized) {
			log.Debug().Msg("Attempt was already finalized")
			err = nil
		}
		if !c.post(func() { c.finishFinalize(err, completedAt, done) }) {
			close(done)
		}
	}()
	return true
}

func (c *Controller) finishFinalize(err error, completedAt time.Time, done chan struct{}) {
	defer close(done)
	if err != nil {
		c.fail(newError(KindPersistence, "finalize attempt", err))
		return
	}
	c.attempt.Status = model.AttemptStatusCompleted
	c.attempt.CompletedAt = &completedAt
	id := c.attempt.ID
	c.completedID = &id
	c.setState(StateSubmitted)
}
