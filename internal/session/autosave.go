package session

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-session/internal/model"
)

// scheduleAutosave restarts the debounce timer. Only the newest timer can
// flush; older ones see a stale generation and do nothing.
func (c *Controller) scheduleAutosave() {
	if c.state != StateInProgress {
		return
	}
	c.cancelDebounce()
	gen := c.debounceGen
	c.debounce = c.clock.AfterFunc(c.quiet, func() {
		go c.post(func() { c.onDebounce(gen) })
	})
}

func (c *Controller) cancelDebounce() {
	c.debounceGen++
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
}

func (c *Controller) onDebounce(gen uint64) {
	if gen != c.debounceGen || c.state != StateInProgress {
		return
	}
	c.debounce = nil
	c.flush()
}

// Flush writes the answer buffer now instead of waiting for the debounce.
func (c *Controller) Flush() error {
	var err error
	if derr := c.do(func() {
		if c.state != StateInProgress {
			err = ErrWrongState
			return
		}
		c.cancelDebounce()
		c.flush()
	}); derr != nil {
		return derr
	}
	return err
}

// flush writes the whole buffer. At most one write is in flight; a flush
// requested meanwhile runs after it returns.
func (c *Controller) flush() {
	if c.flushing {
		c.flushAgain = true
		return
	}
	c.flushing = true

	answers := c.buffer.Snapshot()
	done := make(chan struct{})
	c.flushDone = done
	store, attemptID, timeout := c.store, c.attempt.ID, c.writeTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := store.SaveAnswers(ctx, attemptID, answers)
		cancel()
		close(done)
		c.post(func() { c.flushReturned(err) })
	}()
}

func (c *Controller) flushReturned(err error) {
	c.flushing = false
	c.flushDone = nil

	switch {
	case err == nil:
		now := c.clock.Now()
		c.lastSaved = &now
		c.emit(Event{Type: EventSaved, Save: &SaveResult{OK: true}, RemainingSeconds: c.remaining()})
	case errors.Is(err, model.ErrAttemptFinalized):
		c.log.Debug().Msg("Autosave discarded, attempt already finalized")
		c.emit(Event{Type: EventSaved, Save: &SaveResult{Discarded: true}, RemainingSeconds: c.remaining()})
	default:
		c.log.Warn().Err(err).Msg("Autosave failed")
		c.emit(Event{Type: EventSaved, Save: &SaveResult{Error: err.Error()}, RemainingSeconds: c.remaining()})
	}

	if c.flushAgain {
		c.flushAgain = false
		if c.state == StateInProgress {
			c.flush()
		}
	}
}
