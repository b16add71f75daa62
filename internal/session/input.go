package session

import (
	"fmt"

	"github.com/stemsi/exstem-session/internal/model"
)

// SetAnswer overwrites the answer of question index (zero-based) and
// restarts the autosave debounce.
func (c *Controller) SetAnswer(index int, value string) error {
	var err error
	if derr := c.do(func() { err = c.setAnswer(index, value) }); derr != nil {
		return derr
	}
	return err
}

func (c *Controller) setAnswer(index int, value string) error {
	if c.state != StateInProgress {
		return ErrWrongState
	}
	changed, err := c.buffer.Set(index, value)
	if err != nil {
		return newError(KindValidation, "set answer", err)
	}
	if changed {
		c.scheduleAutosave()
	}
	return nil
}

// SetPart overwrites one sub-answer of a multi-part question. The slot is
// padded to the question's part count first, so other parts are kept.
func (c *Controller) SetPart(index, part int, value string) error {
	var err error
	if derr := c.do(func() { err = c.setPart(index, part, value) }); derr != nil {
		return derr
	}
	return err
}

func (c *Controller) setPart(index, part int, value string) error {
	if c.state != StateInProgress {
		return ErrWrongState
	}
	if index < 0 || index >= len(c.questions) {
		return newError(KindValidation, "set part", fmt.Errorf("answer index %d out of range [0,%d)", index, len(c.questions)))
	}
	q := &c.questions[index]
	if q.Variant != model.QuestionVariantMultiPart {
		return newError(KindValidation, "set part", fmt.Errorf("question %d is not multi-part", q.Ordinal))
	}
	changed, err := c.buffer.SetPart(index, q.Parts, part, value)
	if err != nil {
		return newError(KindValidation, "set part", err)
	}
	if changed {
		c.scheduleAutosave()
	}
	return nil
}

// Navigate moves the current-question pointer, clamped to the paper.
func (c *Controller) Navigate(index int) (int, error) {
	var (
		cur int
		err error
	)
	if derr := c.do(func() {
		if c.state != StateInProgress {
			err = ErrWrongState
			return
		}
		switch {
		case index < 0:
			index = 0
		case index >= len(c.questions):
			index = len(c.questions) - 1
		}
		c.current = index
		cur = index
	}); derr != nil {
		return 0, derr
	}
	return cur, err
}

// ToggleFlag flips the review flag of question index and returns the new
// value. Flags are never persisted.
func (c *Controller) ToggleFlag(index int) (bool, error) {
	var (
		flagged bool
		err     error
	)
	if derr := c.do(func() {
		if c.state != StateInProgress {
			err = ErrWrongState
			return
		}
		if index < 0 || index >= len(c.flags) {
			err = newError(KindValidation, "toggle flag", fmt.Errorf("question index %d out of range [0,%d)", index, len(c.flags)))
			return
		}
		c.flags[index] = !c.flags[index]
		flagged = c.flags[index]
	}); derr != nil {
		return false, derr
	}
	return flagged, err
}
