package session

import (
	"fmt"

	"github.com/stemsi/exstem-session/internal/answer"
)

// AnswerBuffer is the in-memory answer array, index-aligned with the
// question order. It is owned by the session loop and not safe for
// concurrent use.
type AnswerBuffer struct {
	answers []string
}

// NewAnswerBuffer copies answers into a new buffer.
func NewAnswerBuffer(answers []string) *AnswerBuffer {
	b := &AnswerBuffer{answers: make([]string, len(answers))}
	copy(b.answers, answers)
	return b
}

func (b *AnswerBuffer) Len() int { return len(b.answers) }

func (b *AnswerBuffer) Get(i int) string {
	if i < 0 || i >= len(b.answers) {
		return ""
	}
	return b.answers[i]
}

// Set overwrites slot i. It reports whether the value changed.
func (b *AnswerBuffer) Set(i int, value string) (bool, error) {
	if i < 0 || i >= len(b.answers) {
		return false, fmt.Errorf("answer index %d out of range [0,%d)", i, len(b.answers))
	}
	if b.answers[i] == value {
		return false, nil
	}
	b.answers[i] = value
	return true, nil
}

// SetPart overwrites one sub-answer of a multi-part slot holding n parts.
func (b *AnswerBuffer) SetPart(i, n, part int, value string) (bool, error) {
	if i < 0 || i >= len(b.answers) {
		return false, fmt.Errorf("answer index %d out of range [0,%d)", i, len(b.answers))
	}
	raw, err := answer.SetPart(b.answers[i], n, part, value)
	if err != nil {
		return false, err
	}
	return b.Set(i, raw)
}

// Snapshot returns a copy of the current answers.
func (b *AnswerBuffer) Snapshot() []string {
	out := make([]string, len(b.answers))
	copy(out, b.answers)
	return out
}
