// Package answer encodes multi-part answers and decides whether an answer
// slot counts as answered.
package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-session/internal/model"
)

// EncodeParts serializes sub-answers into the string stored in an answer slot.
func EncodeParts(parts []string) string {
	if parts == nil {
		parts = []string{}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		// []string always marshals.
		return "[]"
	}
	return string(raw)
}

// EmptyParts returns the encoded form of n empty sub-answers.
func EmptyParts(n int) string {
	return EncodeParts(make([]string, n))
}

// DecodeParts parses raw into exactly n sub-answers, padding with empty
// strings or truncating as needed. An empty raw value decodes to n empty
// strings. On parse failure it returns n empty strings and the error.
func DecodeParts(raw string, n int) ([]string, error) {
	if n < 0 {
		n = 0
	}
	out := make([]string, n)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return out, fmt.Errorf("decode parts: %w", err)
	}
	copy(out, parsed)
	return out, nil
}

// SetPart overwrites sub-answer idx of the encoded slot raw, first
// reconstructing the slot to exactly n entries so earlier parts survive.
func SetPart(raw string, n, idx int, value string) (string, error) {
	if idx < 0 || idx >= n {
		return raw, fmt.Errorf("part index %d out of range [0,%d)", idx, n)
	}
	parts, _ := DecodeParts(raw, n)
	parts[idx] = value
	return EncodeParts(parts), nil
}

// Answered reports whether raw counts as an answer to q.
func Answered(q *model.Question, raw string) bool {
	switch q.Variant {
	case model.QuestionVariantMultiPart:
		if strings.TrimSpace(raw) == "" {
			return false
		}
		var parts []string
		if err := json.Unmarshal([]byte(raw), &parts); err != nil {
			return false
		}
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				return true
			}
		}
		return false
	default:
		return strings.TrimSpace(raw) != ""
	}
}

// Complete reports whether every question has an answer. Slots missing
// from answers count as unanswered.
func Complete(questions []model.Question, answers []string) bool {
	for i := range questions {
		if i >= len(answers) || !Answered(&questions[i], answers[i]) {
			return false
		}
	}
	return true
}

// Unanswered returns the zero-based indexes of questions without an answer.
func Unanswered(questions []model.Question, answers []string) []int {
	var out []int
	for i := range questions {
		if i >= len(answers) || !Answered(&questions[i], answers[i]) {
			out = append(out, i)
		}
	}
	return out
}

// Reconcile returns answers resized to n slots, truncating extras or
// padding with empty strings. The boolean reports whether a resize happened.
func Reconcile(answers []string, n int) ([]string, bool) {
	if len(answers) == n {
		out := make([]string, n)
		copy(out, answers)
		return out, false
	}
	out := make([]string, n)
	copy(out, answers)
	return out, true
}
