package model

import (
	"github.com/google/uuid"
)

// QuestionVariant is the answer shape of a question.
type QuestionVariant string

const (
	QuestionVariantChoice    QuestionVariant = "CHOICE"
	QuestionVariantFreeText  QuestionVariant = "FREE_TEXT"
	QuestionVariantMultiPart QuestionVariant = "MULTI_PART"
)

const (
	MaxChoiceOptions = 4
	MinParts         = 1
	MaxParts         = 20
)

// Option is one labeled choice of a choice question.
type Option struct {
	Label string `json:"label" binding:"required,option_label"`
	Text  string `json:"text" binding:"required,max=1000"`
}

// Question represents a single assessment item.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	AssessmentID uuid.UUID       `json:"assessment_id"`
	Ordinal      int             `json:"ordinal"`
	Points       int             `json:"points"`
	Variant      QuestionVariant `json:"variant"`
	Prompt       string          `json:"prompt"`
	Options      []Option        `json:"options,omitempty"`
	Key          string          `json:"key,omitempty"`
	Rubric       string          `json:"rubric,omitempty"`
	Parts        int             `json:"parts,omitempty"`
}

// AutoGradable reports whether the question is scored without a grader.
func (q *Question) AutoGradable() bool {
	return q.Variant == QuestionVariantChoice
}

// QuestionForStudent is a question without its key or rubric.
type QuestionForStudent struct {
	ID      uuid.UUID       `json:"id"`
	Ordinal int             `json:"ordinal"`
	Points  int             `json:"points"`
	Variant QuestionVariant `json:"variant"`
	Prompt  string          `json:"prompt"`
	Options []Option        `json:"options,omitempty"`
	Parts   int             `json:"parts,omitempty"`
}

// ForStudent strips grading material from q.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:      q.ID,
		Ordinal: q.Ordinal,
		Points:  q.Points,
		Variant: q.Variant,
		Prompt:  q.Prompt,
		Options: q.Options,
		Parts:   q.Parts,
	}
}

// AddQuestionRequest is the payload for appending a question to an assessment.
type AddQuestionRequest struct {
	Prompt  string          `json:"prompt" binding:"required,min=1,max=2000"`
	Variant QuestionVariant `json:"variant" binding:"required,oneof=CHOICE FREE_TEXT MULTI_PART"`
	Points  int             `json:"points" binding:"required,min=1,max=1000"`
	Options []Option        `json:"options" binding:"omitempty,max=4,dive"`
	Key     string          `json:"key" binding:"omitempty,max=10"`
	Rubric  string          `json:"rubric" binding:"omitempty,max=4000"`
	Parts   int             `json:"parts" binding:"omitempty,min=1,max=20"`
}
