package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus enumerates the publication states of an assessment.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "DRAFT"
	AssessmentStatusPublished AssessmentStatus = "PUBLISHED"
	AssessmentStatusClosed    AssessmentStatus = "CLOSED"
)

// AssessmentKind describes which question variants an assessment contains.
type AssessmentKind string

const (
	AssessmentKindChoice     AssessmentKind = "SINGLE_CHOICE"
	AssessmentKindFreeText   AssessmentKind = "FREE_TEXT"
	AssessmentKindMultiPart  AssessmentKind = "MULTI_PART"
	AssessmentKindMixed      AssessmentKind = "MIXED"
	AssessmentKindFileUpload AssessmentKind = "FILE_UPLOAD"
)

// SessionCapable reports whether attempts of this kind run through a timed session.
func (k AssessmentKind) SessionCapable() bool {
	switch k {
	case AssessmentKindChoice, AssessmentKindFreeText, AssessmentKindMultiPart, AssessmentKindMixed:
		return true
	default:
		return false
	}
}

// Assessment represents a timed set of questions.
type Assessment struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Kind            AssessmentKind   `json:"kind"`
	DurationMinutes int              `json:"duration_minutes"`
	Deadline        *time.Time       `json:"deadline,omitempty"`
	Status          AssessmentStatus `json:"status"`
	QuestionCount   int              `json:"question_count"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Unlimited reports whether the assessment has neither a duration nor a deadline.
func (a *Assessment) Unlimited() bool {
	return a.DurationMinutes <= 0 && a.Deadline == nil
}

// DeadlinePassed reports whether the hard deadline is at or before now.
func (a *Assessment) DeadlinePassed(now time.Time) bool {
	return a.Deadline != nil && !now.Before(*a.Deadline)
}

// AssessmentPayload is the Redis-cached question paper sent to test-takers (no keys).
type AssessmentPayload struct {
	AssessmentID    uuid.UUID            `json:"assessment_id"`
	Title           string               `json:"title"`
	Kind            AssessmentKind       `json:"kind"`
	DurationMinutes int                  `json:"duration_minutes"`
	Deadline        *time.Time           `json:"deadline,omitempty"`
	Questions       []QuestionForStudent `json:"questions"`
}

// CreateAssessmentRequest is the payload for creating a draft assessment.
type CreateAssessmentRequest struct {
	Title           string         `json:"title" binding:"required,min=3,max=200"`
	Kind            AssessmentKind `json:"kind" binding:"required,oneof=SINGLE_CHOICE FREE_TEXT MULTI_PART MIXED FILE_UPLOAD"`
	DurationMinutes int            `json:"duration_minutes" binding:"min=0,max=1440"`
	Deadline        *time.Time     `json:"deadline"`
}
