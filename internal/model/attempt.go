package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in-progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
)

// SubmitReason records what triggered finalization.
type SubmitReason string

const (
	SubmitReasonManual           SubmitReason = "manual"
	SubmitReasonTimeExpired      SubmitReason = "time_expired"
	SubmitReasonAssessmentClosed SubmitReason = "assessment_closed"
)

// Attempt is one test-taker's instance of working through an assessment.
// Answers holds one slot per question in ordinal order; a multi-part slot
// holds a JSON array of sub-answers.
type Attempt struct {
	ID            uuid.UUID      `json:"id"`
	AssessmentID  uuid.UUID      `json:"assessment_id"`
	StudentID     int            `json:"student_id"`
	Status        AttemptStatus  `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	SubmitReason  *SubmitReason  `json:"submit_reason,omitempty"`
	Answers       []string       `json:"answers"`
	AutoScore     *int           `json:"auto_score,omitempty"`
	AutoMax       *int           `json:"auto_max,omitempty"`
	ManualScore   *int           `json:"manual_score,omitempty"`
	ManualMax     *int           `json:"manual_max,omitempty"`
	ManualScores  map[string]int `json:"manual_scores,omitempty"`
	CombinedScore *float64       `json:"combined_score,omitempty"`
}

// Completed reports whether the attempt has been finalized.
func (a *Attempt) Completed() bool {
	return a.Status == AttemptStatusCompleted
}

// AttemptScores is the score-only update written after finalization.
type AttemptScores struct {
	AutoScore     *int
	AutoMax       *int
	ManualScore   *int
	ManualMax     *int
	ManualScores  map[string]int
	CombinedScore *float64
}

// AttemptSummary is one row of a grader's attempt listing.
type AttemptSummary struct {
	AttemptID     uuid.UUID     `json:"attempt_id"`
	StudentID     int           `json:"student_id"`
	StudentName   string        `json:"student_name"`
	Status        AttemptStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	AutoScore     *int          `json:"auto_score,omitempty"`
	ManualScore   *int          `json:"manual_score,omitempty"`
	CombinedScore *float64      `json:"combined_score,omitempty"`
}

// SaveGradesRequest is the grader payload for manual scores, keyed by question id.
type SaveGradesRequest struct {
	Scores map[string]int `json:"scores" binding:"required,min=1,dive,keys,uuid,endkeys"`
}
