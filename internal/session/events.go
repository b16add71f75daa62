package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// State is a session lifecycle state.
type State string

const (
	StateLoading          State = "loading"
	StateReady            State = "ready"
	StateInProgress       State = "in_progress"
	StateSubmitting       State = "submitting"
	StateSubmitted        State = "submitted"
	StateAlreadyCompleted State = "already_completed"
	StateDeadlinePassed   State = "deadline_passed"
	StateError            State = "error"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateAlreadyCompleted, StateDeadlinePassed, StateError:
		return true
	default:
		return false
	}
}

// EventType identifies what an Event carries.
type EventType string

const (
	EventState   EventType = "state"
	EventTick    EventType = "tick"
	EventSaved   EventType = "saved"
	EventConfirm EventType = "confirm"
)

// Confirmation is an open manual-submit prompt.
type Confirmation struct {
	ID        uint64    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SaveResult reports the outcome of one autosave flush.
type SaveResult struct {
	OK        bool   `json:"ok"`
	Discarded bool   `json:"discarded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorInfo is the user-facing description of a failed session.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Event is pushed on the Events channel whenever observable state changes.
type Event struct {
	Type             EventType     `json:"type"`
	State            State         `json:"state"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Save             *SaveResult   `json:"save,omitempty"`
	Confirmation     *Confirmation `json:"confirmation,omitempty"`
	Error            *ErrorInfo    `json:"error,omitempty"`
	At               time.Time     `json:"at"`
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	State              State               `json:"state"`
	AssessmentID       uuid.UUID           `json:"assessment_id"`
	StudentID          int                 `json:"student_id"`
	AttemptID          *uuid.UUID          `json:"attempt_id,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	QuestionCount      int                 `json:"question_count"`
	Answers            []string            `json:"answers"`
	Current            int                 `json:"current"`
	Flags              []bool              `json:"flags"`
	Complete           bool                `json:"complete"`
	Unanswered         []int               `json:"unanswered,omitempty"`
	RemainingSeconds   int                 `json:"remaining_seconds"`
	ElapsedSeconds     int                 `json:"elapsed_seconds"`
	Confirmation       *Confirmation       `json:"confirmation,omitempty"`
	LastSavedAt        *time.Time          `json:"last_saved_at,omitempty"`
	SubmitReason       *model.SubmitReason `json:"submit_reason,omitempty"`
	CompletedAttemptID *uuid.UUID          `json:"completed_attempt_id,omitempty"`
	Error              *ErrorInfo          `json:"error,omitempty"`
}

// Unlimited is the RemainingSeconds value of a session without a time limit.
const Unlimited = -1
