package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// Directory supplies the reference data a session reads on load.
// Implementations return model.ErrNotFound for missing records.
type Directory interface {
	Student(ctx context.Context, id int) (*model.Student, error)
	Assessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	Questions(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error)
}

// Store persists attempts.
//
// FindAttempt returns model.ErrNotFound when no attempt exists.
// CreateAttempt returns model.ErrAttemptExists when the pair already has one.
// SaveAnswers and Finalize return model.ErrAttemptFinalized once the attempt
// is completed; neither may modify a completed attempt.
type Store interface {
	FindAttempt(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error)
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	SaveAnswers(ctx context.Context, attemptID uuid.UUID, answers []string) error
	Finalize(ctx context.Context, attemptID uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error
}

// StatusWatcher streams publication status changes of an assessment until
// ctx is canceled.
type StatusWatcher interface {
	WatchStatus(ctx context.Context, assessmentID uuid.UUID) (<-chan model.AssessmentStatus, error)
}
