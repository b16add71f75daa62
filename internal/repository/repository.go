// Package repository defines the record stores of the session engine and
// their PostgreSQL implementations. The sqlstore subpackage implements the
// same interfaces on database/sql for single-node deployments.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// Assessments reads and updates assessment records.
type Assessments interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	ListPublished(ctx context.Context) ([]model.Assessment, error)
	Create(ctx context.Context, a *model.Assessment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssessmentStatus) error
}

// Questions reads and edits the ordered question list of an assessment.
type Questions interface {
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error)
	// Create appends q after the last ordinal and bumps the question count.
	Create(ctx context.Context, q *model.Question) error
	// Delete removes a question and closes the ordinal gap it leaves.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Students reads the test-taker roster.
type Students interface {
	GetByID(ctx context.Context, id int) (*model.Student, error)
	Create(ctx context.Context, s *model.Student) error
}

// ScoreUpdate is one row of a bulk score write. ReadManual is the manual
// score map the scores were computed from; the row is only written while
// the stored map still equals it.
type ScoreUpdate struct {
	AttemptID  uuid.UUID
	Scores     model.AttemptScores
	ReadManual map[string]int
}

// Attempts stores attempts. SaveAnswers and Finalize only touch attempts
// that are still in progress and return model.ErrAttemptFinalized otherwise.
type Attempts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error)
	// Create returns model.ErrAttemptExists when the pair already has an attempt.
	Create(ctx context.Context, a *model.Attempt) error
	SaveAnswers(ctx context.Context, id uuid.UUID, answers []string) error
	Finalize(ctx context.Context, id uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error
	// SaveScores writes the score columns of a completed attempt.
	SaveScores(ctx context.Context, id uuid.UUID, scores model.AttemptScores) error
	// SaveScoresBatch writes the rows whose stored manual scores still match
	// ReadManual and returns the ids of completed attempts it left alone
	// because a grader changed them in between.
	SaveScoresBatch(ctx context.Context, updates []ScoreUpdate) (stale []uuid.UUID, err error)
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.AttemptSummary, error)
	// ListCompletedUnscored returns completed attempts that have no auto score yet.
	ListCompletedUnscored(ctx context.Context, limit int) ([]uuid.UUID, error)
}
