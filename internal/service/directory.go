package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/session"
)

// SessionDirectory serves the reference reads of a session: the roster
// straight from the store, assessments and questions through the cache.
type SessionDirectory struct {
	students    repository.Students
	assessments *AssessmentService
}

var _ session.Directory = (*SessionDirectory)(nil)

// NewSessionDirectory creates a new SessionDirectory.
func NewSessionDirectory(students repository.Students, assessments *AssessmentService) *SessionDirectory {
	return &SessionDirectory{students: students, assessments: assessments}
}

func (d *SessionDirectory) Student(ctx context.Context, id int) (*model.Student, error) {
	return d.students.GetByID(ctx, id)
}

func (d *SessionDirectory) Assessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return d.assessments.GetByID(ctx, id)
}

func (d *SessionDirectory) Questions(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	return d.assessments.Questions(ctx, assessmentID)
}
