package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// AssessmentRepository handles assessment data access.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

const assessmentColumns = `id, title, kind, duration_minutes, deadline, status, question_count, created_at, updated_at`

func scanAssessment(row pgx.Row, a *model.Assessment) error {
	return row.Scan(&a.ID, &a.Title, &a.Kind, &a.DurationMinutes, &a.Deadline,
		&a.Status, &a.QuestionCount, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID retrieves an assessment by ID.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := scanAssessment(r.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id), a)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListPublished returns all assessments with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *AssessmentRepository) ListPublished(ctx context.Context) ([]model.Assessment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE status = $1
		 ORDER BY created_at DESC`, model.AssessmentStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := scanAssessment(rows, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new assessment. The question count starts at zero and
// is maintained by the question repository.
func (r *AssessmentRepository) Create(ctx context.Context, a *model.Assessment) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessments (title, kind, duration_minutes, deadline, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, question_count, created_at, updated_at`,
		a.Title, a.Kind, a.DurationMinutes, a.Deadline, a.Status,
	).Scan(&a.ID, &a.QuestionCount, &a.CreatedAt, &a.UpdatedAt)
}

// UpdateStatus updates an assessment's status.
func (r *AssessmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssessmentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessments SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// notFound maps pgx.ErrNoRows to model.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}
