package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByAssessment retrieves all questions of an assessment, ordered by ordinal.
func (r *QuestionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, ordinal, points, variant, prompt, options, answer_key, rubric, parts
		 FROM questions WHERE assessment_id = $1
		 ORDER BY ordinal`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q       model.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Ordinal, &q.Points, &q.Variant,
			&q.Prompt, &options, &q.Key, &q.Rubric, &q.Parts); err != nil {
			return nil, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options of question %s: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create appends a question after the current last ordinal and bumps the
// assessment's question count in the same transaction.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	options, err := json.Marshal(nonNilOptions(q.Options))
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`UPDATE assessments SET question_count = question_count + 1, updated_at = NOW()
			 WHERE id = $1 RETURNING question_count`, q.AssessmentID,
		).Scan(&count)
		if err != nil {
			return notFound(err)
		}
		q.Ordinal = count

		return tx.QueryRow(ctx,
			`INSERT INTO questions (assessment_id, ordinal, points, variant, prompt, options, answer_key, rubric, parts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			q.AssessmentID, q.Ordinal, q.Points, q.Variant, q.Prompt, options, q.Key, q.Rubric, q.Parts,
		).Scan(&q.ID)
	})
}

// Delete removes a question and shifts every later ordinal down by one, so
// ordinals stay contiguous from 1.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			assessmentID uuid.UUID
			ordinal      int
		)
		err := tx.QueryRow(ctx,
			`DELETE FROM questions WHERE id = $1 RETURNING assessment_id, ordinal`, id,
		).Scan(&assessmentID, &ordinal)
		if err != nil {
			return notFound(err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE questions SET ordinal = ordinal - 1
			 WHERE assessment_id = $1 AND ordinal > $2`, assessmentID, ordinal); err != nil {
			return fmt.Errorf("renumber questions: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE assessments SET question_count = question_count - 1, updated_at = NOW()
			 WHERE id = $1`, assessmentID)
		return err
	})
}

func nonNilOptions(opts []model.Option) []model.Option {
	if opts == nil {
		return []model.Option{}
	}
	return opts
}
