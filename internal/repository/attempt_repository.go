package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, assessment_id, student_id, status, started_at, completed_at, submit_reason,
	answers, auto_score, auto_max, manual_score, manual_max, manual_scores, combined_score`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a      model.Attempt
		manual []byte
	)
	err := row.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.Status, &a.StartedAt, &a.CompletedAt,
		&a.SubmitReason, &a.Answers, &a.AutoScore, &a.AutoMax, &a.ManualScore, &a.ManualMax,
		&manual, &a.CombinedScore)
	if err != nil {
		return nil, notFound(err)
	}
	if len(manual) > 0 {
		if err := json.Unmarshal(manual, &a.ManualScores); err != nil {
			return nil, fmt.Errorf("decode manual scores: %w", err)
		}
	}
	if a.Answers == nil {
		a.Answers = []string{}
	}
	return &a, nil
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// FindByAssessmentAndStudent retrieves the attempt of a student at an assessment.
func (r *AttemptRepository) FindByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE assessment_id = $1 AND student_id = $2`,
		assessmentID, studentID))
}

// Create inserts a new in-progress attempt.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, assessment_id, student_id, status, started_at, answers)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.AssessmentID, a.StudentID, model.AttemptStatusInProgress, a.StartedAt, nonNilAnswers(a.Answers))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrAttemptExists
		}
		return err
	}
	return nil
}

// SaveAnswers overwrites the answer array of an in-progress attempt.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, id uuid.UUID, answers []string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET answers = $1
		 WHERE id = $2 AND status = $3`,
		nonNilAnswers(answers), id, model.AttemptStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardMiss(ctx, id)
	}
	return nil
}

// Finalize writes the final answers and marks the attempt completed. Score
// columns stay NULL until the scoring worker runs.
func (r *AttemptRepository) Finalize(ctx context.Context, id uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET answers = $1, status = $2, completed_at = $3, submit_reason = $4
		 WHERE id = $5 AND status = $6`,
		nonNilAnswers(answers), model.AttemptStatusCompleted, completedAt, reason, id, model.AttemptStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardMiss(ctx, id)
	}
	return nil
}

// guardMiss explains why a guarded update touched no row.
func (r *AttemptRepository) guardMiss(ctx context.Context, id uuid.UUID) error {
	var status model.AttemptStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	return model.ErrAttemptFinalized
}

// SaveScores writes the score columns of a completed attempt.
func (r *AttemptRepository) SaveScores(ctx context.Context, id uuid.UUID, s model.AttemptScores) error {
	manual, err := encodeManualScores(s.ManualScores)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET auto_score = $1, auto_max = $2, manual_score = $3, manual_max = $4,
		     manual_scores = $5, combined_score = $6
		 WHERE id = $7 AND status = $8`,
		s.AutoScore, s.AutoMax, s.ManualScore, s.ManualMax, manual, s.CombinedScore,
		id, model.AttemptStatusCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return model.ErrAttemptNotCompleted
	}
	return nil
}

// SaveScoresBatch writes many score rows in one statement using UNNEST.
// Rows for attempts that are not completed are skipped. Rows whose manual
// scores moved since they were read are skipped and reported as stale.
func (r *AttemptRepository) SaveScoresBatch(ctx context.Context, updates []ScoreUpdate) ([]uuid.UUID, error) {
	n := len(updates)
	if n == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, n)
	autoScores := make([]*int, n)
	autoMaxes := make([]*int, n)
	manualScores := make([]*int, n)
	manualMaxes := make([]*int, n)
	manualMaps := make([]*string, n)
	readMaps := make([]*string, n)
	combined := make([]*float64, n)

	for i, u := range updates {
		ids[i] = u.AttemptID
		autoScores[i] = u.Scores.AutoScore
		autoMaxes[i] = u.Scores.AutoMax
		manualScores[i] = u.Scores.ManualScore
		manualMaxes[i] = u.Scores.ManualMax
		combined[i] = u.Scores.CombinedScore
		var err error
		if manualMaps[i], err = manualText(u.Scores.ManualScores); err != nil {
			return nil, err
		}
		if readMaps[i], err = manualText(u.ReadManual); err != nil {
			return nil, err
		}
	}

	query := `
		UPDATE attempts AS a
		SET auto_score = t.auto_score,
		    auto_max = t.auto_max,
		    manual_score = t.manual_score,
		    manual_max = t.manual_max,
		    manual_scores = t.manual_scores::jsonb,
		    combined_score = t.combined_score
		FROM (
			SELECT
				u.id,
				u.auto_score,
				u.auto_max,
				u.manual_score,
				u.manual_max,
				u.manual_scores,
				u.combined_score,
				u.read_manual
			FROM UNNEST(
				$1::uuid[],
				$2::int[],
				$3::int[],
				$4::int[],
				$5::int[],
				$6::text[],
				$7::float8[],
				$8::text[]
			) AS u (id, auto_score, auto_max, manual_score, manual_max, manual_scores, combined_score, read_manual)
		) AS t
		WHERE a.id = t.id
		  AND a.status = 'completed'
		  AND a.manual_scores IS NOT DISTINCT FROM t.read_manual::jsonb
		RETURNING a.id
	`

	rows, err := r.pool.Query(ctx, query, ids, autoScores, autoMaxes, manualScores, manualMaxes, manualMaps, combined, readMaps)
	if err != nil {
		return nil, err
	}
	written, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("save scores batch: %w", err)
	}
	done := make(map[uuid.UUID]bool, len(written))
	for _, id := range written {
		done[id] = true
	}

	var missed []uuid.UUID
	for _, id := range ids {
		if !done[id] {
			missed = append(missed, id)
		}
	}
	if len(missed) == 0 {
		return nil, nil
	}

	// A missed row is either no longer completed (skipped silently) or was
	// re-graded after it was read.
	rows, err = r.pool.Query(ctx,
		`SELECT id FROM attempts WHERE id = ANY($1::uuid[]) AND status = $2`,
		missed, model.AttemptStatusCompleted)
	if err != nil {
		return nil, err
	}
	stale, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("find stale scores: %w", err)
	}
	return stale, nil
}

// manualText encodes a manual score map for a text[] UNNEST column.
func manualText(m map[string]int) (*string, error) {
	raw, err := encodeManualScores(m)
	if err != nil || raw == nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

// ListByAssessment returns one summary row per attempt, ordered by student name.
func (r *AttemptRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, s.name, a.status, a.started_at, a.completed_at,
		        a.auto_score, a.manual_score, a.combined_score
		 FROM attempts a
		 JOIN students s ON s.id = a.student_id
		 WHERE a.assessment_id = $1
		 ORDER BY s.name ASC, a.started_at ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.AttemptID, &s.StudentID, &s.StudentName, &s.Status, &s.StartedAt,
			&s.CompletedAt, &s.AutoScore, &s.ManualScore, &s.CombinedScore); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListCompletedUnscored returns up to limit completed attempts that have no
// auto score yet, oldest first.
func (r *AttemptRepository) ListCompletedUnscored(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts
		 WHERE status = 'completed' AND auto_score IS NULL
		 ORDER BY completed_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nonNilAnswers(answers []string) []string {
	if answers == nil {
		return []string{}
	}
	return answers
}

func encodeManualScores(m map[string]int) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manual scores: %w", err)
	}
	return raw, nil
}
