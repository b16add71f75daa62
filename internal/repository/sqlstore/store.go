package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	_ repository.Assessments = (*AssessmentStore)(nil)
	_ repository.Questions   = (*QuestionStore)(nil)
	_ repository.Students    = (*StudentStore)(nil)
	_ repository.Attempts    = (*AttemptStore)(nil)
)

// ─── helpers ──────────────────────────────────────────────────────────

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// ─── Assessments ──────────────────────────────────────────────────────

// AssessmentStore handles assessment data access.
type AssessmentStore struct {
	db *sql.DB
}

// NewAssessmentStore creates a new AssessmentStore.
func NewAssessmentStore(db *sql.DB) *AssessmentStore {
	return &AssessmentStore{db: db}
}

const assessmentColumns = `id, title, kind, duration_minutes, deadline, status, question_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*model.Assessment, error) {
	var (
		a                model.Assessment
		id               string
		deadline         sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&id, &a.Title, &a.Kind, &a.DurationMinutes, &deadline,
		&a.Status, &a.QuestionCount, &created, &updated); err != nil {
		return nil, notFound(err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse assessment id: %w", err)
	}
	a.ID = parsed
	a.Deadline = timePtr(deadline)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return &a, nil
}

// GetByID retrieves an assessment by ID.
func (s *AssessmentStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return scanAssessment(s.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id.String()))
}

// ListPublished returns all assessments with PUBLISHED status.
func (s *AssessmentStore) ListPublished(ctx context.Context) ([]model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE status = ? ORDER BY created_at DESC`,
		model.AssessmentStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Create inserts a new assessment with a fresh id.
func (s *AssessmentStore) Create(ctx context.Context, a *model.Assessment) error {
	now := time.Now().UTC()
	a.ID = uuid.New()
	a.QuestionCount = 0
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, title, kind, duration_minutes, deadline, status, question_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.ID.String(), a.Title, a.Kind, a.DurationMinutes, nullTime(a.Deadline), a.Status,
		toNanos(now), toNanos(now))
	return err
}

// UpdateStatus updates an assessment's status.
func (s *AssessmentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssessmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET status = ?, updated_at = ? WHERE id = ?`,
		status, toNanos(time.Now()), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ─── Questions ────────────────────────────────────────────────────────

// QuestionStore handles question data access.
type QuestionStore struct {
	db *sql.DB
}

// NewQuestionStore creates a new QuestionStore.
func NewQuestionStore(db *sql.DB) *QuestionStore {
	return &QuestionStore{db: db}
}

// ListByAssessment retrieves all questions of an assessment, ordered by ordinal.
func (s *QuestionStore) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, assessment_id, ordinal, points, variant, prompt, options_json, answer_key, rubric, parts
		 FROM questions WHERE assessment_id = ? ORDER BY ordinal`, assessmentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var (
			q            model.Question
			id, aid, opt string
		)
		if err := rows.Scan(&id, &aid, &q.Ordinal, &q.Points, &q.Variant, &q.Prompt,
			&opt, &q.Key, &q.Rubric, &q.Parts); err != nil {
			return nil, err
		}
		if q.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse question id: %w", err)
		}
		if q.AssessmentID, err = uuid.Parse(aid); err != nil {
			return nil, fmt.Errorf("parse assessment id: %w", err)
		}
		if err := json.Unmarshal([]byte(opt), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %s: %w", id, err)
		}
		if len(q.Options) == 0 {
			q.Options = nil
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Create appends a question after the current last ordinal.
func (s *QuestionStore) Create(ctx context.Context, q *model.Question) error {
	opts := q.Options
	if opts == nil {
		opts = []model.Option{}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT question_count FROM assessments WHERE id = ?`, q.AssessmentID.String(),
	).Scan(&count); err != nil {
		return notFound(err)
	}
	q.ID = uuid.New()
	q.Ordinal = count + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO questions (id, assessment_id, ordinal, points, variant, prompt, options_json, answer_key, rubric, parts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID.String(), q.AssessmentID.String(), q.Ordinal, q.Points, q.Variant, q.Prompt,
		string(raw), q.Key, q.Rubric, q.Parts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE assessments SET question_count = ?, updated_at = ? WHERE id = ?`,
		q.Ordinal, toNanos(time.Now()), q.AssessmentID.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a question and shifts every later ordinal down by one.
func (s *QuestionStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		aid     string
		ordinal int
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT assessment_id, ordinal FROM questions WHERE id = ?`, id.String(),
	).Scan(&aid, &ordinal); err != nil {
		return notFound(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE questions SET ordinal = ordinal - 1 WHERE assessment_id = ? AND ordinal > ?`,
		aid, ordinal); err != nil {
		return fmt.Errorf("renumber questions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE assessments SET question_count = question_count - 1, updated_at = ? WHERE id = ?`,
		toNanos(time.Now()), aid); err != nil {
		return err
	}
	return tx.Commit()
}

// ─── Students ─────────────────────────────────────────────────────────

// StudentStore handles student data access.
type StudentStore struct {
	db *sql.DB
}

// NewStudentStore creates a new StudentStore.
func NewStudentStore(db *sql.DB) *StudentStore {
	return &StudentStore{db: db}
}

// GetByID retrieves a student by ID.
func (s *StudentStore) GetByID(ctx context.Context, id int) (*model.Student, error) {
	var (
		st      model.Student
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, nisn, name, class_id, created_at FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.NISN, &st.Name, &st.ClassID, &created)
	if err != nil {
		return nil, notFound(err)
	}
	st.CreatedAt = fromNanos(created)
	return &st, nil
}

// Create inserts a new student.
func (s *StudentStore) Create(ctx context.Context, st *model.Student) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO students (nisn, name, class_id, created_at) VALUES (?, ?, ?, ?)`,
		st.NISN, st.Name, st.ClassID, toNanos(now))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateNISN
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	st.ID = int(id)
	st.CreatedAt = now
	return nil
}

// ─── Attempts ─────────────────────────────────────────────────────────

// AttemptStore handles attempt data access.
type AttemptStore struct {
	db *sql.DB
}

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

const attemptColumns = `id, assessment_id, student_id, status, started_at, completed_at, submit_reason,
	answers_json, auto_score, auto_max, manual_score, manual_max, manual_scores_json, combined_score`

func scanAttempt(row rowScanner) (*model.Attempt, error) {
	var (
		a                                model.Attempt
		id, aid, answers                 string
		started                          int64
		completed                        sql.NullInt64
		reason, manualJSON               sql.NullString
		autoScore, autoMax, mScore, mMax sql.NullInt64
		combined                         sql.NullFloat64
	)
	if err := row.Scan(&id, &aid, &a.StudentID, &a.Status, &started, &completed, &reason,
		&answers, &autoScore, &autoMax, &mScore, &mMax, &manualJSON, &combined); err != nil {
		return nil, notFound(err)
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse attempt id: %w", err)
	}
	if a.AssessmentID, err = uuid.Parse(aid); err != nil {
		return nil, fmt.Errorf("parse assessment id: %w", err)
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if a.Answers == nil {
		a.Answers = []string{}
	}
	if manualJSON.Valid {
		if err := json.Unmarshal([]byte(manualJSON.String), &a.ManualScores); err != nil {
			return nil, fmt.Errorf("decode manual scores: %w", err)
		}
	}
	if reason.Valid {
		r := model.SubmitReason(reason.String)
		a.SubmitReason = &r
	}
	a.StartedAt = fromNanos(started)
	a.CompletedAt = timePtr(completed)
	a.AutoScore = intPtr(autoScore)
	a.AutoMax = intPtr(autoMax)
	a.ManualScore = intPtr(mScore)
	a.ManualMax = intPtr(mMax)
	a.CombinedScore = floatPtr(combined)
	return &a, nil
}

func encodeAnswers(answers []string) (string, error) {
	if answers == nil {
		answers = []string{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(raw), nil
}

func encodeManual(m map[string]int) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode manual scores: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// GetByID retrieves an attempt by ID.
func (s *AttemptStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id.String()))
}

// FindByAssessmentAndStudent retrieves the attempt of a student at an assessment.
func (s *AttemptStore) FindByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE assessment_id = ? AND student_id = ?`,
		assessmentID.String(), studentID))
}

// Create inserts a new in-progress attempt.
func (s *AttemptStore) Create(ctx context.Context, a *model.Attempt) error {
	answers, err := encodeAnswers(a.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, assessment_id, student_id, status, started_at, answers_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.AssessmentID.String(), a.StudentID, model.AttemptStatusInProgress,
		toNanos(a.StartedAt), answers)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrAttemptExists
		}
		return err
	}
	return nil
}

// SaveAnswers overwrites the answer array of an in-progress attempt.
func (s *AttemptStore) SaveAnswers(ctx context.Context, id uuid.UUID, answers []string) error {
	raw, err := encodeAnswers(answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET answers_json = ? WHERE id = ? AND status = ?`,
		raw, id.String(), model.AttemptStatusInProgress)
	if err != nil {
		return err
	}
	return s.guarded(ctx, res, id)
}

// Finalize writes the final answers and marks the attempt completed.
func (s *AttemptStore) Finalize(ctx context.Context, id uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error {
	raw, err := encodeAnswers(answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET answers_json = ?, status = ?, completed_at = ?, submit_reason = ?
		 WHERE id = ? AND status = ?`,
		raw, model.AttemptStatusCompleted, toNanos(completedAt), reason,
		id.String(), model.AttemptStatusInProgress)
	if err != nil {
		return err
	}
	return s.guarded(ctx, res, id)
}

func (s *AttemptStore) guarded(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	if err := s.db.QueryRowContext(ctx,
		`SELECT status FROM attempts WHERE id = ?`, id.String()).Scan(&status); err != nil {
		return notFound(err)
	}
	return model.ErrAttemptFinalized
}

// SaveScores writes the score columns of a completed attempt.
func (s *AttemptStore) SaveScores(ctx context.Context, id uuid.UUID, sc model.AttemptScores) error {
	manual, err := encodeManual(sc.ManualScores)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts
		 SET auto_score = ?, auto_max = ?, manual_score = ?, manual_max = ?,
		     manual_scores_json = ?, combined_score = ?
		 WHERE id = ? AND status = ?`,
		nullInt(sc.AutoScore), nullInt(sc.AutoMax), nullInt(sc.ManualScore), nullInt(sc.ManualMax),
		manual, nullFloat(sc.CombinedScore), id.String(), model.AttemptStatusCompleted)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return model.ErrAttemptNotCompleted
	}
	return nil
}

// SaveScoresBatch writes many score rows in one transaction. Rows for
// attempts that are not completed are skipped. Rows whose manual scores
// moved since they were read are skipped and reported as stale.
func (s *AttemptStore) SaveScoresBatch(ctx context.Context, updates []repository.ScoreUpdate) ([]uuid.UUID, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var stale []uuid.UUID
	for _, u := range updates {
		ok, err := saveScoresGuarded(ctx, tx, u)
		if err != nil {
			return nil, fmt.Errorf("save scores of %s: %w", u.AttemptID, err)
		}
		if ok {
			continue
		}
		var status string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM attempts WHERE id = ?`, u.AttemptID.String()).Scan(&status)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check scores of %s: %w", u.AttemptID, err)
		}
		if status == string(model.AttemptStatusCompleted) {
			stale = append(stale, u.AttemptID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stale, nil
}

// saveScoresGuarded compares manual_scores_json with the map the scores were
// computed from. The JSON encoding sorts keys, so equal maps compare equal.
func saveScoresGuarded(ctx context.Context, tx *sql.Tx, u repository.ScoreUpdate) (bool, error) {
	manual, err := encodeManual(u.Scores.ManualScores)
	if err != nil {
		return false, err
	}
	read, err := encodeManual(u.ReadManual)
	if err != nil {
		return false, err
	}
	sc := u.Scores
	res, err := tx.ExecContext(ctx,
		`UPDATE attempts
		 SET auto_score = ?, auto_max = ?, manual_score = ?, manual_max = ?,
		     manual_scores_json = ?, combined_score = ?
		 WHERE id = ? AND status = ? AND manual_scores_json IS ?`,
		nullInt(sc.AutoScore), nullInt(sc.AutoMax), nullInt(sc.ManualScore), nullInt(sc.ManualMax),
		manual, nullFloat(sc.CombinedScore), u.AttemptID.String(), model.AttemptStatusCompleted, read)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByAssessment returns one summary row per attempt, ordered by student name.
func (s *AttemptStore) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.student_id, st.name, a.status, a.started_at, a.completed_at,
		        a.auto_score, a.manual_score, a.combined_score
		 FROM attempts a
		 JOIN students st ON st.id = a.student_id
		 WHERE a.assessment_id = ?
		 ORDER BY st.name ASC, a.started_at ASC`, assessmentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var (
			sum               model.AttemptSummary
			id                string
			started           int64
			completed         sql.NullInt64
			autoScore, manual sql.NullInt64
			combined          sql.NullFloat64
		)
		if err := rows.Scan(&id, &sum.StudentID, &sum.StudentName, &sum.Status, &started,
			&completed, &autoScore, &manual, &combined); err != nil {
			return nil, err
		}
		if sum.AttemptID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse attempt id: %w", err)
		}
		sum.StartedAt = fromNanos(started)
		sum.CompletedAt = timePtr(completed)
		sum.AutoScore = intPtr(autoScore)
		sum.ManualScore = intPtr(manual)
		sum.CombinedScore = floatPtr(combined)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListCompletedUnscored returns up to limit completed attempts that have no
// auto score yet, oldest first.
func (s *AttemptStore) ListCompletedUnscored(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM attempts
		 WHERE status = ? AND auto_score IS NULL
		 ORDER BY completed_at ASC
		 LIMIT ?`, model.AttemptStatusCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse attempt id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
