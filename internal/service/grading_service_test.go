package service

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/repository/sqlstore"

	_ "modernc.org/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeAttempts struct {
	rows  map[uuid.UUID]*model.Attempt
	saved []model.AttemptScores

	// beforeBatch runs ahead of each guarded write, standing in for a
	// grader who saves between Compute and the write.
	beforeBatch func()
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, ok := f.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	cp.Answers = append([]string(nil), a.Answers...)
	return &cp, nil
}

func (f *fakeAttempts) FindByAssessmentAndStudent(_ context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	for _, a := range f.rows {
		if a.AssessmentID == assessmentID && a.StudentID == studentID {
			return a, nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeAttempts) Create(_ context.Context, a *model.Attempt) error {
	f.rows[a.ID] = a
	return nil
}

func (f *fakeAttempts) SaveAnswers(context.Context, uuid.UUID, []string) error { return nil }

func (f *fakeAttempts) Finalize(context.Context, uuid.UUID, []string, time.Time, model.SubmitReason) error {
	return nil
}

func (f *fakeAttempts) SaveScores(_ context.Context, id uuid.UUID, s model.AttemptScores) error {
	a, ok := f.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	if !a.Completed() {
		return model.ErrAttemptNotCompleted
	}
	a.AutoScore, a.AutoMax = s.AutoScore, s.AutoMax
	a.ManualScore, a.ManualMax = s.ManualScore, s.ManualMax
	a.ManualScores, a.CombinedScore = s.ManualScores, s.CombinedScore
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeAttempts) SaveScoresBatch(ctx context.Context, updates []repository.ScoreUpdate) ([]uuid.UUID, error) {
	if f.beforeBatch != nil {
		f.beforeBatch()
	}
	var stale []uuid.UUID
	for _, u := range updates {
		a, ok := f.rows[u.AttemptID]
		if !ok || !a.Completed() {
			continue
		}
		if !sameManual(a.ManualScores, u.ReadManual) {
			stale = append(stale, u.AttemptID)
			continue
		}
		if err := f.SaveScores(ctx, u.AttemptID, u.Scores); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

func sameManual(a, b map[string]int) bool {
	if len(a) == 0 && len(b) == 0 {
		return (a == nil) == (b == nil)
	}
	return reflect.DeepEqual(a, b)
}

func (f *fakeAttempts) ListByAssessment(context.Context, uuid.UUID) ([]model.AttemptSummary, error) {
	return nil, nil
}

func (f *fakeAttempts) ListCompletedUnscored(context.Context, int) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeRef struct {
	assessment *model.Assessment
	questions  []model.Question
}

func (f *fakeRef) GetByID(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	if f.assessment.ID != id {
		return nil, model.ErrNotFound
	}
	return f.assessment, nil
}

func (f *fakeRef) Questions(context.Context, uuid.UUID) ([]model.Question, error) {
	return f.questions, nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type gradingFixture struct {
	svc      *GradingService
	attempts *fakeAttempts
	attempt  *model.Attempt
	q        []model.Question
}

// newGradingFixture builds a mixed assessment: a 10-point choice question
// answered correctly, a 10-point free-text question and a 10-point
// two-part question.
func newGradingFixture(t *testing.T, status model.AttemptStatus) *gradingFixture {
	t.Helper()
	asm := &model.Assessment{ID: uuid.New(), Kind: model.AssessmentKindMixed, Status: model.AssessmentStatusPublished}
	qs := gradingQuestions(asm.ID)
	a := &model.Attempt{
		ID:           uuid.New(),
		AssessmentID: asm.ID,
		StudentID:    7,
		Status:       status,
		StartedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		Answers:      []string{"B", "photosynthesis", `["x","y"]`},
	}
	attempts := &fakeAttempts{rows: map[uuid.UUID]*model.Attempt{a.ID: a}}
	return &gradingFixture{
		svc:      NewGradingService(attempts, &fakeRef{assessment: asm, questions: qs}, zerolog.Nop()),
		attempts: attempts,
		attempt:  a,
		q:        qs,
	}
}

func gradingQuestions(assessmentID uuid.UUID) []model.Question {
	return []model.Question{
		{ID: uuid.New(), AssessmentID: assessmentID, Ordinal: 1, Points: 10, Variant: model.QuestionVariantChoice, Key: "B",
			Options: []model.Option{{Label: "A"}, {Label: "B"}}},
		{ID: uuid.New(), AssessmentID: assessmentID, Ordinal: 2, Points: 10, Variant: model.QuestionVariantFreeText},
		{ID: uuid.New(), AssessmentID: assessmentID, Ordinal: 3, Points: 10, Variant: model.QuestionVariantMultiPart, Parts: 2},
	}
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestAutoScore(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusCompleted)

	r, err := f.svc.AutoScore(context.Background(), f.attempt.ID)
	if err != nil {
		t.Fatalf("AutoScore: %v", err)
	}
	if r.Breakdown.AutoRaw != 10 || r.Breakdown.Pending != 2 {
		t.Errorf("breakdown = %+v", r.Breakdown)
	}

	got := f.attempts.rows[f.attempt.ID]
	if got.AutoScore == nil || *got.AutoScore != 10 || *got.AutoMax != 10 {
		t.Errorf("auto = %v / %v", got.AutoScore, got.AutoMax)
	}
	if got.ManualMax == nil || *got.ManualMax != 20 {
		t.Errorf("manual max = %v, want 20", got.ManualMax)
	}
	if got.ManualScore != nil || got.CombinedScore != nil {
		t.Error("manual score and combined must stay nil while grading is pending")
	}
}

func TestAutoScoreRecomputesAfterConcurrentGrade(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusCompleted)
	graded := map[string]int{f.q[1].ID.String(): 7, f.q[2].ID.String(): 5}

	regrades := 1
	f.attempts.beforeBatch = func() {
		if regrades == 0 {
			return
		}
		regrades--
		f.attempts.rows[f.attempt.ID].ManualScores = graded
	}

	r, err := f.svc.AutoScore(context.Background(), f.attempt.ID)
	if err != nil {
		t.Fatalf("AutoScore: %v", err)
	}
	got := f.attempts.rows[f.attempt.ID]
	if !reflect.DeepEqual(got.ManualScores, graded) {
		t.Errorf("manual scores = %v, want the grader's map", got.ManualScores)
	}
	if got.CombinedScore == nil || *got.CombinedScore != 73.33 {
		t.Errorf("combined = %v, want 73.33", got.CombinedScore)
	}
	if r.Breakdown.Pending != 0 {
		t.Errorf("pending = %d", r.Breakdown.Pending)
	}
}

func TestAutoScoreGivesUpWhenGradesKeepChanging(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusCompleted)

	n := 0
	f.attempts.beforeBatch = func() {
		n++
		f.attempts.rows[f.attempt.ID].ManualScores = map[string]int{f.q[1].ID.String(): n}
	}

	if _, err := f.svc.AutoScore(context.Background(), f.attempt.ID); !errors.Is(err, model.ErrScoresConflict) {
		t.Fatalf("err = %v, want ErrScoresConflict", err)
	}
	if len(f.attempts.saved) != 0 {
		t.Errorf("saved = %v, want no write", f.attempts.saved)
	}
}

func TestAutoScoreRejectsInProgress(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusInProgress)

	if _, err := f.svc.AutoScore(context.Background(), f.attempt.ID); !errors.Is(err, model.ErrAttemptNotCompleted) {
		t.Fatalf("err = %v, want ErrAttemptNotCompleted", err)
	}
	if _, err := f.svc.AutoScore(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown attempt: %v", err)
	}
}

func TestSaveManualScoresEndToEnd(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusCompleted)
	ctx := context.Background()

	choiceID := f.q[0].ID.String()
	scores := map[string]int{
		f.q[1].ID.String(): 7,
		f.q[2].ID.String(): 5,
		choiceID:           3,
		"bogus":            1,
	}

	r, rejected, err := f.svc.SaveManualScores(ctx, f.attempt.ID, scores)
	if err != nil {
		t.Fatalf("SaveManualScores: %v", err)
	}

	want := []string{choiceID, "bogus"}
	sort.Strings(want)
	if !reflect.DeepEqual(rejected, want) {
		t.Errorf("rejected = %v, want %v", rejected, want)
	}
	if r.Breakdown.AutoRaw != 10 || r.Breakdown.ManualRaw != 12 || r.Breakdown.Pending != 0 {
		t.Errorf("breakdown = %+v", r.Breakdown)
	}
	if r.Breakdown.Combined == nil || *r.Breakdown.Combined != 73.33 {
		t.Fatalf("combined = %v, want 73.33", r.Breakdown.Combined)
	}

	got := f.attempts.rows[f.attempt.ID]
	if got.CombinedScore == nil || *got.CombinedScore != 73.33 {
		t.Errorf("stored combined = %v", got.CombinedScore)
	}
	if got.ManualScore == nil || *got.ManualScore != 12 {
		t.Errorf("stored manual = %v", got.ManualScore)
	}
	if _, ok := got.ManualScores[choiceID]; ok {
		t.Error("auto-graded question must not carry a manual score")
	}
}

func TestSaveManualScoresOverwrites(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusCompleted)
	ctx := context.Background()

	if _, _, err := f.svc.SaveManualScores(ctx, f.attempt.ID, map[string]int{
		f.q[1].ID.String(): 7,
		f.q[2].ID.String(): 5,
	}); err != nil {
		t.Fatal(err)
	}

	r, rejected, err := f.svc.SaveManualScores(ctx, f.attempt.ID, map[string]int{f.q[1].ID.String(): 150})
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected) != 0 {
		t.Errorf("rejected = %v", rejected)
	}

	got := f.attempts.rows[f.attempt.ID]
	if !reflect.DeepEqual(got.ManualScores, map[string]int{f.q[1].ID.String(): 10}) {
		t.Errorf("manual scores = %v, want only the clamped regrade", got.ManualScores)
	}
	if r.Breakdown.Pending != 1 || got.CombinedScore != nil {
		t.Errorf("pending = %d combined = %v", r.Breakdown.Pending, got.CombinedScore)
	}
}

func TestSaveManualScoresNegativeClamp(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusCompleted)

	_, _, err := f.svc.SaveManualScores(context.Background(), f.attempt.ID, map[string]int{
		f.q[1].ID.String(): -5,
		f.q[2].ID.String(): 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := f.attempts.rows[f.attempt.ID]
	if got.ManualScores[f.q[1].ID.String()] != 0 || *got.ManualScore != 10 {
		t.Errorf("manual = %v / %v", got.ManualScores, *got.ManualScore)
	}
	if *got.CombinedScore != 66.67 {
		t.Errorf("combined = %v, want 66.67", *got.CombinedScore)
	}
}

func TestSaveManualScoresRequiresCompletion(t *testing.T) {
	f := newGradingFixture(t, model.AttemptStatusInProgress)

	_, _, err := f.svc.SaveManualScores(context.Background(), f.attempt.ID, map[string]int{f.q[1].ID.String(): 3})
	if !errors.Is(err, model.ErrAttemptNotCompleted) {
		t.Fatalf("err = %v", err)
	}
	if len(f.attempts.saved) != 0 {
		t.Error("nothing may be written for an in-progress attempt")
	}
}

// TestScoringWriteKeepsLaterManualGrades runs the worker's read, a grader's
// save and the worker's batch write against a real store, in that order.
func TestScoringWriteKeepsLaterManualGrades(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := sqlstore.EnsureSchema(ctx, db); err != nil {
		t.Fatal(err)
	}

	asm := &model.Assessment{Title: "Biology quiz", Kind: model.AssessmentKindMixed, DurationMinutes: 30, Status: model.AssessmentStatusPublished}
	if err := sqlstore.NewAssessmentStore(db).Create(ctx, asm); err != nil {
		t.Fatal(err)
	}
	st := &model.Student{NISN: "0057777777", Name: "Dewi"}
	if err := sqlstore.NewStudentStore(db).Create(ctx, st); err != nil {
		t.Fatal(err)
	}
	attempts := sqlstore.NewAttemptStore(db)
	a := &model.Attempt{
		ID:           uuid.New(),
		AssessmentID: asm.ID,
		StudentID:    st.ID,
		StartedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		Answers:      []string{"B", "photosynthesis", `["x","y"]`},
	}
	if err := attempts.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := attempts.Finalize(ctx, a.ID, a.Answers, a.StartedAt.Add(20*time.Minute), model.SubmitReasonManual); err != nil {
		t.Fatal(err)
	}

	qs := gradingQuestions(asm.ID)
	svc := NewGradingService(attempts, &fakeRef{assessment: asm, questions: qs}, zerolog.Nop())

	computed, err := svc.Compute(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	graded := map[string]int{qs[1].ID.String(): 7, qs[2].ID.String(): 5}
	if _, _, err := svc.SaveManualScores(ctx, a.ID, graded); err != nil {
		t.Fatal(err)
	}

	stale, err := attempts.SaveScoresBatch(ctx, []repository.ScoreUpdate{*computed})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(stale, []uuid.UUID{a.ID}) {
		t.Fatalf("stale = %v, want the regraded attempt", stale)
	}

	got, err := attempts.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.ManualScores, graded) {
		t.Errorf("manual scores = %v, want %v", got.ManualScores, graded)
	}
	if got.CombinedScore == nil || *got.CombinedScore != 73.33 {
		t.Errorf("combined = %v, want 73.33", got.CombinedScore)
	}

	// The requeued attempt is scored again from the stored grades.
	again, err := svc.Compute(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stale, err := attempts.SaveScoresBatch(ctx, []repository.ScoreUpdate{*again}); err != nil || len(stale) != 0 {
		t.Fatalf("rescore = %v, %v", stale, err)
	}
	if got, _ := attempts.GetByID(ctx, a.ID); got.CombinedScore == nil || *got.CombinedScore != 73.33 {
		t.Errorf("combined after rescore = %v", got.CombinedScore)
	}
}
