package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const testStudentID = 7

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// ─── Directory ────────────────────────────────────────────────────────

type memDirectory struct {
	mu          sync.Mutex
	students    map[int]*model.Student
	assessments map[uuid.UUID]*model.Assessment
	questions   map[uuid.UUID][]model.Question
	err         error
}

func (d *memDirectory) Student(_ context.Context, id int) (*model.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s, ok := d.students[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *memDirectory) Assessment(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.assessments[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (d *memDirectory) Questions(_ context.Context, id uuid.UUID) ([]model.Question, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	qs := d.questions[id]
	out := make([]model.Question, len(qs))
	copy(out, qs)
	return out, nil
}

// ─── Store ────────────────────────────────────────────────────────────

type finalizeCall struct {
	answers     []string
	completedAt time.Time
	reason      model.SubmitReason
}

type memStore struct {
	mu        sync.Mutex
	attempts  map[uuid.UUID]*model.Attempt
	creates   int
	saves     [][]string
	finalizes []finalizeCall

	createErr   error
	findErr     error
	saveErr     error
	finalizeErr error

	// saveGate, when set, blocks SaveAnswers until it is closed.
	saveGate    chan struct{}
	saveEntered chan struct{}
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[uuid.UUID]*model.Attempt)}
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	cp := *a
	cp.Answers = append([]string(nil), a.Answers...)
	return &cp
}

func (s *memStore) FindAttempt(_ context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, a := range s.attempts {
		if a.AssessmentID == assessmentID && a.StudentID == studentID {
			return cloneAttempt(a), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memStore) CreateAttempt(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.attempts {
		if existing.AssessmentID == a.AssessmentID && existing.StudentID == a.StudentID {
			return model.ErrAttemptExists
		}
	}
	s.creates++
	s.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (s *memStore) SaveAnswers(_ context.Context, id uuid.UUID, answers []string) error {
	s.mu.Lock()
	gate, entered := s.saveGate, s.saveEntered
	s.mu.Unlock()
	if gate != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, append([]string(nil), answers...))
	if s.saveErr != nil {
		return s.saveErr
	}
	a, ok := s.attempts[id]
	if !ok {
		return model.ErrNotFound
	}
	if a.Completed() {
		return model.ErrAttemptFinalized
	}
	a.Answers = append([]string(nil), answers...)
	return nil
}

func (s *memStore) Finalize(_ context.Context, id uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes = append(s.finalizes, finalizeCall{
		answers:     append([]string(nil), answers...),
		completedAt: completedAt,
		reason:      reason,
	})
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	a, ok := s.attempts[id]
	if !ok {
		return model.ErrNotFound
	}
	if a.Completed() {
		return model.ErrAttemptFinalized
	}
	a.Status = model.AttemptStatusCompleted
	a.CompletedAt = &completedAt
	a.SubmitReason = &reason
	a.Answers = append([]string(nil), answers...)
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memStore) finalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finalizes)
}

func (s *memStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *memStore) only(t *testing.T) *model.Attempt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attempts) != 1 {
		t.Fatalf("store holds %d attempts, want 1", len(s.attempts))
	}
	for _, a := range s.attempts {
		return cloneAttempt(a)
	}
	return nil
}

func (s *memStore) put(a *model.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = cloneAttempt(a)
}

// ─── Watcher ──────────────────────────────────────────────────────────

type chanWatcher struct {
	ch chan model.AssessmentStatus
}

func (w *chanWatcher) WatchStatus(ctx context.Context, _ uuid.UUID) (<-chan model.AssessmentStatus, error) {
	return w.ch, nil
}

// ─── Fixture ──────────────────────────────────────────────────────────

type fixture struct {
	clock      fakeClock
	dir        *memDirectory
	store      *memStore
	watcher    StatusWatcher
	assessment *model.Assessment
	questions  []model.Question
}

// newFixture builds a published mixed assessment with one choice question
// (key "A"), one free-text question and one two-part question, 10 points each.
func newFixture(durationMinutes int) *fixture {
	a := &model.Assessment{
		ID:              uuid.New(),
		Title:           "Physics midterm",
		Kind:            model.AssessmentKindMixed,
		DurationMinutes: durationMinutes,
		Status:          model.AssessmentStatusPublished,
		QuestionCount:   3,
	}
	qs := []model.Question{
		{ID: uuid.New(), AssessmentID: a.ID, Ordinal: 1, Points: 10, Variant: model.QuestionVariantChoice, Key: "A",
			Options: []model.Option{{Label: "A"}, {Label: "B"}, {Label: "C"}, {Label: "D"}}},
		{ID: uuid.New(), AssessmentID: a.ID, Ordinal: 2, Points: 10, Variant: model.QuestionVariantFreeText},
		{ID: uuid.New(), AssessmentID: a.ID, Ordinal: 3, Points: 10, Variant: model.QuestionVariantMultiPart, Parts: 2},
	}

	return &fixture{
		clock: clockwork.NewFakeClockAt(t0),
		dir: &memDirectory{
			students:    map[int]*model.Student{testStudentID: {ID: testStudentID, Name: "Sari"}},
			assessments: map[uuid.UUID]*model.Assessment{a.ID: a},
			questions:   map[uuid.UUID][]model.Question{a.ID: qs},
		},
		store:      newMemStore(),
		assessment: a,
		questions:  qs,
	}
}

func (f *fixture) controller(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	c := New(f.assessment.ID, testStudentID, Deps{
		Directory: f.dir,
		Store:     f.store,
		Watcher:   f.watcher,
		Clock:     f.clock,
		Log:       zerolog.Nop(),
	}, opts...)
	t.Cleanup(c.Close)
	return c
}

// started returns a controller that has loaded and started an attempt.
func (f *fixture) started(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	c := f.controller(t, opts...)
	ctx := context.Background()
	if s, err := c.Load(ctx); err != nil || s.State != StateReady {
		t.Fatalf("Load: state=%s err=%v", s.State, err)
	}
	if s, err := c.Start(ctx); err != nil || s.State != StateInProgress {
		t.Fatalf("Start: state=%s err=%v", s.State, err)
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustSnapshot(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	s, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func waitState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	var s Snapshot
	eventually(t, "state "+string(want), func() bool {
		s = mustSnapshot(t, c)
		return s.State == want
	})
	return s
}
