package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// recordingAttempts extends fakeAttempts with the answer writes the queued
// store falls back to.
type recordingAttempts struct {
	*fakeAttempts

	written     map[uuid.UUID][]string
	finalizeErr error
}

func (r *recordingAttempts) SaveAnswers(_ context.Context, id uuid.UUID, answers []string) error {
	a, ok := r.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	if a.Completed() {
		return model.ErrAttemptFinalized
	}
	r.written[id] = answers
	a.Answers = answers
	return nil
}

func (r *recordingAttempts) Finalize(_ context.Context, id uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error {
	if r.finalizeErr != nil {
		return r.finalizeErr
	}
	a, ok := r.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	if a.Completed() {
		return model.ErrAttemptFinalized
	}
	a.Status = model.AttemptStatusCompleted
	a.Answers = answers
	a.CompletedAt = &completedAt
	a.SubmitReason = &reason
	return nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

type storeFixture struct {
	mr       *miniredis.Miniredis
	store    *QueuedAttemptStore
	attempts *recordingAttempts
	attempt  *model.Attempt
}

func newStoreFixture(t *testing.T, stored []string) *storeFixture {
	t.Helper()
	mr, rdb := newRedis(t)
	a := &model.Attempt{
		ID:           uuid.New(),
		AssessmentID: uuid.New(),
		StudentID:    7,
		Status:       model.AttemptStatusInProgress,
		StartedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		Answers:      stored,
	}
	attempts := &recordingAttempts{
		fakeAttempts: &fakeAttempts{rows: map[uuid.UUID]*model.Attempt{a.ID: a}},
		written:      make(map[uuid.UUID][]string),
	}
	return &storeFixture{
		mr:       mr,
		store:    NewQueuedAttemptStore(attempts, rdb, time.Hour, zerolog.Nop()),
		attempts: attempts,
		attempt:  a,
	}
}

func (f *storeFixture) queue(t *testing.T, key string) []string {
	t.Helper()
	if !f.mr.Exists(key) {
		return nil
	}
	items, err := f.mr.List(key)
	if err != nil {
		t.Fatalf("list %s: %v", key, err)
	}
	return items
}

// ─── Autosave ───────────────────────────────────────────────────────

func TestQueuedSaveAnswers(t *testing.T) {
	f := newStoreFixture(t, []string{"", "", ""})
	ctx := context.Background()
	id := f.attempt.ID.String()

	answers := []string{"B", "photosynthesis", ""}
	if err := f.store.SaveAnswers(ctx, f.attempt.ID, answers); err != nil {
		t.Fatalf("SaveAnswers: %v", err)
	}

	raw, err := f.mr.Get(config.CacheKey.AttemptAnswersKey(id))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var got []string
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, answers) {
		t.Errorf("snapshot = %q, want %q", got, answers)
	}
	if ttl := f.mr.TTL(config.CacheKey.AttemptAnswersKey(id)); ttl != time.Hour {
		t.Errorf("snapshot ttl = %v, want 1h", ttl)
	}
	if q := f.queue(t, config.WorkerKey.PersistAnswersQueue); !reflect.DeepEqual(q, []string{id}) {
		t.Errorf("persist queue = %v", q)
	}
	if len(f.attempts.written) != 0 {
		t.Error("queued autosave must not write to the database")
	}
}

func TestQueuedSaveAnswersWritesThroughWithoutRedis(t *testing.T) {
	f := newStoreFixture(t, []string{"", ""})
	f.mr.SetError("ERR server unavailable")

	answers := []string{"A", ""}
	if err := f.store.SaveAnswers(context.Background(), f.attempt.ID, answers); err != nil {
		t.Fatalf("SaveAnswers: %v", err)
	}
	if got := f.attempts.written[f.attempt.ID]; !reflect.DeepEqual(got, answers) {
		t.Errorf("written = %q, want %q", got, answers)
	}

	f.attempt.Status = model.AttemptStatusCompleted
	if err := f.store.SaveAnswers(context.Background(), f.attempt.ID, answers); !errors.Is(err, model.ErrAttemptFinalized) {
		t.Errorf("write-through on completed attempt: %v", err)
	}
}

func TestQueuedSaveAnswersAfterFinalize(t *testing.T) {
	f := newStoreFixture(t, []string{"", ""})
	ctx := context.Background()
	id := f.attempt.ID.String()

	if err := f.store.Finalize(ctx, f.attempt.ID, []string{"A", "B"}, time.Now(), model.SubmitReasonManual); err != nil {
		t.Fatal(err)
	}

	// A second tab still holding the attempt flushes its buffer.
	err := f.store.SaveAnswers(ctx, f.attempt.ID, []string{"C", "D"})
	if !errors.Is(err, model.ErrAttemptFinalized) {
		t.Fatalf("err = %v, want ErrAttemptFinalized", err)
	}
	if f.mr.Exists(config.CacheKey.AttemptAnswersKey(id)) {
		t.Error("snapshot written for a finalized attempt")
	}
	if q := f.queue(t, config.WorkerKey.PersistAnswersQueue); len(q) != 0 {
		t.Errorf("persist queue = %v, want empty", q)
	}
	if got := f.attempt.Answers; !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("answers = %q, want the submitted ones", got)
	}
}

func TestQueuedSaveAnswersAfterReload(t *testing.T) {
	f := newStoreFixture(t, []string{"A"})
	ctx := context.Background()
	f.attempt.Status = model.AttemptStatusCompleted

	// The marker is gone, but looking the attempt up restores it.
	if _, err := f.store.FindAttempt(ctx, f.attempt.AssessmentID, f.attempt.StudentID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SaveAnswers(ctx, f.attempt.ID, []string{"B"}); !errors.Is(err, model.ErrAttemptFinalized) {
		t.Errorf("err = %v, want ErrAttemptFinalized", err)
	}
}

// ─── Finalize ───────────────────────────────────────────────────────

func TestQueuedFinalize(t *testing.T) {
	f := newStoreFixture(t, []string{"", ""})
	ctx := context.Background()
	id := f.attempt.ID.String()

	if err := f.store.SaveAnswers(ctx, f.attempt.ID, []string{"A", ""}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Finalize(ctx, f.attempt.ID, []string{"A", "B"}, time.Now(), model.SubmitReasonTimeExpired); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if !f.attempt.Completed() || f.attempt.SubmitReason == nil || *f.attempt.SubmitReason != model.SubmitReasonTimeExpired {
		t.Errorf("attempt = %s / %v", f.attempt.Status, f.attempt.SubmitReason)
	}
	if f.mr.Exists(config.CacheKey.AttemptAnswersKey(id)) {
		t.Error("snapshot must be dropped on finalize")
	}
	if q := f.queue(t, config.WorkerKey.ScoreAttemptsQueue); !reflect.DeepEqual(q, []string{id}) {
		t.Errorf("score queue = %v", q)
	}

	if err := f.store.Finalize(ctx, f.attempt.ID, []string{"X", "Y"}, time.Now(), model.SubmitReasonManual); !errors.Is(err, model.ErrAttemptFinalized) {
		t.Errorf("second finalize: %v", err)
	}
	if q := f.queue(t, config.WorkerKey.ScoreAttemptsQueue); len(q) != 1 {
		t.Errorf("score queue = %v, want a single entry", q)
	}
}

func TestQueuedFinalizeFailureKeepsAutosaves(t *testing.T) {
	f := newStoreFixture(t, []string{""})
	ctx := context.Background()
	f.attempts.finalizeErr = errors.New("connection reset")

	if err := f.store.Finalize(ctx, f.attempt.ID, []string{"A"}, time.Now(), model.SubmitReasonManual); err == nil {
		t.Fatal("Finalize succeeded on a failing store")
	}
	if f.mr.Exists(config.CacheKey.AttemptFinalKey(f.attempt.ID.String())) {
		t.Error("final marker left behind by a failed finalize")
	}
	if err := f.store.SaveAnswers(ctx, f.attempt.ID, []string{"A"}); err != nil {
		t.Errorf("autosave after failed finalize: %v", err)
	}
}

// ─── Resume ─────────────────────────────────────────────────────────

func TestQueuedFindAttemptOverlay(t *testing.T) {
	tests := []struct {
		name     string
		stored   []string
		snapshot string
		want     []string
	}{
		{name: "no snapshot", stored: []string{"A", ""}, want: []string{"A", ""}},
		{name: "newer snapshot", stored: []string{"A", ""}, snapshot: `["A","C"]`, want: []string{"A", "C"}},
		{name: "nothing stored yet", stored: nil, snapshot: `["B"]`, want: []string{"B"}},
		{name: "length mismatch", stored: []string{"A", ""}, snapshot: `["A","C","D"]`, want: []string{"A", ""}},
		{name: "corrupt snapshot", stored: []string{"A", ""}, snapshot: `{"oops"`, want: []string{"A", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t, tt.stored)
			if tt.snapshot != "" {
				if err := f.mr.Set(config.CacheKey.AttemptAnswersKey(f.attempt.ID.String()), tt.snapshot); err != nil {
					t.Fatal(err)
				}
			}

			a, err := f.store.FindAttempt(context.Background(), f.attempt.AssessmentID, f.attempt.StudentID)
			if err != nil {
				t.Fatalf("FindAttempt: %v", err)
			}
			if !reflect.DeepEqual(a.Answers, tt.want) {
				t.Errorf("answers = %q, want %q", a.Answers, tt.want)
			}

			key := config.CacheKey.StudentAttemptStartKey(f.attempt.AssessmentID.String(), f.attempt.StudentID)
			if got, _ := f.mr.Get(key); got != strconv.FormatInt(f.attempt.StartedAt.UnixNano(), 10) {
				t.Errorf("cached start = %q", got)
			}
		})
	}
}

func TestQueuedStartedAt(t *testing.T) {
	f := newStoreFixture(t, nil)
	ctx := context.Background()
	key := config.CacheKey.StudentAttemptStartKey(f.attempt.AssessmentID.String(), f.attempt.StudentID)

	got, err := f.store.StartedAt(ctx, f.attempt.AssessmentID, f.attempt.StudentID)
	if err != nil || !got.Equal(f.attempt.StartedAt) {
		t.Fatalf("StartedAt = %v, %v", got, err)
	}
	if !f.mr.Exists(key) {
		t.Fatal("start time not cached after a database read")
	}

	// Served from cache once the row is out of reach.
	delete(f.attempts.rows, f.attempt.ID)
	if got, err := f.store.StartedAt(ctx, f.attempt.AssessmentID, f.attempt.StudentID); err != nil || !got.Equal(f.attempt.StartedAt) {
		t.Errorf("cached StartedAt = %v, %v", got, err)
	}

	if err := f.mr.Set(key, "garbage"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.StartedAt(ctx, f.attempt.AssessmentID, f.attempt.StudentID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("invalid cache entry must fall back to the database: %v", err)
	}
}
