package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/session"
)

// finalMarkerTTL bounds how long a finalized attempt keeps rejecting queued
// autosaves. FindAttempt renews the marker whenever it sees the attempt.
const finalMarkerTTL = 24 * time.Hour

// queueAutosave stores the snapshot and queues it for persistence unless
// the attempt carries a final marker, in which case it returns 0.
//
// KEYS: final marker, snapshot, persist queue
// ARGV: snapshot JSON, TTL in ms (0 keeps it), attempt id
var queueAutosave = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[2], ARGV[1])
end
redis.call("RPUSH", KEYS[3], ARGV[3])
return 1
`)

// QueuedAttemptStore is the session store. Autosaves land in a Redis
// snapshot and are persisted by the autosave worker; finalization writes
// through to the database and queues the attempt for scoring.
type QueuedAttemptStore struct {
	attempts    repository.Attempts
	rdb         *redis.Client
	snapshotTTL time.Duration
	log         zerolog.Logger
}

var _ session.Store = (*QueuedAttemptStore)(nil)

// NewQueuedAttemptStore creates a new QueuedAttemptStore.
func NewQueuedAttemptStore(attempts repository.Attempts, rdb *redis.Client, snapshotTTL time.Duration, log zerolog.Logger) *QueuedAttemptStore {
	return &QueuedAttemptStore{
		attempts:    attempts,
		rdb:         rdb,
		snapshotTTL: snapshotTTL,
		log:         log.With().Str("component", "attempt_store").Logger(),
	}
}

// FindAttempt returns the stored attempt with any unflushed answer snapshot
// laid over it.
func (s *QueuedAttemptStore) FindAttempt(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.attempts.FindByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Completed() {
		s.markFinal(ctx, a.ID)
		return a, nil
	}

	answers, err := s.readSnapshot(ctx, a.ID)
	switch {
	case err == nil:
		if len(answers) == len(a.Answers) || len(a.Answers) == 0 {
			a.Answers = answers
		}
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Read answer snapshot failed, using stored answers")
	}

	s.cacheStart(ctx, a)
	return a, nil
}

// CreateAttempt inserts the attempt and caches its start time.
func (s *QueuedAttemptStore) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	if err := s.attempts.Create(ctx, a); err != nil {
		return err
	}
	s.cacheStart(ctx, a)
	return nil
}

// SaveAnswers stores the snapshot and queues it for persistence. When Redis
// is unreachable the write goes straight to the database. Either way it
// returns model.ErrAttemptFinalized once the attempt is being finalized.
func (s *QueuedAttemptStore) SaveAnswers(ctx context.Context, attemptID uuid.UUID, answers []string) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	id := attemptID.String()
	keys := []string{
		config.CacheKey.AttemptFinalKey(id),
		config.CacheKey.AttemptAnswersKey(id),
		config.WorkerKey.PersistAnswersQueue,
	}
	queued, err := queueAutosave.Run(ctx, s.rdb, keys, raw, s.snapshotTTL.Milliseconds(), id).Int()
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Queue autosave failed, writing through")
		return s.attempts.SaveAnswers(ctx, attemptID, answers)
	}
	if queued == 0 {
		return model.ErrAttemptFinalized
	}
	return nil
}

// Finalize writes the final answers, drops the snapshot and queues scoring.
// The final marker goes up before the database write so an autosave racing
// the submit cannot queue a snapshot behind it.
func (s *QueuedAttemptStore) Finalize(ctx context.Context, attemptID uuid.UUID, answers []string, completedAt time.Time, reason model.SubmitReason) error {
	id := attemptID.String()
	s.markFinal(ctx, attemptID)

	if err := s.attempts.Finalize(ctx, attemptID, answers, completedAt, reason); err != nil {
		if !errors.Is(err, model.ErrAttemptFinalized) {
			if derr := s.rdb.Del(ctx, config.CacheKey.AttemptFinalKey(id)).Err(); derr != nil {
				s.log.Warn().Err(derr).Str("attempt_id", id).Msg("Clear final marker failed")
			}
		}
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(id))
	pipe.RPush(ctx, config.WorkerKey.ScoreAttemptsQueue, id)
	if _, err := pipe.Exec(ctx); err != nil {
		// The scoring worker's startup sweep picks up unscored attempts.
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Queue scoring failed")
	}

	s.log.Info().
		Str("attempt_id", id).
		Str("reason", string(reason)).
		Msg("Attempt finalized")
	return nil
}

func (s *QueuedAttemptStore) markFinal(ctx context.Context, attemptID uuid.UUID) {
	if err := s.rdb.Set(ctx, config.CacheKey.AttemptFinalKey(attemptID.String()), 1, finalMarkerTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Set final marker failed")
	}
}

// StartedAt returns when the student started the assessment, from cache when
// possible.
func (s *QueuedAttemptStore) StartedAt(ctx context.Context, assessmentID uuid.UUID, studentID int) (time.Time, error) {
	key := config.CacheKey.StudentAttemptStartKey(assessmentID.String(), studentID)

	val, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		nanos, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			return time.Unix(0, nanos).UTC(), nil
		}
		s.log.Warn().Str("key", key).Msg("Invalid start time in cache, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Redis error getting start time, reading database")
	}

	a, err := s.attempts.FindByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil {
		return time.Time{}, err
	}
	// Self-heal so the next read is served from cache.
	s.cacheStart(ctx, a)
	return a.StartedAt, nil
}

func (s *QueuedAttemptStore) cacheStart(ctx context.Context, a *model.Attempt) {
	key := config.CacheKey.StudentAttemptStartKey(a.AssessmentID.String(), a.StudentID)
	if err := s.rdb.Set(ctx, key, a.StartedAt.UnixNano(), 0).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Cache start time failed")
	}
}

func (s *QueuedAttemptStore) readSnapshot(ctx context.Context, attemptID uuid.UUID) ([]string, error) {
	return ReadAnswerSnapshot(ctx, s.rdb, attemptID)
}

// ReadAnswerSnapshot loads the unflushed answers of an attempt. It returns
// redis.Nil when there is none.
func ReadAnswerSnapshot(ctx context.Context, rdb *redis.Client, attemptID uuid.UUID) ([]string, error) {
	raw, err := rdb.Get(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Bytes()
	if err != nil {
		return nil, err
	}
	var answers []string
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("decode answer snapshot: %w", err)
	}
	return answers, nil
}
