package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
	ScoreSweepLimit   = 500
)

// Scorer recomputes the scores of a completed attempt.
type Scorer interface {
	Compute(ctx context.Context, attemptID uuid.UUID) (*repository.ScoreUpdate, error)
}

// ScoringWorker consumes score_attempts_queue and writes auto scores of
// finalized attempts in batches.
type ScoringWorker struct {
	attempts repository.Attempts
	scorer   Scorer
	rdb      *redis.Client
	push     func(ctx context.Context, id uuid.UUID) error
	log      zerolog.Logger
}

func NewScoringWorker(attempts repository.Attempts, scorer Scorer, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		attempts: attempts,
		scorer:   scorer,
		rdb:      rdb,
		push: func(ctx context.Context, id uuid.UUID) error {
			return rdb.RPush(ctx, config.WorkerKey.ScoreAttemptsQueue, id.String()).Err()
		},
		log: log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")
	w.sweep(ctx)

	batch := make([]uuid.UUID, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ScorePollTimeout, config.WorkerKey.ScoreAttemptsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			id, err := uuid.Parse(item[1])
			if err != nil {
				w.log.Error().Err(err).Str("payload", item[1]).Msg("Invalid attempt id")
				continue
			}

			batch = append(batch, id)
		}
	}
}

// sweep scores attempts that were finalized while no worker was running
// or whose queue entry was lost.
func (w *ScoringWorker) sweep(ctx context.Context) {
	ids, err := w.attempts.ListCompletedUnscored(ctx, ScoreSweepLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("Startup sweep failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	w.log.Info().Int("count", len(ids)).Msg("Scoring unscored attempts")
	for start := 0; start < len(ids); start += ScoreBatchSize {
		end := min(start+ScoreBatchSize, len(ids))
		w.flushSafe(ctx, ids[start:end])
	}
}

// ----------------------------------------------------------------
// Batch update wrapper
// ----------------------------------------------------------------

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []uuid.UUID) {
	if len(batch) == 0 {
		return
	}

	updates := make([]repository.ScoreUpdate, 0, len(batch))
	for _, id := range batch {
		u, err := w.scorer.Compute(ctx, id)
		switch {
		case err == nil:
			updates = append(updates, *u)
		case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrAttemptNotCompleted):
			w.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Attempt cannot be scored, dropping")
		default:
			w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Compute failed — requeueing")
			w.requeue(id)
		}
	}
	if len(updates) == 0 {
		return
	}

	stale, err := w.attempts.SaveScoresBatch(ctx, updates)
	if err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")

		stale = stale[:0]
		for _, u := range updates {
			missed, err := w.attempts.SaveScoresBatch(ctx, []repository.ScoreUpdate{u})
			if err != nil {
				w.log.Error().Err(err).Str("attempt_id", u.AttemptID.String()).Msg("Score write failed — requeueing")
				w.requeue(u.AttemptID)
				continue
			}
			stale = append(stale, missed...)
		}
	}

	// A grader saved manual scores after Compute read them; score again
	// from the new map.
	for _, id := range stale {
		w.log.Debug().Str("attempt_id", id.String()).Msg("Manual scores changed while scoring — requeueing")
		w.requeue(id)
	}

	w.log.Debug().Int("count", len(updates)-len(stale)).Msg("Scores written")
}

func (w *ScoringWorker) requeue(id uuid.UUID) {
	if err := w.push(context.Background(), id); err != nil {
		w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Requeue failed")
	}
}
