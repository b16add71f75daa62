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
	"github.com/stemsi/exstem-session/internal/service"
)

const (
	AutosavePollTimeout = 1 * time.Second
	AutosaveRetryDelay  = 5 * time.Second
)

// AutosaveWorker consumes persist_answers_queue and writes the latest answer
// snapshot of each queued attempt to the record store.
type AutosaveWorker struct {
	attempts repository.Attempts
	rdb      *redis.Client
	snapshot func(ctx context.Context, attemptID uuid.UUID) ([]string, error)
	log      zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(attempts repository.Attempts, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		attempts: attempts,
		rdb:      rdb,
		snapshot: func(ctx context.Context, id uuid.UUID) ([]string, error) {
			return service.ReadAnswerSnapshot(ctx, rdb, id)
		},
		log: log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, AutosavePollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	if err := w.persist(ctx, result[1]); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", result[1]).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, result[1])
		select {
		case <-time.After(AutosaveRetryDelay):
		case <-ctx.Done():
		}
	}
}

// persist writes the current snapshot of one attempt. Jobs that can never
// succeed are dropped; only transient failures are returned.
func (w *AutosaveWorker) persist(ctx context.Context, rawID string) error {
	attemptID, err := uuid.Parse(rawID)
	if err != nil {
		w.log.Error().Err(err).Str("payload", rawID).Msg("Invalid attempt id, dropping")
		return nil
	}

	answers, err := w.snapshot(ctx, attemptID)
	if errors.Is(err, redis.Nil) {
		// Already persisted by an earlier job or finalized.
		return nil
	}
	if err != nil {
		return err
	}

	err = w.attempts.SaveAnswers(ctx, attemptID, answers)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrAttemptFinalized):
		w.log.Debug().
			Str("attempt_id", rawID).
			Str("kind", "race_discard").
			Msg("Autosave arrived after finalize, discarded")
		return nil
	case errors.Is(err, model.ErrNotFound):
		w.log.Warn().Str("attempt_id", rawID).Msg("Autosave for unknown attempt, dropping")
		return nil
	default:
		return err
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		if err := w.persist(ctx, result); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
