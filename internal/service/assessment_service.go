package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// Domain Errors
var (
	ErrNoQuestions          = errors.New("assessment has no questions")
	ErrAssessmentNotDraft   = errors.New("assessment status is not DRAFT")
	ErrAssessmentNotOpen    = errors.New("assessment status is not PUBLISHED")
	ErrInvalidQuestionShape = errors.New("question shape does not match its variant")
)

// AssessmentCacheTTL bounds how long a cached assessment record may lag
// behind the database when no status broadcast reaches this node.
const AssessmentCacheTTL = 5 * time.Minute

// AssessmentService serves assessments and their questions through a Redis
// cache-aside fast lane and broadcasts status changes over Pub/Sub.
type AssessmentService struct {
	assessments repository.Assessments
	questions   repository.Questions
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	assessments repository.Assessments,
	questions repository.Questions,
	rdb *redis.Client,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		assessments: assessments,
		questions:   questions,
		rdb:         rdb,
		log:         log.With().Str("component", "assessment_service").Logger(),
	}
}

// GetByID returns an assessment, from cache when possible.
func (s *AssessmentService) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	key := config.CacheKey.AssessmentKey(id.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var a model.Assessment
		if jerr := json.Unmarshal(data, &a); jerr == nil {
			return &a, nil
		}
		s.log.Warn().Str("assessment_id", id.String()).Msg("Corrupt cached assessment, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Msg("Redis unavailable, reading assessment from database")
	}

	a, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAssessment(ctx, a)
	return a, nil
}

func (s *AssessmentService) cacheAssessment(ctx context.Context, a *model.Assessment) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.AssessmentKey(a.ID.String()), raw, AssessmentCacheTTL).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Cache assessment failed")
	}
}

// Questions returns the ordered questions of an assessment, keys included.
// The cached copy never leaves the server.
func (s *AssessmentService) Questions(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.AssessmentQuestionsKey(assessmentID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var qs []model.Question
		if jerr := json.Unmarshal(data, &qs); jerr == nil {
			return qs, nil
		}
		s.log.Warn().Str("assessment_id", assessmentID.String()).Msg("Corrupt cached questions, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Msg("Redis unavailable, reading questions from database")
	}

	qs, err := s.questions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if raw, err := json.Marshal(qs); err == nil {
		if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
			s.log.Debug().Err(err).Msg("Cache questions failed")
		}
	}
	return qs, nil
}

// Paper returns the test-taker view of an assessment: no keys, no rubrics.
func (s *AssessmentService) Paper(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentPayload, error) {
	a, err := s.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	qs, err := s.Questions(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	payload := &model.AssessmentPayload{
		AssessmentID:    a.ID,
		Title:           a.Title,
		Kind:            a.Kind,
		DurationMinutes: a.DurationMinutes,
		Deadline:        a.Deadline,
		Questions:       make([]model.QuestionForStudent, len(qs)),
	}
	for i := range qs {
		payload.Questions[i] = qs[i].ForStudent()
	}
	return payload, nil
}

// WarmCache loads an assessment and its questions from the database into Redis.
// This is the core cache-warming logic used by Publish and PrewarmAllCaches.
func (s *AssessmentService) WarmCache(ctx context.Context, a *model.Assessment) error {
	qs, err := s.questions.ListByAssessment(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(qs) == 0 {
		return ErrNoQuestions
	}

	aJSON, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	qJSON, err := json.Marshal(qs)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AssessmentKey(a.ID.String()), aJSON, AssessmentCacheTTL)
	pipe.Set(ctx, config.CacheKey.AssessmentQuestionsKey(a.ID.String()), qJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("assessment_id", a.ID.String()).
		Int("questions", len(qs)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published assessments into Redis on startup.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	list, err := s.assessments.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published assessments: %w", err)
	}

	if len(list) == 0 {
		s.log.Info().Msg("No published assessments to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(list)).Msg("Prewarming published assessments...")

	warmed := 0
	for i := range list {
		if err := s.WarmCache(ctx, &list[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("assessment_id", list[i].ID.String()).
				Msg("Failed to warm assessment, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(list)).
		Msg("Prewarming complete")
	return nil
}

// Create inserts a new assessment as DRAFT.
func (s *AssessmentService) Create(ctx context.Context, a *model.Assessment) error {
	a.Status = model.AssessmentStatusDraft
	return s.assessments.Create(ctx, a)
}

// AddQuestion appends a question to a draft assessment.
func (s *AssessmentService) AddQuestion(ctx context.Context, assessmentID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	a, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AssessmentStatusDraft {
		return nil, ErrAssessmentNotDraft
	}

	q := &model.Question{
		AssessmentID: assessmentID,
		Points:       req.Points,
		Variant:      req.Variant,
		Prompt:       req.Prompt,
		Options:      req.Options,
		Key:          req.Key,
		Rubric:       req.Rubric,
		Parts:        req.Parts,
	}
	if err := validateShape(q); err != nil {
		return nil, err
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	s.invalidate(ctx, assessmentID)
	return q, nil
}

// DeleteQuestion removes a question from a draft assessment.
func (s *AssessmentService) DeleteQuestion(ctx context.Context, assessmentID, questionID uuid.UUID) error {
	a, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return err
	}
	if a.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}
	if err := s.questions.Delete(ctx, questionID); err != nil {
		return err
	}
	s.invalidate(ctx, assessmentID)
	return nil
}

func validateShape(q *model.Question) error {
	switch q.Variant {
	case model.QuestionVariantChoice:
		if len(q.Options) < 2 || len(q.Options) > model.MaxChoiceOptions || q.Key == "" {
			return fmt.Errorf("%w: choice needs 2-%d options and a key", ErrInvalidQuestionShape, model.MaxChoiceOptions)
		}
		for _, o := range q.Options {
			if o.Label == q.Key {
				return nil
			}
		}
		return fmt.Errorf("%w: key %q names no option", ErrInvalidQuestionShape, q.Key)
	case model.QuestionVariantMultiPart:
		if q.Parts < model.MinParts || q.Parts > model.MaxParts {
			return fmt.Errorf("%w: multi-part needs %d-%d parts", ErrInvalidQuestionShape, model.MinParts, model.MaxParts)
		}
	case model.QuestionVariantFreeText:
		if len(q.Options) > 0 || q.Key != "" {
			return fmt.Errorf("%w: free text takes no options or key", ErrInvalidQuestionShape)
		}
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidQuestionShape, q.Variant)
	}
	return nil
}

// Publish opens a draft assessment to test-takers and warms its cache.
func (s *AssessmentService) Publish(ctx context.Context, assessmentID uuid.UUID) error {
	a, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if a.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}

	a.Status = model.AssessmentStatusPublished
	if err := s.WarmCache(ctx, a); err != nil {
		return err
	}
	if err := s.assessments.UpdateStatus(ctx, assessmentID, model.AssessmentStatusPublished); err != nil {
		s.invalidate(ctx, assessmentID)
		return fmt.Errorf("update status: %w", err)
	}
	s.log.Info().Str("assessment_id", assessmentID.String()).Msg("Assessment published")
	return nil
}

// Close marks a published assessment CLOSED and announces it, so every live
// session of it submits.
func (s *AssessmentService) Close(ctx context.Context, assessmentID uuid.UUID) error {
	a, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return err
	}
	if a.Status != model.AssessmentStatusPublished {
		return ErrAssessmentNotOpen
	}
	if err := s.assessments.UpdateStatus(ctx, assessmentID, model.AssessmentStatusClosed); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	a.Status = model.AssessmentStatusClosed
	s.cacheAssessment(ctx, a)

	channel := config.CacheKey.AssessmentStatusChannel(assessmentID.String())
	if err := s.rdb.Publish(ctx, channel, string(model.AssessmentStatusClosed)).Err(); err != nil {
		s.log.Error().Err(err).Str("assessment_id", assessmentID.String()).Msg("Publish status failed")
		return fmt.Errorf("publish status: %w", err)
	}
	s.log.Info().Str("assessment_id", assessmentID.String()).Msg("Assessment closed")
	return nil
}

func (s *AssessmentService) invalidate(ctx context.Context, assessmentID uuid.UUID) {
	id := assessmentID.String()
	if err := s.rdb.Del(ctx, config.CacheKey.AssessmentKey(id), config.CacheKey.AssessmentQuestionsKey(id)).Err(); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", id).Msg("Cache invalidation failed")
	}
}

// WatchStatus subscribes to status broadcasts of an assessment. The channel
// closes when ctx is canceled.
func (s *AssessmentService) WatchStatus(ctx context.Context, assessmentID uuid.UUID) (<-chan model.AssessmentStatus, error) {
	pubsub := s.rdb.Subscribe(ctx, config.CacheKey.AssessmentStatusChannel(assessmentID.String()))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe status: %w", err)
	}

	out := make(chan model.AssessmentStatus, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- model.AssessmentStatus(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
