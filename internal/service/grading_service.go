package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/scoring"
)

// ReferenceReader reads the assessment definitions grading runs against.
type ReferenceReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	Questions(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error)
}

// AttemptReview is a finalized attempt together with its grading breakdown.
type AttemptReview struct {
	Attempt    *model.Attempt    `json:"attempt"`
	Assessment *model.Assessment `json:"assessment"`
	Questions  []model.Question  `json:"questions"`
	Breakdown  scoring.Breakdown `json:"breakdown"`
}

// GradingService scores finalized attempts and records manual grades.
type GradingService struct {
	attempts repository.Attempts
	ref      ReferenceReader
	log      zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(attempts repository.Attempts, ref ReferenceReader, log zerolog.Logger) *GradingService {
	return &GradingService{
		attempts: attempts,
		ref:      ref,
		log:      log.With().Str("component", "grading_service").Logger(),
	}
}

// Review loads an attempt with its breakdown. The attempt may still be in
// progress, in which case the breakdown reflects the stored answers.
func (s *GradingService) Review(ctx context.Context, attemptID uuid.UUID) (*AttemptReview, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return s.review(ctx, a)
}

func (s *GradingService) review(ctx context.Context, a *model.Attempt) (*AttemptReview, error) {
	asm, err := s.ref.GetByID(ctx, a.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	qs, err := s.ref.Questions(ctx, a.AssessmentID)
	if err != nil {
		return nil, err
	}
	return &AttemptReview{
		Attempt:    a,
		Assessment: asm,
		Questions:  qs,
		Breakdown:  scoring.Score(asm.Kind, qs, a.Answers, a.ManualScores),
	}, nil
}

// Compute recomputes the scores of a completed attempt without writing them.
func (s *GradingService) Compute(ctx context.Context, attemptID uuid.UUID) (*repository.ScoreUpdate, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !a.Completed() {
		return nil, model.ErrAttemptNotCompleted
	}
	r, err := s.review(ctx, a)
	if err != nil {
		return nil, err
	}
	return &repository.ScoreUpdate{
		AttemptID:  a.ID,
		Scores:     scoresOf(&r.Breakdown, a.ManualScores),
		ReadManual: a.ManualScores,
	}, nil
}

const autoScoreTries = 3

// AutoScore recomputes and stores the scores of a completed attempt. A
// grader saving manual scores in between makes it recompute; it gives up
// with model.ErrScoresConflict after a few tries.
func (s *GradingService) AutoScore(ctx context.Context, attemptID uuid.UUID) (*AttemptReview, error) {
	for try := 0; try < autoScoreTries; try++ {
		u, err := s.Compute(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		stale, err := s.attempts.SaveScoresBatch(ctx, []repository.ScoreUpdate{*u})
		if err != nil {
			return nil, fmt.Errorf("save scores: %w", err)
		}
		if len(stale) == 0 {
			return s.Review(ctx, attemptID)
		}
		s.log.Debug().Str("attempt_id", attemptID.String()).Int("try", try+1).Msg("Manual scores changed while scoring, recomputing")
	}
	return nil, model.ErrScoresConflict
}

// SaveManualScores replaces the manual score map of a completed attempt.
// Scores for unknown or auto-graded questions are ignored and their ids
// returned; the rest are clamped to the question's points.
func (s *GradingService) SaveManualScores(ctx context.Context, attemptID uuid.UUID, scores map[string]int) (*AttemptReview, []string, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if !a.Completed() {
		return nil, nil, model.ErrAttemptNotCompleted
	}

	qs, err := s.ref.Questions(ctx, a.AssessmentID)
	if err != nil {
		return nil, nil, err
	}
	clamped, rejected := scoring.ClampManual(qs, scores)
	sort.Strings(rejected)

	a.ManualScores = clamped
	r, err := s.review(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	if err := s.attempts.SaveScores(ctx, attemptID, scoresOf(&r.Breakdown, clamped)); err != nil {
		return nil, nil, fmt.Errorf("save scores: %w", err)
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("graded", len(clamped)).
		Int("rejected", len(rejected)).
		Int("pending", r.Breakdown.Pending).
		Msg("Manual scores saved")

	saved, err := s.Review(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	return saved, rejected, nil
}

// List returns the attempt summaries of an assessment.
func (s *GradingService) List(ctx context.Context, assessmentID uuid.UUID) ([]model.AttemptSummary, error) {
	if _, err := s.ref.GetByID(ctx, assessmentID); err != nil {
		return nil, err
	}
	list, err := s.attempts.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if list == nil {
		list = []model.AttemptSummary{}
	}
	return list, nil
}

func scoresOf(b *scoring.Breakdown, manual map[string]int) model.AttemptScores {
	autoRaw, autoMax := b.AutoRaw, b.AutoMax
	out := model.AttemptScores{
		AutoScore:     &autoRaw,
		AutoMax:       &autoMax,
		ManualScores:  manual,
		CombinedScore: b.Combined,
	}
	if b.ManualMax > 0 {
		manualMax := b.ManualMax
		out.ManualMax = &manualMax
		if manual != nil {
			manualRaw := b.ManualRaw
			out.ManualScore = &manualRaw
		}
	}
	return out
}
