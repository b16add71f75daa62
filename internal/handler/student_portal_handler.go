package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/scoring"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
)

// StudentPortalHandler handles student-facing reads that do not open a
// live session.
type StudentPortalHandler struct {
	assessments *service.AssessmentService
	attempts    *service.QueuedAttemptStore
	grading     *service.GradingService
	now         func() time.Time
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	assessments *service.AssessmentService,
	attempts *service.QueuedAttemptStore,
	grading *service.GradingService,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		assessments: assessments,
		attempts:    attempts,
		grading:     grading,
		now:         time.Now,
	}
}

// AssessmentState is the student's standing at an assessment.
type AssessmentState struct {
	AssessmentID     uuid.UUID              `json:"assessment_id"`
	AssessmentStatus model.AssessmentStatus `json:"assessment_status"`
	AttemptID        *uuid.UUID             `json:"attempt_id,omitempty"`
	AttemptStatus    *model.AttemptStatus   `json:"attempt_status,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	Answers          []string               `json:"answers,omitempty"`
	RemainingSeconds int                    `json:"remaining_seconds"`
}

// GetAssessmentState godoc
// GET /api/v1/student/assessments/:assessment_id/state
// Returns the student's attempt status and remaining time. This endpoint
// covers page reloads before the session stream reconnects.
func (h *StudentPortalHandler) GetAssessmentState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	a, err := h.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		failWith(c, err)
		return
	}

	state := AssessmentState{
		AssessmentID:     a.ID,
		AssessmentStatus: a.Status,
		RemainingSeconds: session.Unlimited,
	}

	att, err := h.attempts.FindAttempt(ctx, assessmentID, claims.UserID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		response.Success(c, http.StatusOK, state)
		return
	case err != nil:
		failWith(c, err)
		return
	}

	state.AttemptID = &att.ID
	state.AttemptStatus = &att.Status
	state.StartedAt = &att.StartedAt
	state.CompletedAt = att.CompletedAt
	state.Answers = att.Answers
	if att.Completed() {
		state.RemainingSeconds = 0
	} else {
		state.RemainingSeconds = session.RemainingAt(a, att.StartedAt, h.now())
	}

	response.Success(c, http.StatusOK, state)
}

// GetRemainingTime godoc
// GET /api/v1/student/assessments/:assessment_id/timer
// Returns the remaining seconds from the cached start time. Clients poll
// it while the session stream is down.
func (h *StudentPortalHandler) GetRemainingTime(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	a, err := h.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		failWith(c, err)
		return
	}

	startedAt, err := h.attempts.StartedAt(ctx, assessmentID, claims.UserID)
	if errors.Is(err, model.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNoAttempt)
		return
	}
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"started_at":        startedAt,
		"remaining_seconds": session.RemainingAt(a, startedAt, h.now()),
	})
}

// AttemptReview is the student view of a finalized attempt: scores and
// answers, without keys or rubrics.
type AttemptReview struct {
	AttemptID     uuid.UUID                  `json:"attempt_id"`
	Title         string                     `json:"title"`
	SubmitReason  *model.SubmitReason        `json:"submit_reason,omitempty"`
	CompletedAt   *time.Time                 `json:"completed_at,omitempty"`
	Questions     []model.QuestionForStudent `json:"questions"`
	Answers       []string                   `json:"answers"`
	Results       []scoring.Result           `json:"results"`
	AutoScore     int                        `json:"auto_score"`
	AutoMax       int                        `json:"auto_max"`
	ManualScore   int                        `json:"manual_score"`
	ManualMax     int                        `json:"manual_max"`
	Pending       int                        `json:"pending"`
	CombinedScore *float64                   `json:"combined_score,omitempty"`
}

// GetAttemptReview godoc
// GET /api/v1/student/attempts/:attempt_id/review
// Returns the breakdown of the student's own finalized attempt.
func (h *StudentPortalHandler) GetAttemptReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	r, err := h.grading.Review(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, err)
		return
	}

	// SECURITY: students only see their own attempts.
	if r.Attempt.StudentID != claims.UserID {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if !r.Attempt.Completed() {
		response.Fail(c, http.StatusConflict, response.ErrAttemptInProgress)
		return
	}

	out := AttemptReview{
		AttemptID:     r.Attempt.ID,
		Title:         r.Assessment.Title,
		SubmitReason:  r.Attempt.SubmitReason,
		CompletedAt:   r.Attempt.CompletedAt,
		Questions:     make([]model.QuestionForStudent, len(r.Questions)),
		Answers:       r.Attempt.Answers,
		Results:       r.Breakdown.Results,
		AutoScore:     r.Breakdown.AutoRaw,
		AutoMax:       r.Breakdown.AutoMax,
		ManualScore:   r.Breakdown.ManualRaw,
		ManualMax:     r.Breakdown.ManualMax,
		Pending:       r.Breakdown.Pending,
		CombinedScore: r.Breakdown.Combined,
	}
	for i := range r.Questions {
		out.Questions[i] = r.Questions[i].ForStudent()
	}

	response.Success(c, http.StatusOK, out)
}
