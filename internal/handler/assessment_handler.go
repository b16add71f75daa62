package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// AssessmentHandler handles assessment authoring and lifecycle endpoints.
type AssessmentHandler struct {
	assessments *service.AssessmentService
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(assessments *service.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments}
}

// CreateAssessment godoc
// POST /api/v1/admin/assessments
// Creates a new draft assessment.
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	var req model.CreateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a := &model.Assessment{
		Title:           req.Title,
		Kind:            req.Kind,
		DurationMinutes: req.DurationMinutes,
		Deadline:        req.Deadline,
	}
	if err := h.assessments.Create(c.Request.Context(), a); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assessment": a})
}

// GetAssessment godoc
// GET /api/v1/admin/assessments/:assessment_id
// Returns an assessment with its questions, keys included.
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	id, ok := parseIDParam(c, "assessment_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	a, err := h.assessments.GetByID(ctx, id)
	if err != nil {
		failWith(c, err)
		return
	}
	qs, err := h.assessments.Questions(ctx, id)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": a, "questions": qs})
}

// AddQuestion godoc
// POST /api/v1/admin/assessments/:assessment_id/questions
// Appends a question to a draft assessment.
func (h *AssessmentHandler) AddQuestion(c *gin.Context) {
	id, ok := parseIDParam(c, "assessment_id")
	if !ok {
		return
	}

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.assessments.AddQuestion(c.Request.Context(), id, &req)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// DeleteQuestion godoc
// DELETE /api/v1/admin/assessments/:assessment_id/questions/:question_id
// Removes a question from a draft assessment and renumbers the rest.
func (h *AssessmentHandler) DeleteQuestion(c *gin.Context) {
	id, ok := parseIDParam(c, "assessment_id")
	if !ok {
		return
	}
	questionID, ok := parseIDParam(c, "question_id")
	if !ok {
		return
	}

	if err := h.assessments.DeleteQuestion(c.Request.Context(), id, questionID); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "question deleted"})
}

// PublishAssessment godoc
// POST /api/v1/admin/assessments/:assessment_id/publish
// Opens a draft assessment and warms its cache.
func (h *AssessmentHandler) PublishAssessment(c *gin.Context) {
	id, ok := parseIDParam(c, "assessment_id")
	if !ok {
		return
	}

	if err := h.assessments.Publish(c.Request.Context(), id); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "assessment published"})
}

// CloseAssessment godoc
// POST /api/v1/admin/assessments/:assessment_id/close
// Closes a published assessment. Every live session submits.
func (h *AssessmentHandler) CloseAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id, ok := parseIDParam(c, "assessment_id")
	if !ok {
		return
	}

	if err := h.assessments.Close(c.Request.Context(), id); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "assessment closed", "closed_by": claims.UserID})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
