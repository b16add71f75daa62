package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// GradingHandler handles grader endpoints over finalized attempts.
type GradingHandler struct {
	grading *service.GradingService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(grading *service.GradingService) *GradingHandler {
	return &GradingHandler{grading: grading}
}

// ListAttempts godoc
// GET /api/v1/admin/assessments/:assessment_id/attempts
// Lists attempts of an assessment with pagination.
func (h *GradingHandler) ListAttempts(c *gin.Context) {
	id, ok := parseIDParam(c, "assessment_id")
	if !ok {
		return
	}

	page, perPage := response.PageQuery(c, 50, 200)

	list, err := h.grading.List(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}

	p := response.NewPagination(page, perPage, len(list))
	start, end := p.Bounds()
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": list[start:end]}, p)
}

// GetAttempt godoc
// GET /api/v1/admin/attempts/:attempt_id
// Returns an attempt with its full breakdown.
func (h *GradingHandler) GetAttempt(c *gin.Context) {
	id, ok := parseIDParam(c, "attempt_id")
	if !ok {
		return
	}

	r, err := h.grading.Review(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, r)
}

// SaveGrades godoc
// PUT /api/v1/admin/attempts/:attempt_id/grades
// Replaces the manual scores of a finalized attempt. Scores for questions
// that are not manually graded are reported back in "ignored".
func (h *GradingHandler) SaveGrades(c *gin.Context) {
	id, ok := parseIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SaveGradesRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	r, ignored, err := h.grading.SaveManualScores(c.Request.Context(), id, req.Scores)
	if err != nil {
		failWith(c, err)
		return
	}

	fields := make(map[string]string, len(ignored))
	for _, qid := range ignored {
		fields[qid] = "not a manually graded question of this assessment"
	}
	response.Success(c, http.StatusOK, gin.H{"review": r, "ignored": fields})
}

// Rescore godoc
// POST /api/v1/admin/attempts/:attempt_id/rescore
// Recomputes and stores the scores of a finalized attempt.
func (h *GradingHandler) Rescore(c *gin.Context) {
	id, ok := parseIDParam(c, "attempt_id")
	if !ok {
		return
	}

	r, err := h.grading.AutoScore(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, r)
}
