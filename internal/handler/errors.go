package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// failWith maps a domain error onto the response envelope.
func failWith(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, model.ErrAttemptNotCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptInProgress)
	case errors.Is(err, model.ErrAttemptExists), errors.Is(err, model.ErrScoresConflict):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	case errors.Is(err, service.ErrAssessmentNotOpen):
		response.Fail(c, http.StatusConflict, response.ErrAssessmentNotOpen)
	case errors.Is(err, service.ErrAssessmentNotDraft):
		response.Fail(c, http.StatusConflict, response.ErrAssessmentNotDraft)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, service.ErrInvalidQuestionShape):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidQuestion,
			map[string]string{"detail": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("Store timed out")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStoreUnavailable)
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("route", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
