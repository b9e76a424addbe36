package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	defaultPage    = 1
	defaultPerPage = 20
)

// ResultReader is the read side of persisted results.
type ResultReader interface {
	ListByExam(ctx context.Context, examID string, q model.ResultListQuery) ([]model.StoredResult, int64, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.StoredResult, error)
}

// ResultHandler lists results persisted by the result worker.
type ResultHandler struct {
	results ResultReader
	log     zerolog.Logger
}

func NewResultHandler(results ResultReader, log zerolog.Logger) *ResultHandler {
	return &ResultHandler{
		results: results,
		log:     log.With().Str("component", "result_handler").Logger(),
	}
}

// ListExamResults godoc
// GET /api/v1/admin/exams/:exam_id/results?page=&per_page=&reason=
func (h *ResultHandler) ListExamResults(c *gin.Context) {
	examID := c.Param("exam_id")
	if examID == "" || len(examID) > 128 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var q model.ResultListQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = defaultPage
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}

	results, total, err := h.results.ListByExam(c.Request.Context(), examID, q)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID).Msg("List results failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, results, response.NewPagination(q.Page, q.PerPage, total))
}

// GetSessionResult godoc
// GET /api/v1/admin/sessions/:session_id/result
func (h *ResultHandler) GetSessionResult(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.results.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrResultNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrResultNotFound)
			return
		}
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Get result failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, res)
}
