package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ExamHandler manages the local copy of exam definitions.
type ExamHandler struct {
	exams *service.ExamService
	log   zerolog.Logger
}

func NewExamHandler(exams *service.ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams: exams,
		log:   log.With().Str("component", "exam_handler").Logger(),
	}
}

// RefreshExamCache godoc
// POST /api/v1/admin/exams/:exam_id/refresh-cache
// Drops the cached definition; sessions started afterwards refetch it.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	examID := c.Param("exam_id")
	if examID == "" || len(examID) > 128 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.exams.Invalidate(c.Request.Context(), examID); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID).Msg("Cache invalidation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().Str("exam_id", examID).Msg("Exam cache invalidated")
	response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "invalidated": true})
}
