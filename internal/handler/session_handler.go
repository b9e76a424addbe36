package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler exposes the session lifecycle over REST.
type SessionHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

func NewSessionHandler(sessions *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSessionResponse carries the new session and the paper to render.
type StartSessionResponse struct {
	Session model.SessionState `json:"session"`
	Paper   model.StudentPaper `json:"paper"`
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/sessions
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID := c.Param("exam_id")
	if examID == "" || len(examID) > 128 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sess, err := h.sessions.Start(c.Request.Context(), examID, claims.Owner(), middleware.GetToken(c))
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID).Str("user_id", claims.Owner()).Msg("Session start failed")
		status, code := sessionErrorCode(err)
		response.Fail(c, status, code)
		return
	}

	if req.ClientInfo != "" {
		h.log.Debug().Str("session_id", sess.ID().String()).Str("client_info", req.ClientInfo).Msg("Client info")
	}

	response.Success(c, http.StatusCreated, StartSessionResponse{
		Session: sess.State(),
		Paper:   sess.Paper().ForStudent(),
	})
}

// GetSession godoc
// GET /api/v1/student/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, sess.State())
}

// SubmitSession godoc
// POST /api/v1/student/sessions/:session_id/submit
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	res, err := sess.Submit()
	if err != nil {
		status, code := sessionErrorCode(err)
		response.Fail(c, status, code)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// ExitSession godoc
// POST /api/v1/student/sessions/:session_id/exit
func (h *SessionHandler) ExitSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := sess.Exit(); err != nil {
		status, code := sessionErrorCode(err)
		response.Fail(c, status, code)
		return
	}
	response.Success(c, http.StatusOK, sess.State())
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	return lookupSession(c, h.sessions)
}

func lookupSession(c *gin.Context, sessions *service.SessionService) (*session.Session, bool) {
	claims := middleware.GetClaims(c)

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	sess, err := sessions.Get(sessionID, claims.Owner())
	if err != nil {
		status, code := sessionErrorCode(err)
		response.Fail(c, status, code)
		return nil, false
	}
	return sess, true
}

// sessionErrorCode maps domain errors to an HTTP status and error code.
func sessionErrorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, service.ErrBackendUnavailable):
		return http.StatusBadGateway, response.ErrBackendUnavailable
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden, response.ErrNotSessionOwner
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, grading.ErrInvalidResponse):
		return http.StatusBadRequest, response.ErrInvalidResponse
	case errors.Is(err, session.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrIndexOutOfRange
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
