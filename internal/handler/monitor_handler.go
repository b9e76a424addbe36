package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
)

// MonitorHandler streams live session activity for one exam to proctors.
type MonitorHandler struct {
	rdb      *redis.Client
	sessions *service.SessionService
	log      zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// monitorRow is one examinee in a snapshot or refresh.
type monitorRow struct {
	SessionID        string                 `json:"session_id"`
	UserID           string                 `json:"user_id"`
	Status           model.SessionStatus    `json:"status"`
	Reason           model.CompletionReason `json:"reason,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	AnsweredCount    int                    `json:"answered_count"`
	TotalQuestions   int                    `json:"total_questions"`
	ExitAttempts     int                    `json:"exit_attempts"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	ObtainedMarks    *float64               `json:"obtained_marks,omitempty"`
}

type monitorStats struct {
	TotalJoined     int `json:"total_joined"`
	TotalInProgress int `json:"total_in_progress"`
	TotalCompleted  int `json:"total_completed"`
	TotalAbandoned  int `json:"total_abandoned"`
	TotalExits      int `json:"total_exits"`
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID := c.Param("exam_id")
	if examID == "" || len(examID) > 128 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	rows, stats := h.collect(examID)
	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"exam_id":  examID,
			"stats":    stats,
			"students": rows,
		},
	})
	c.Writer.Flush()

	// Without Redis the stream still gets periodic refreshes.
	var ch <-chan *redis.Message
	if h.rdb != nil {
		pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID))
		defer pubsub.Close()
		ch = pubsub.Channel()
	}

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	hasStudents := len(rows) > 0

	h.log.Info().Str("exam_id", examID).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			// payloads are already JSON
			writeSSEData(c, []byte(msg.Payload))
			hasStudents = true

		case <-refreshTicker.C:
			if !hasStudents {
				continue
			}
			rows, stats := h.collect(examID)
			c.SSEvent("message", gin.H{
				"type":     "refresh",
				"stats":    stats,
				"students": rows,
			})
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) collect(examID string) ([]monitorRow, monitorStats) {
	states := h.sessions.ListByExam(examID)

	rows := make([]monitorRow, 0, len(states))
	var stats monitorStats
	for _, st := range states {
		stats.TotalJoined++
		stats.TotalExits += st.Integrity.ExitAttempts
		switch st.Status {
		case model.SessionStatusActive:
			stats.TotalInProgress++
		case model.SessionStatusSubmitted:
			stats.TotalCompleted++
		case model.SessionStatusAbandoned:
			stats.TotalAbandoned++
		}

		row := monitorRow{
			SessionID:        st.SessionID.String(),
			UserID:           st.UserID,
			Status:           st.Status,
			Reason:           st.Reason,
			StartedAt:        st.StartedAt,
			AnsweredCount:    len(st.Answers),
			TotalQuestions:   st.QuestionCount,
			ExitAttempts:     st.Integrity.ExitAttempts,
			RemainingSeconds: st.RemainingSeconds,
		}
		if st.Result != nil {
			obtained := st.Result.ObtainedMarks
			row.ObtainedMarks = &obtained
		}
		rows = append(rows, row)
	}
	return rows, stats
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
