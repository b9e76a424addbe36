package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/response"
)

type snapshotFrame struct {
	Type string `json:"type"`
	Data struct {
		ExamID   string       `json:"exam_id"`
		Stats    monitorStats `json:"stats"`
		Students []monitorRow `json:"students"`
	} `json:"data"`
}

func serveMonitor(t *testing.T, env *testEnv, examID string) *httptest.ResponseRecorder {
	t.Helper()
	mh := NewMonitorHandler(nil, env.sessions, zerolog.Nop())
	r := gin.New()
	r.GET("/api/v1/admin/exams/:exam_id/monitor", mh.MonitorExamSSE)

	// a closed request ends the stream right after the snapshot
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/exams/"+examID+"/monitor", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMonitorHandler_Snapshot(t *testing.T) {
	env := newTestEnv(t)

	done, err := env.sessions.Start(context.Background(), "exam-1", "student-1", "tok")
	require.NoError(t, err)
	_, err = env.sessions.Answer(done, "q1", json.RawMessage(`"A"`))
	require.NoError(t, err)
	_, err = done.Submit()
	require.NoError(t, err)

	running, err := env.sessions.Start(context.Background(), "exam-1", "student-2", "tok")
	require.NoError(t, err)
	running.ReportFullscreen(false)

	w := serveMonitor(t, env, "exam-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var payload string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "data:") {
			payload = strings.TrimPrefix(line, "data:")
			break
		}
	}
	require.NotEmpty(t, payload)

	var frame snapshotFrame
	require.NoError(t, json.Unmarshal([]byte(payload), &frame))
	assert.Equal(t, "snapshot", frame.Type)
	assert.Equal(t, "exam-1", frame.Data.ExamID)
	assert.Equal(t, monitorStats{
		TotalJoined:     2,
		TotalInProgress: 1,
		TotalCompleted:  1,
		TotalExits:      1,
	}, frame.Data.Stats)

	require.Len(t, frame.Data.Students, 2)
	rows := map[string]monitorRow{}
	for _, row := range frame.Data.Students {
		rows[row.UserID] = row
	}
	finished := rows["student-1"]
	assert.Equal(t, 1, finished.AnsweredCount)
	assert.Equal(t, 2, finished.TotalQuestions)
	require.NotNil(t, finished.ObtainedMarks)
	assert.Equal(t, 4.0, *finished.ObtainedMarks)
	assert.Equal(t, 1, rows["student-2"].ExitAttempts)
	assert.Nil(t, rows["student-2"].ObtainedMarks)
}

func TestMonitorHandler_EmptyExam(t *testing.T) {
	env := newTestEnv(t)

	w := serveMonitor(t, env, "exam-9")
	assert.Contains(t, w.Body.String(), `"students":[]`)
	assert.Contains(t, w.Body.String(), `"total_joined":0`)
}

func TestMonitorHandler_RejectsLongExamID(t *testing.T) {
	env := newTestEnv(t)

	w := serveMonitor(t, env, strings.Repeat("x", 129))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(response.ErrInvalidID))
}
