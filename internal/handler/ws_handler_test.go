package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/response"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

type frame struct {
	Event ws.Event        `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, want ws.Event) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == want {
			return f
		}
	}
}

func TestWSHandler_SessionStream(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "student-1")

	w, body := env.do(t, http.MethodPost, "/api/v1/student/exams/exam-1/sessions", tok, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := body["data"].(map[string]any)["session"].(map[string]any)["sessionId"].(string)

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/sessions/" + sessionID + "/stream?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, ws.EventState)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "answer", "q_id": "q1", "value": "A"}))
	f := readUntil(t, conn, ws.EventAck)
	var ack ws.AckData
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.Equal(t, ws.ActionAnswer, ack.Action)
	assert.Equal(t, "q1", ack.QID)
	assert.Equal(t, "A", ack.Response)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "answer", "q_id": "nope", "value": "A"}))
	f = readUntil(t, conn, ws.EventError)
	var errData ws.ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &errData))
	assert.Equal(t, string(response.ErrUnknownQuestion), errData.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "jump"}))
	f = readUntil(t, conn, ws.EventError)
	require.NoError(t, json.Unmarshal(f.Data, &errData))
	assert.Equal(t, string(response.ErrValidation), errData.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "flag", "index": 1}))
	f = readUntil(t, conn, ws.EventAck)
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	require.NotNil(t, ack.Flagged)
	assert.True(t, *ack.Flagged)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "fullscreen", "active": false}))
	f = readUntil(t, conn, ws.EventIntegrityWarning)
	assert.Contains(t, string(f.Data), `"exitAttempts":1`)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	readUntil(t, conn, ws.EventPong)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "submit"}))
	f = readUntil(t, conn, ws.EventCompleted)
	assert.Contains(t, string(f.Data), `"reason":"manual"`)
	assert.Contains(t, string(f.Data), `"obtainedMarks":4`)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "answer", "q_id": "q2", "value": []string{"X"}}))
	f = readUntil(t, conn, ws.EventError)
	require.NoError(t, json.Unmarshal(f.Data, &errData))
	assert.Equal(t, string(response.ErrSessionClosed), errData.Code)
}

func TestWSHandler_RejectsForeignSession(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/student/exams/exam-1/sessions", env.token(t, "student-1"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := body["data"].(map[string]any)["session"].(map[string]any)["sessionId"].(string)

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/sessions/" + sessionID + "/stream?token=" + env.token(t, "student-2")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
