package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const outboundBuffer = 32

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a running session to the examinee's browser and accepts
// its actions.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	sess, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	events, unsubscribe, err := h.sessions.Subscribe(sess.ID())
	if err != nil {
		status, code := sessionErrorCode(err)
		response.Fail(c, status, code)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", sess.ID().String()).
		Str("user_id", sess.UserID()).
		Logger()
	wsLog.Info().Msg("Examinee connected")

	out := make(chan ws.Message, outboundBuffer)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	go h.writeLoop(conn, wsLog, out, events, readerDone, writerDone)

	send := func(msg ws.Message) bool {
		select {
		case out <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	send(ws.Message{Event: ws.EventState, Data: sess.State()})

	ws.PrepareRead(conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		if !send(h.dispatch(sess, raw)) {
			break
		}
	}

	close(readerDone)
	<-writerDone
}

// writeLoop is the only goroutine that writes to conn.
func (h *WSHandler) writeLoop(
	conn *websocket.Conn,
	wsLog zerolog.Logger,
	out <-chan ws.Message,
	events <-chan session.Event,
	readerDone <-chan struct{},
	writerDone chan<- struct{},
) {
	defer close(writerDone)

	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-readerDone:
			return
		case msg := <-out:
			err = ws.WriteTyped(conn, msg)
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteError(conn, string(response.ErrSessionNotFound), response.GetMessage(response.ErrSessionNotFound))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(ws.WriteWait))
				conn.Close()
				return
			}
			err = ws.WriteTyped(conn, ws.Message{Event: ws.Event(ev.Type), Data: ev.Data})
		case <-ticker.C:
			err = ws.WritePing(conn)
		}
		if err != nil {
			wsLog.Debug().Err(err).Msg("Write failed")
			conn.Close()
			return
		}
	}
}

// dispatch runs one client action and returns the direct reply. Session
// events triggered by the action reach the client through the subscription.
func (h *WSHandler) dispatch(sess *session.Session, raw []byte) ws.Message {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errorMessage(response.ErrInvalidPayload, nil)
	}

	ack := ws.AckData{Action: env.Action}
	switch env.Action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if msg, ok := decodeAction(raw, &req); !ok {
			return msg
		}
		value := req.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		resp, err := h.sessions.Answer(sess, req.QID, value)
		if err != nil {
			return sessionError(err)
		}
		ack.QID = req.QID
		if !resp.Empty() {
			ack.Response = resp
		}

	case ws.ActionClear:
		var req ws.ClearRequest
		if msg, ok := decodeAction(raw, &req); !ok {
			return msg
		}
		if err := h.sessions.Clear(sess, req.QID); err != nil {
			return sessionError(err)
		}
		ack.QID = req.QID

	case ws.ActionNext, ws.ActionPrevious:
		move := sess.Next
		if env.Action == ws.ActionPrevious {
			move = sess.Previous
		}
		idx, err := move()
		if err != nil {
			return sessionError(err)
		}
		ack.Index = &idx

	case ws.ActionJump:
		var req ws.IndexRequest
		if msg, ok := decodeAction(raw, &req); !ok {
			return msg
		}
		if err := sess.Jump(*req.Index); err != nil {
			return sessionError(err)
		}
		ack.Index = req.Index

	case ws.ActionFlag:
		var req ws.IndexRequest
		if msg, ok := decodeAction(raw, &req); !ok {
			return msg
		}
		flagged, err := sess.ToggleFlag(*req.Index)
		if err != nil {
			return sessionError(err)
		}
		ack.Index = req.Index
		ack.Flagged = &flagged

	case ws.ActionFullscreen:
		var req ws.FullscreenRequest
		if msg, ok := decodeAction(raw, &req); !ok {
			return msg
		}
		sess.ReportFullscreen(*req.Active)

	case ws.ActionReenter:
		sess.RequestFullscreen()

	case ws.ActionSubmit:
		res, err := sess.Submit()
		if err != nil {
			return sessionError(err)
		}
		ack.Response = res

	case ws.ActionExit:
		if err := sess.Exit(); err != nil {
			return sessionError(err)
		}

	case ws.ActionState:
		return ws.Message{Event: ws.EventState, Data: sess.State()}

	case ws.ActionPing:
		return ws.Message{Event: ws.EventPong}

	default:
		return ws.Message{Event: ws.EventError, Data: ws.ErrorData{
			Code:    string(response.ErrInvalidPayload),
			Message: "unknown action: " + string(env.Action),
		}}
	}

	return ws.Message{Event: ws.EventAck, Data: ack}
}

func decodeAction(raw []byte, dst any) (ws.Message, bool) {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errorMessage(response.ErrInvalidPayload, nil), false
	}
	if fields := validator.Struct(dst); fields != nil {
		return errorMessage(response.ErrValidation, fields), false
	}
	return ws.Message{}, true
}

func sessionError(err error) ws.Message {
	_, code := sessionErrorCode(err)
	return errorMessage(code, nil)
}

func errorMessage(code response.ErrCode, fields map[string]string) ws.Message {
	return ws.Message{Event: ws.EventError, Data: ws.ErrorData{
		Code:    string(code),
		Message: response.GetMessage(code),
		Fields:  fields,
	}}
}
