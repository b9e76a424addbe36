package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	WriteWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	PingPeriod = PongWait * 9 / 10
	MaxMessage = 64 * 1024
)

// WriteTyped sends one frame with a write deadline.
func WriteTyped(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteJSON(v)
}

// WriteError sends an error frame.
func WriteError(conn *websocket.Conn, code, message string) error {
	return WriteTyped(conn, Message{
		Event: EventError,
		Data:  ErrorData{Code: code, Message: message},
	})
}

// PrepareRead sets the read limits and keeps the read deadline moving on
// every pong.
func PrepareRead(conn *websocket.Conn) {
	conn.SetReadLimit(MaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})
}

// WritePing sends a control ping.
func WritePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait))
}
