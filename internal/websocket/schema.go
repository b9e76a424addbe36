package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionClear      Action = "clear"
	ActionNext       Action = "next"
	ActionPrevious   Action = "previous"
	ActionJump       Action = "jump"
	ActionFlag       Action = "flag"
	ActionFullscreen Action = "fullscreen"
	ActionReenter    Action = "reenter"
	ActionSubmit     Action = "submit"
	ActionExit       Action = "exit"
	ActionState      Action = "state"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest sets the response to one question. A null value clears it.
type AnswerRequest struct {
	Action Action          `json:"action"`
	QID    string          `json:"q_id" binding:"required,max=128"`
	Value  json.RawMessage `json:"value"`
}

// ClearRequest removes the response to one question.
type ClearRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id" binding:"required,max=128"`
}

// IndexRequest carries a question index for jump and flag.
type IndexRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// FullscreenRequest reports a fullscreen change observed by the browser.
type FullscreenRequest struct {
	Action Action `json:"action"`
	Active *bool  `json:"active" binding:"required"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState             Event = "state"
	EventTick              Event = "tick"
	EventIntegrityWarning  Event = "integrity_warning"
	EventIntegrityRestored Event = "integrity_restored"
	EventFullscreenRequest Event = "fullscreen_request"
	EventCompleted         Event = "completed"
	EventSubmitSaved       Event = "submit_saved"
	EventSubmitWarning     Event = "submit_warning"
	EventExited            Event = "exited"
	EventAck               Event = "ack"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

// Message is every server frame.
type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type AckData struct {
	Action   Action `json:"action"`
	Index    *int   `json:"index,omitempty"`
	Flagged  *bool  `json:"flagged,omitempty"`
	QID      string `json:"q_id,omitempty"`
	Response any    `json:"response,omitempty"`
}

type ErrorData struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
