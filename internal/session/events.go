package session

import "github.com/stemsi/exstem-proctor/internal/model"

// EventType names a push from a session to its client.
type EventType string

const (
	EventTick              EventType = "tick"
	EventIntegrityWarning  EventType = "integrity_warning"
	EventIntegrityRestored EventType = "integrity_restored"
	EventFullscreenRequest EventType = "fullscreen_request"
	EventCompleted         EventType = "completed"
	EventSubmitSaved       EventType = "submit_saved"
	EventSubmitWarning     EventType = "submit_warning"
	EventExited            EventType = "exited"
)

// Event is delivered through Hooks.OnEvent.
type Event struct {
	Type EventType
	Data any
}

type TickData struct {
	RemainingSeconds int    `json:"remainingSeconds"`
	Clock            string `json:"clock"`
}

type CompletedData struct {
	Reason model.CompletionReason `json:"reason"`
	Result model.Result           `json:"result"`
}

type SubmitWarningData struct {
	Message string `json:"message"`
}
