package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusSubmitted SessionStatus = "SUBMITTED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

// IntegrityState is the integrity monitor's position in its escalation ladder.
type IntegrityState string

const (
	IntegrityFullscreen    IntegrityState = "fullscreen"
	IntegrityExitedWarning IntegrityState = "exited_warning"
	IntegrityExitedFinal   IntegrityState = "exited_final"
	IntegritySubmitted     IntegrityState = "submitted"
)

// IntegritySnapshot is the observable part of the integrity monitor.
type IntegritySnapshot struct {
	State          IntegrityState `json:"state"`
	ExitAttempts   int            `json:"exitAttempts"`
	MaxAttempts    int            `json:"maxAttempts"`
	Fullscreen     bool           `json:"fullscreen"`
	WarningVisible bool           `json:"warningVisible"`
}

// SessionState is a point-in-time view of a running session. Submission stays
// empty until a result is handed to the backend.
type SessionState struct {
	SessionID        uuid.UUID         `json:"sessionId"`
	ExamID           string            `json:"examId"`
	UserID           string            `json:"userId"`
	Status           SessionStatus     `json:"status"`
	Reason           CompletionReason  `json:"reason,omitempty"`
	StartedAt        time.Time         `json:"startedAt"`
	CurrentIndex     int               `json:"currentIndex"`
	QuestionCount    int               `json:"questionCount"`
	Progress         float64           `json:"progress"`
	Flagged          []int             `json:"flagged"`
	Answers          Answers           `json:"answers"`
	RemainingSeconds int               `json:"remainingSeconds"`
	Clock            string            `json:"clock"`
	Integrity        IntegritySnapshot `json:"integrity"`
	Result           *Result           `json:"result,omitempty"`
	Submission       BackendStatus     `json:"submission,omitempty"`
	SubmitWarning    string            `json:"submitWarning,omitempty"`
}

// StartSessionRequest is the optional payload for starting a session.
type StartSessionRequest struct {
	ClientInfo string `json:"client_info" binding:"omitempty,max=255"`
}
