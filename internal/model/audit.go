package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IntegrityEventKind is what happened to fullscreen.
type IntegrityEventKind string

const (
	IntegrityEventExit    IntegrityEventKind = "exit"
	IntegrityEventReenter IntegrityEventKind = "reenter"
	IntegrityEventFinal   IntegrityEventKind = "final"
)

// IntegrityEvent is queued for the audit trail on every fullscreen change.
type IntegrityEvent struct {
	SessionID    string             `json:"session_id"`
	ExamID       string             `json:"exam_id"`
	UserID       string             `json:"user_id"`
	Kind         IntegrityEventKind `json:"kind"`
	ExitAttempts int                `json:"exit_attempts"`
	Timestamp    int64              `json:"timestamp"`
}

// AnswerEvent journals one answer mutation. A null Response is a clear.
type AnswerEvent struct {
	SessionID  string          `json:"session_id"`
	ExamID     string          `json:"exam_id"`
	UserID     string          `json:"user_id"`
	QuestionID string          `json:"q_id"`
	Response   json.RawMessage `json:"response"`
	Timestamp  int64           `json:"timestamp"`
}

// BackendStatus tracks whether the backend accepted a result.
type BackendStatus string

const (
	BackendPending BackendStatus = "pending"
	BackendSaved   BackendStatus = "saved"
	BackendFailed  BackendStatus = "failed"
)

// ResultRecord is queued once at completion and again when the backend
// submission settles.
type ResultRecord struct {
	SessionID     string           `json:"session_id"`
	ExamID        string           `json:"exam_id"`
	UserID        string           `json:"user_id"`
	Reason        CompletionReason `json:"reason"`
	BackendStatus BackendStatus    `json:"backend_status"`
	ExitAttempts  int              `json:"exit_attempts"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	Result        Result           `json:"result"`
}

// StoredResult is a persisted result row as listed to admins.
type StoredResult struct {
	SessionID        uuid.UUID                `json:"session_id"`
	ExamID           string                   `json:"exam_id"`
	UserID           string                   `json:"user_id"`
	Reason           CompletionReason         `json:"reason"`
	BackendStatus    BackendStatus            `json:"backend_status"`
	TotalQuestions   int                      `json:"total_questions"`
	CorrectAnswers   int                      `json:"correct_answers"`
	WrongAnswers     int                      `json:"wrong_answers"`
	Unattempted      int                      `json:"unattempted"`
	TotalMarks       float64                  `json:"total_marks"`
	ObtainedMarks    float64                  `json:"obtained_marks"`
	Percentage       float64                  `json:"percentage"`
	TimeTaken        int                      `json:"time_taken"`
	SubjectWiseScore map[Subject]SubjectScore `json:"subject_wise_score"`
	ExitAttempts     int                      `json:"exit_attempts"`
	SubmittedAt      time.Time                `json:"submitted_at"`
}

// ResultListQuery is the admin listing filter.
type ResultListQuery struct {
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
	Reason  string `form:"reason" binding:"omitempty,oneof=manual time_expired integrity_violation"`
}
