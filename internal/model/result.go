package model

import "time"

// SubjectScore is the per-subject tally in a Result.
type SubjectScore struct {
	Correct int     `json:"correct"`
	Total   int     `json:"total"`
	Marks   float64 `json:"marks"`
}

// Result is the scored outcome of one session. It is computed once at
// submission time and never mutated afterwards.
type Result struct {
	ExamID           string                   `json:"examId"`
	ExamTitle        string                   `json:"examTitle"`
	TotalQuestions   int                      `json:"totalQuestions"`
	CorrectAnswers   int                      `json:"correctAnswers"`
	WrongAnswers     int                      `json:"wrongAnswers"`
	Unattempted      int                      `json:"unattempted"`
	TotalMarks       float64                  `json:"totalMarks"`
	ObtainedMarks    float64                  `json:"obtainedMarks"`
	Percentage       float64                  `json:"percentage"`
	TimeTaken        int                      `json:"timeTaken"`
	SubjectWiseScore map[Subject]SubjectScore `json:"subjectWiseScore"`
	Answers          Answers                  `json:"answers"`
}

// CompletionReason records which trigger ended a session.
type CompletionReason string

const (
	CompletionManual             CompletionReason = "manual"
	CompletionTimeExpired        CompletionReason = "time_expired"
	CompletionIntegrityViolation CompletionReason = "integrity_violation"
)

// Submission is what the gateway sends to the backend. AuthToken is the
// examinee's bearer token and is never serialized.
type Submission struct {
	SessionID   string               `json:"sessionId"`
	UserID      string               `json:"userId"`
	Reason      CompletionReason     `json:"reason"`
	SubmittedAt time.Time            `json:"submittedAt"`
	Result      Result               `json:"result"`
	Questions   []QuestionForStudent `json:"questions,omitempty"`
	AuthToken   string               `json:"-"`
}
