package model

import (
	"time"
)

// ExamType is the backend's category for an exam.
type ExamType string

const (
	ExamTypeWeekend  ExamType = "weekend"
	ExamTypeMains    ExamType = "mains"
	ExamTypeAdvanced ExamType = "advanced"
	ExamTypePractice ExamType = "practice"
)

// Exam is the exam definition fetched from the backend once per session.
// TotalQuestions and TotalMarks are denormalized by the backend and are not
// trusted for scoring.
type Exam struct {
	ID              string     `json:"_id" binding:"required"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	ExamType        ExamType   `json:"examType,omitempty"`
	DurationMinutes int        `json:"duration" binding:"min=0"`
	TotalQuestions  int        `json:"totalQuestions"`
	TotalMarks      float64    `json:"totalMarks"`
	Instructions    string     `json:"instructions,omitempty"`
	StartDate       *time.Time `json:"startDate,omitempty"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	IsActive        bool       `json:"isActive"`
	Questions       []Question `json:"questions"`
}

// Item is a question normalized once at load time. Correct holds canonical
// keys: the option key for single/multi choice, the numeric string form for
// integer questions. Issue is non-empty when the correct answer could not be
// resolved; such an item never scores as correct.
type Item struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	Image         string       `json:"image,omitempty"`
	Type          QuestionType `json:"type"`
	Options       []Option     `json:"options,omitempty"`
	Correct       []string     `json:"-"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negativeMarks"`
	Subject       Subject      `json:"subject"`
	Explanation   string       `json:"-"`
	Issue         string       `json:"-"`
}

// Paper is the immutable, normalized exam a session runs against.
type Paper struct {
	ExamID          string     `json:"examId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	ExamType        ExamType   `json:"examType,omitempty"`
	Instructions    string     `json:"instructions,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	StartDate       *time.Time `json:"startDate,omitempty"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	IsActive        bool       `json:"isActive"`
	Items           []Item     `json:"items"`
}

// Item returns the item with the given question id.
func (p *Paper) Item(questionID string) (*Item, bool) {
	for i := range p.Items {
		if p.Items[i].ID == questionID {
			return &p.Items[i], true
		}
	}
	return nil, false
}

// QuestionForStudent is an item without its answer key or explanation.
type QuestionForStudent struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	Image         string       `json:"image,omitempty"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negativeMarks"`
	Subject       Subject      `json:"subject"`
}

// StudentPaper is the payload sent to the examinee.
type StudentPaper struct {
	ExamID          string               `json:"examId"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	Instructions    string               `json:"instructions,omitempty"`
	DurationMinutes int                  `json:"durationMinutes"`
	Questions       []QuestionForStudent `json:"questions"`
}

// ForStudent strips answer keys and explanations.
func (p *Paper) ForStudent() StudentPaper {
	questions := make([]QuestionForStudent, len(p.Items))
	for i, it := range p.Items {
		opts := make([]string, 0, len(it.Options))
		for _, o := range it.Options {
			opts = append(opts, o.Key())
		}
		questions[i] = QuestionForStudent{
			ID:            it.ID,
			Text:          it.Text,
			Image:         it.Image,
			Type:          it.Type,
			Options:       opts,
			Marks:         it.Marks,
			NegativeMarks: it.NegativeMarks,
			Subject:       it.Subject,
		}
	}
	return StudentPaper{
		ExamID:          p.ExamID,
		Title:           p.Title,
		Description:     p.Description,
		Instructions:    p.Instructions,
		DurationMinutes: p.DurationMinutes,
		Questions:       questions,
	}
}
