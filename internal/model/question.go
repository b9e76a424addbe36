package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// QuestionType enumerates how a question is answered and graded.
type QuestionType string

const (
	QuestionTypeSingle  QuestionType = "mcq"
	QuestionTypeMulti   QuestionType = "multiple"
	QuestionTypeInteger QuestionType = "integer"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingle, QuestionTypeMulti, QuestionTypeInteger:
		return true
	}
	return false
}

// Subject tags a question for the subject-wise breakdown.
type Subject string

const (
	SubjectMaths     Subject = "maths"
	SubjectPhysics   Subject = "physics"
	SubjectChemistry Subject = "chemistry"
)

// Subjects is the fixed set reported in every Result.
var Subjects = []Subject{SubjectMaths, SubjectPhysics, SubjectChemistry}

// Known reports whether s belongs to Subjects.
func (s Subject) Known() bool {
	for _, k := range Subjects {
		if k == s {
			return true
		}
	}
	return false
}

// Question is a question as delivered by the backend.
type Question struct {
	ID            string          `json:"_id"`
	QuestionText  string          `json:"questionText"`
	QuestionImage string          `json:"questionImage,omitempty"`
	QuestionType  QuestionType    `json:"questionType"`
	Options       []Option        `json:"options,omitempty"`
	CorrectAnswer json.RawMessage `json:"correctAnswer"`
	Marks         float64         `json:"marks"`
	NegativeMarks float64         `json:"negativeMarks"`
	Explanation   string          `json:"explanation,omitempty"`
	Subject       Subject         `json:"subject"`
}

// Option is one answer choice. The backend sends either a bare string or an
// object; both decode into Option.
type Option struct {
	ID        string `json:"_id,omitempty"`
	Text      string `json:"text"`
	Label     string `json:"label,omitempty"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

var errOptionShape = errors.New("option must be a string or an object")

// UnmarshalJSON accepts "text" and {"text": ..., "_id": ...}.
func (o *Option) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		*o = Option{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = Option{Text: s}
		return nil
	case '{':
		type plain Option
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*o = Option(p)
		return nil
	}
	return errOptionShape
}

// Key is the value a response uses to select this option: text, then label,
// then id.
func (o Option) Key() string {
	switch {
	case o.Text != "":
		return o.Text
	case o.Label != "":
		return o.Label
	default:
		return o.ID
	}
}

// Matches reports whether ref names this option by key, text, label or id.
func (o Option) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return ref == o.Text || ref == o.Label || ref == o.ID
}
