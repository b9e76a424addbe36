package model

import (
	"encoding/json"
	"sort"
)

// Response is an examinee's answer to one question. Exactly one of Choice,
// Choices or Value is meaningful, selected by Kind.
type Response struct {
	Kind    QuestionType
	Choice  string
	Choices []string
	Value   string
}

// SingleResponse builds a single-choice response.
func SingleResponse(choice string) Response {
	return Response{Kind: QuestionTypeSingle, Choice: choice}
}

// MultiResponse builds a multi-choice response. Duplicates are dropped and
// the set is kept sorted.
func MultiResponse(choices ...string) Response {
	seen := make(map[string]struct{}, len(choices))
	set := make([]string, 0, len(choices))
	for _, c := range choices {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		set = append(set, c)
	}
	sort.Strings(set)
	return Response{Kind: QuestionTypeMulti, Choices: set}
}

// IntegerResponse builds an integer response from its string form.
func IntegerResponse(value string) Response {
	return Response{Kind: QuestionTypeInteger, Value: value}
}

// Empty reports whether the response counts as unattempted.
func (r Response) Empty() bool {
	switch r.Kind {
	case QuestionTypeSingle:
		return r.Choice == ""
	case QuestionTypeMulti:
		return len(r.Choices) == 0
	case QuestionTypeInteger:
		return r.Value == ""
	}
	return true
}

// Clone returns a copy that shares no memory with r.
func (r Response) Clone() Response {
	c := r
	if r.Choices != nil {
		c.Choices = append([]string(nil), r.Choices...)
	}
	return c
}

// MarshalJSON renders the natural shape: a string for single-choice and
// integer answers, an array for multi-choice answers.
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case QuestionTypeSingle:
		return json.Marshal(r.Choice)
	case QuestionTypeMulti:
		if r.Choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Choices)
	case QuestionTypeInteger:
		return json.Marshal(r.Value)
	}
	return []byte("null"), nil
}

// Answers maps question id to the current response.
type Answers map[string]Response

// Clone deep-copies the record.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}
