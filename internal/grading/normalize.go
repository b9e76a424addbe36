// Package grading normalizes exam definitions into canonical items and scores
// answer records against them.
package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrNoQuestions     = errors.New("exam has no questions")
	ErrInvalidResponse = errors.New("response does not fit the question type")
)

// Item issues. An item carrying one of these never scores as correct.
const (
	IssueMissingAnswer    = "missing correct answer"
	IssueUnknownType      = "unknown question type"
	IssueNotNumeric       = "correct answer is not numeric"
	IssueNoMatchingOption = "correct answer does not match any option"
	IssueAmbiguous        = "single-choice question has several correct answers"
)

// Normalize builds the canonical paper for an exam. Option and answer shapes
// are resolved here once so scoring compares plain strings.
func Normalize(exam *model.Exam) (*model.Paper, error) {
	if exam == nil || len(exam.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	items := make([]model.Item, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		items = append(items, normalizeQuestion(q))
	}

	duration := exam.DurationMinutes
	if duration < 0 {
		duration = 0
	}

	return &model.Paper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		Description:     exam.Description,
		ExamType:        exam.ExamType,
		Instructions:    exam.Instructions,
		DurationMinutes: duration,
		StartDate:       exam.StartDate,
		EndDate:         exam.EndDate,
		IsActive:        exam.IsActive,
		Items:           items,
	}, nil
}

func normalizeQuestion(q model.Question) model.Item {
	negative := q.NegativeMarks
	if negative < 0 {
		negative = 0
	}

	it := model.Item{
		ID:            q.ID,
		Text:          q.QuestionText,
		Image:         q.QuestionImage,
		Type:          q.QuestionType,
		Options:       q.Options,
		Marks:         q.Marks,
		NegativeMarks: negative,
		Subject:       q.Subject,
		Explanation:   q.Explanation,
	}
	it.Correct, it.Issue = resolveCorrect(q)
	return it
}

func resolveCorrect(q model.Question) ([]string, string) {
	if !q.QuestionType.Valid() {
		return nil, IssueUnknownType
	}

	refs, err := decodeRefs(q.CorrectAnswer)
	if err != nil || len(refs) == 0 {
		return nil, IssueMissingAnswer
	}

	switch q.QuestionType {
	case model.QuestionTypeInteger:
		if len(refs) != 1 || len(refs[0]) == 0 {
			return nil, IssueNotNumeric
		}
		v := refs[0][0]
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return nil, IssueNotNumeric
		}
		return []string{v}, ""

	case model.QuestionTypeSingle:
		if len(refs) != 1 {
			return nil, IssueAmbiguous
		}
		key, ok := resolveRef(q.Options, refs[0])
		if !ok {
			return nil, IssueNoMatchingOption
		}
		return []string{key}, ""

	default:
		keys := make([]string, 0, len(refs))
		for _, ref := range refs {
			key, ok := resolveRef(q.Options, ref)
			if !ok {
				return nil, IssueNoMatchingOption
			}
			keys = append(keys, key)
		}
		set := model.MultiResponse(keys...).Choices
		if len(set) == 0 {
			return nil, IssueMissingAnswer
		}
		return set, ""
	}
}

// resolveRef maps a reference (its candidate spellings: text, label, id) to
// the option key it names. Without options the first candidate is kept.
func resolveRef(options []model.Option, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if len(options) == 0 {
		return candidates[0], true
	}
	for _, c := range candidates {
		for _, o := range options {
			if o.Matches(c) {
				return o.Key(), true
			}
		}
	}
	return "", false
}

// decodeRefs turns a raw correct-answer value into a list of references, each
// a list of candidate spellings. Scalars become one reference.
func decodeRefs(raw json.RawMessage) ([][]string, error) {
	v, err := decodeLoose(raw)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	if list, ok := v.([]any); ok {
		refs := make([][]string, 0, len(list))
		for _, el := range list {
			if c := candidates(el); len(c) > 0 {
				refs = append(refs, c)
			}
		}
		return refs, nil
	}

	if c := candidates(v); len(c) > 0 {
		return [][]string{c}, nil
	}
	return nil, nil
}

func candidates(v any) []string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return []string{s}
	case json.Number:
		return []string{formatNumber(t)}
	case map[string]any:
		var out []string
		for _, field := range []string{"text", "label", "_id"} {
			if s, ok := t[field].(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func decodeLoose(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// formatNumber renders a JSON number the way the backend's JavaScript clients
// stringify it: no trailing zeros, no exponent for ordinary magnitudes.
func formatNumber(n json.Number) string {
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseResponse converts a raw client value into the response shape the item
// expects. Choice values naming an option by id are mapped to its key.
// A null value yields an empty response, which clears the answer.
func ParseResponse(item *model.Item, raw json.RawMessage) (model.Response, error) {
	v, err := decodeLoose(raw)
	if err != nil {
		return model.Response{}, ErrInvalidResponse
	}

	switch item.Type {
	case model.QuestionTypeSingle:
		s, ok := scalar(v)
		if !ok {
			if list, isList := v.([]any); isList && len(list) <= 1 {
				if len(list) == 0 {
					return model.SingleResponse(""), nil
				}
				s, ok = scalar(list[0])
			}
			if !ok {
				return model.Response{}, ErrInvalidResponse
			}
		}
		return model.SingleResponse(choiceKey(item.Options, s)), nil

	case model.QuestionTypeMulti:
		var values []any
		switch t := v.(type) {
		case nil:
		case []any:
			values = t
		default:
			values = []any{t}
		}
		keys := make([]string, 0, len(values))
		for _, el := range values {
			s, ok := scalar(el)
			if !ok {
				return model.Response{}, ErrInvalidResponse
			}
			keys = append(keys, choiceKey(item.Options, s))
		}
		return model.MultiResponse(keys...), nil

	case model.QuestionTypeInteger:
		s, ok := scalar(v)
		if !ok {
			return model.Response{}, ErrInvalidResponse
		}
		return model.IntegerResponse(strings.TrimSpace(s)), nil
	}

	return model.Response{}, ErrInvalidResponse
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case json.Number:
		return formatNumber(t), true
	}
	return "", false
}

func choiceKey(options []model.Option, s string) string {
	for _, o := range options {
		if o.Matches(s) {
			return o.Key()
		}
	}
	return s
}
