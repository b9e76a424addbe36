package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestNormalize_NoQuestions(t *testing.T) {
	_, err := Normalize(&model.Exam{ID: "e"})
	assert.ErrorIs(t, err, ErrNoQuestions)

	_, err = Normalize(nil)
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestNormalize_CorrectAnswerShapes(t *testing.T) {
	tests := []struct {
		name    string
		q       string
		correct []string
		issue   string
	}{
		{
			name:    "single by text",
			q:       `{"_id":"q","questionType":"mcq","options":["A","B"],"correctAnswer":"B"}`,
			correct: []string{"B"},
		},
		{
			name:    "single by option object",
			q:       `{"_id":"q","questionType":"mcq","options":[{"_id":"o1","text":"A"},{"_id":"o2","text":"B"}],"correctAnswer":{"_id":"o2","text":"B"}}`,
			correct: []string{"B"},
		},
		{
			name:    "single by option id",
			q:       `{"_id":"q","questionType":"mcq","options":[{"_id":"o1","text":"A"},{"_id":"o2","text":"B"}],"correctAnswer":"o1"}`,
			correct: []string{"A"},
		},
		{
			name:    "single by label falls back to label key",
			q:       `{"_id":"q","questionType":"mcq","options":[{"_id":"o1","label":"a"},{"_id":"o2","label":"b"}],"correctAnswer":{"label":"b"}}`,
			correct: []string{"b"},
		},
		{
			name:    "single wrapped in one-element array",
			q:       `{"_id":"q","questionType":"mcq","options":["A","B"],"correctAnswer":["A"]}`,
			correct: []string{"A"},
		},
		{
			name:  "single with two answers",
			q:     `{"_id":"q","questionType":"mcq","options":["A","B"],"correctAnswer":["A","B"]}`,
			issue: IssueAmbiguous,
		},
		{
			name:  "single not among options",
			q:     `{"_id":"q","questionType":"mcq","options":["A","B"],"correctAnswer":"C"}`,
			issue: IssueNoMatchingOption,
		},
		{
			name:  "missing correct answer",
			q:     `{"_id":"q","questionType":"mcq","options":["A","B"]}`,
			issue: IssueMissingAnswer,
		},
		{
			name:    "multi dedups and sorts",
			q:       `{"_id":"q","questionType":"multiple","options":["A","B","C"],"correctAnswer":["C","A","C"]}`,
			correct: []string{"A", "C"},
		},
		{
			name:    "multi from single string",
			q:       `{"_id":"q","questionType":"multiple","options":["A","B","C"],"correctAnswer":"B"}`,
			correct: []string{"B"},
		},
		{
			name:    "integer number",
			q:       `{"_id":"q","questionType":"integer","correctAnswer":12}`,
			correct: []string{"12"},
		},
		{
			name:    "integer string is trimmed",
			q:       `{"_id":"q","questionType":"integer","correctAnswer":" 12 "}`,
			correct: []string{"12"},
		},
		{
			name:  "integer not numeric",
			q:     `{"_id":"q","questionType":"integer","correctAnswer":"twelve"}`,
			issue: IssueNotNumeric,
		},
		{
			name:  "unknown type",
			q:     `{"_id":"q","questionType":"essay","correctAnswer":"x"}`,
			issue: IssueUnknownType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q model.Question
			require.NoError(t, json.Unmarshal([]byte(tt.q), &q))

			paper, err := Normalize(&model.Exam{ID: "e", Questions: []model.Question{q}})
			require.NoError(t, err)

			it := paper.Items[0]
			assert.Equal(t, tt.issue, it.Issue)
			if tt.issue == "" {
				assert.Equal(t, tt.correct, it.Correct)
			} else {
				assert.Empty(t, it.Correct)
			}
		})
	}
}

func TestNormalize_ClampsNegativeValues(t *testing.T) {
	paper, err := Normalize(&model.Exam{
		ID:              "e",
		DurationMinutes: -5,
		Questions: []model.Question{{
			ID:            "q",
			QuestionType:  model.QuestionTypeInteger,
			CorrectAnswer: json.RawMessage(`1`),
			Marks:         4,
			NegativeMarks: -1,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, paper.DurationMinutes)
	assert.Equal(t, 0.0, paper.Items[0].NegativeMarks)
}

func TestParseResponse(t *testing.T) {
	single := &model.Item{
		ID:      "q1",
		Type:    model.QuestionTypeSingle,
		Options: []model.Option{{ID: "o1", Text: "A"}, {ID: "o2", Text: "B"}},
	}
	multi := &model.Item{
		ID:      "q2",
		Type:    model.QuestionTypeMulti,
		Options: []model.Option{{ID: "o1", Text: "A"}, {ID: "o2", Text: "B"}},
	}
	integer := &model.Item{ID: "q3", Type: model.QuestionTypeInteger}

	tests := []struct {
		name    string
		item    *model.Item
		raw     string
		want    model.Response
		wantErr bool
	}{
		{name: "single text", item: single, raw: `"B"`, want: model.SingleResponse("B")},
		{name: "single option id maps to key", item: single, raw: `"o1"`, want: model.SingleResponse("A")},
		{name: "single unknown kept raw", item: single, raw: `"Z"`, want: model.SingleResponse("Z")},
		{name: "single null clears", item: single, raw: `null`, want: model.SingleResponse("")},
		{name: "single object rejected", item: single, raw: `{"a":1}`, wantErr: true},
		{name: "multi array", item: multi, raw: `["B","o1","B"]`, want: model.MultiResponse("A", "B")},
		{name: "multi scalar", item: multi, raw: `"A"`, want: model.MultiResponse("A")},
		{name: "multi nested rejected", item: multi, raw: `[["A"]]`, wantErr: true},
		{name: "integer number", item: integer, raw: `4`, want: model.IntegerResponse("4")},
		{name: "integer decimal number", item: integer, raw: `4.50`, want: model.IntegerResponse("4.5")},
		{name: "integer string", item: integer, raw: `" 4 "`, want: model.IntegerResponse("4")},
		{name: "integer array rejected", item: integer, raw: `[4]`, wantErr: true},
		{name: "malformed json", item: integer, raw: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.item, json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
