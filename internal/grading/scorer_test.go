package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func loadPaper(t *testing.T, raw string) *model.Paper {
	t.Helper()
	var exam model.Exam
	require.NoError(t, json.Unmarshal([]byte(raw), &exam))
	paper, err := Normalize(&exam)
	require.NoError(t, err)
	return paper
}

const mixedExam = `{
	"_id": "exam-1",
	"title": "Weekend Test 4",
	"duration": 1,
	"questions": [
		{"_id": "q1", "questionType": "mcq", "subject": "physics", "marks": 4, "negativeMarks": 1,
		 "options": [{"_id": "o1", "text": "A"}, {"_id": "o2", "text": "B"}], "correctAnswer": "A"},
		{"_id": "q2", "questionType": "multiple", "subject": "chemistry", "marks": 2, "negativeMarks": 0.5,
		 "options": ["X", "Y", "Z"], "correctAnswer": ["X", "Z"]},
		{"_id": "q3", "questionType": "integer", "subject": "maths", "marks": 2, "negativeMarks": 0,
		 "correctAnswer": 7}
	]
}`

func TestScore_MixedPaper(t *testing.T) {
	paper := loadPaper(t, mixedExam)

	answers := model.Answers{
		"q1": model.SingleResponse("A"),
		"q2": model.MultiResponse("X"),
	}

	res := Score(paper, answers, 42)

	assert.Equal(t, "exam-1", res.ExamID)
	assert.Equal(t, "Weekend Test 4", res.ExamTitle)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.Equal(t, 1, res.CorrectAnswers)
	assert.Equal(t, 1, res.WrongAnswers)
	assert.Equal(t, 1, res.Unattempted)
	assert.Equal(t, 8.0, res.TotalMarks)
	assert.Equal(t, 3.5, res.ObtainedMarks)
	assert.Equal(t, 43.75, res.Percentage)
	assert.Equal(t, 42, res.TimeTaken)

	assert.Equal(t, model.SubjectScore{Correct: 1, Total: 1, Marks: 4}, res.SubjectWiseScore[model.SubjectPhysics])
	assert.Equal(t, model.SubjectScore{Correct: 0, Total: 1, Marks: 0}, res.SubjectWiseScore[model.SubjectMaths])
	assert.Equal(t, model.SubjectScore{Correct: 0, Total: 1, Marks: 0}, res.SubjectWiseScore[model.SubjectChemistry])
	assert.Len(t, res.Answers, 2)
}

func TestScore_Rules(t *testing.T) {
	paper := loadPaper(t, mixedExam)

	tests := []struct {
		name     string
		answers  model.Answers
		correct  int
		wrong    int
		obtained float64
	}{
		{
			name:     "no answers",
			answers:  model.Answers{},
			obtained: 0,
		},
		{
			name:     "all correct",
			answers:  model.Answers{"q1": model.SingleResponse("A"), "q2": model.MultiResponse("Z", "X"), "q3": model.IntegerResponse("7")},
			correct:  3,
			obtained: 8,
		},
		{
			name:     "strict subset of multi is wrong",
			answers:  model.Answers{"q2": model.MultiResponse("X")},
			wrong:    1,
			obtained: -0.5,
		},
		{
			name:     "superset of multi is wrong",
			answers:  model.Answers{"q2": model.MultiResponse("X", "Y", "Z")},
			wrong:    1,
			obtained: -0.5,
		},
		{
			name:     "empty responses count as unattempted",
			answers:  model.Answers{"q1": model.SingleResponse(""), "q2": model.MultiResponse()},
			obtained: 0,
		},
		{
			name:     "wrong single choice subtracts negative marks",
			answers:  model.Answers{"q1": model.SingleResponse("B")},
			wrong:    1,
			obtained: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Score(paper, tt.answers, 0)
			assert.Equal(t, tt.correct, res.CorrectAnswers)
			assert.Equal(t, tt.wrong, res.WrongAnswers)
			assert.Equal(t, 3-tt.correct-tt.wrong, res.Unattempted)
			assert.Equal(t, tt.obtained, res.ObtainedMarks)
		})
	}
}

func TestScore_NegativePercentage(t *testing.T) {
	paper := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "mcq", "subject": "maths", "marks": 4, "negativeMarks": 1,
		 "options": ["A", "B"], "correctAnswer": "A"}
	]}`)

	res := Score(paper, model.Answers{"q1": model.SingleResponse("B")}, 10)
	assert.Equal(t, -1.0, res.ObtainedMarks)
	assert.Equal(t, -25.0, res.Percentage)
}

func TestScore_ZeroTotalMarks(t *testing.T) {
	paper := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "integer", "subject": "maths", "marks": 0, "correctAnswer": "3"}
	]}`)

	res := Score(paper, model.Answers{"q1": model.IntegerResponse("3")}, 0)
	assert.Equal(t, 1, res.CorrectAnswers)
	assert.Equal(t, 0.0, res.TotalMarks)
	assert.Equal(t, 0.0, res.Percentage)
}

func TestScore_IntegerStringAndNumberAgree(t *testing.T) {
	stringKey := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "integer", "subject": "maths", "marks": 4, "correctAnswer": "4"}]}`)
	numberKey := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "integer", "subject": "maths", "marks": 4, "correctAnswer": 4}]}`)

	item, ok := stringKey.Item("q1")
	require.True(t, ok)
	fromNumber, err := ParseResponse(item, json.RawMessage(`4`))
	require.NoError(t, err)
	fromString, err := ParseResponse(item, json.RawMessage(`"4"`))
	require.NoError(t, err)

	for _, paper := range []*model.Paper{stringKey, numberKey} {
		for _, resp := range []model.Response{fromNumber, fromString} {
			res := Score(paper, model.Answers{"q1": resp}, 0)
			assert.Equal(t, 1, res.CorrectAnswers)
			assert.Equal(t, 4.0, res.ObtainedMarks)
		}
	}
}

func TestScore_MalformedQuestionNeverMatches(t *testing.T) {
	paper := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "mcq", "subject": "maths", "marks": 4, "negativeMarks": 1,
		 "options": ["A", "B"]},
		{"_id": "q2", "questionType": "mcq", "subject": "maths", "marks": 4,
		 "options": ["A", "B"], "correctAnswer": "C"},
		{"_id": "q3", "questionType": "essay", "subject": "maths", "marks": 4, "correctAnswer": "A"}
	]}`)

	for _, it := range paper.Items {
		assert.NotEmpty(t, it.Issue, it.ID)
	}

	res := Score(paper, model.Answers{
		"q1": model.SingleResponse("A"),
		"q2": model.SingleResponse("C"),
	}, 0)
	assert.Equal(t, 0, res.CorrectAnswers)
	assert.Equal(t, 2, res.WrongAnswers)
	assert.Equal(t, 1, res.Unattempted)
	assert.Equal(t, 12.0, res.TotalMarks)
	assert.Equal(t, -1.0, res.ObtainedMarks)
}

func TestScore_UnknownSubjectCountsOnlyTowardTotals(t *testing.T) {
	paper := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "mcq", "subject": "biology", "marks": 4,
		 "options": ["A", "B"], "correctAnswer": "A"}
	]}`)

	res := Score(paper, model.Answers{"q1": model.SingleResponse("A")}, 0)
	assert.Equal(t, 4.0, res.ObtainedMarks)
	assert.Len(t, res.SubjectWiseScore, 3)
	for _, s := range model.Subjects {
		assert.Equal(t, model.SubjectScore{}, res.SubjectWiseScore[s])
	}
}

func TestScore_IsPureAndRepeatable(t *testing.T) {
	paper := loadPaper(t, mixedExam)
	answers := model.Answers{
		"q1": model.SingleResponse("A"),
		"q2": model.MultiResponse("X", "Z"),
	}

	first := Score(paper, answers, 30)
	second := Score(paper, answers, 30)
	assert.Equal(t, first, second)

	first.Answers["q1"] = model.SingleResponse("B")
	assert.Equal(t, "A", answers["q1"].Choice)
}

func TestScore_DecimalAccumulation(t *testing.T) {
	paper := loadPaper(t, `{"_id": "e", "questions": [
		{"_id": "q1", "questionType": "integer", "subject": "maths", "marks": 0.1, "correctAnswer": "1"},
		{"_id": "q2", "questionType": "integer", "subject": "maths", "marks": 0.2, "correctAnswer": "2"}
	]}`)

	res := Score(paper, model.Answers{
		"q1": model.IntegerResponse("1"),
		"q2": model.IntegerResponse("2"),
	}, 0)
	assert.Equal(t, 0.3, res.TotalMarks)
	assert.Equal(t, 0.3, res.ObtainedMarks)
	assert.Equal(t, 0.3, res.SubjectWiseScore[model.SubjectMaths].Marks)
	assert.Equal(t, 100.0, res.Percentage)
}
