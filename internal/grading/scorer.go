package grading

import (
	"github.com/shopspring/decimal"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Score computes the result of an answer record against a paper. It is pure:
// the same inputs always give the same result and neither input is modified.
func Score(paper *model.Paper, answers model.Answers, elapsedSeconds int) model.Result {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}

	res := model.Result{
		ExamID:           paper.ExamID,
		ExamTitle:        paper.Title,
		TotalQuestions:   len(paper.Items),
		TimeTaken:        elapsedSeconds,
		SubjectWiseScore: make(map[model.Subject]model.SubjectScore, len(model.Subjects)),
		Answers:          answers.Clone(),
	}

	subjectMarks := make(map[model.Subject]decimal.Decimal, len(model.Subjects))
	for _, s := range model.Subjects {
		res.SubjectWiseScore[s] = model.SubjectScore{}
		subjectMarks[s] = decimal.Zero
	}

	total := decimal.Zero
	obtained := decimal.Zero

	for i := range paper.Items {
		it := &paper.Items[i]
		marks := decimal.NewFromFloat(it.Marks)
		total = total.Add(marks)

		tally, tracked := res.SubjectWiseScore[it.Subject]
		if tracked {
			tally.Total++
		}

		resp, ok := answers[it.ID]
		switch {
		case !ok || resp.Empty():
		case IsCorrect(it, resp):
			res.CorrectAnswers++
			obtained = obtained.Add(marks)
			if tracked {
				tally.Correct++
				subjectMarks[it.Subject] = subjectMarks[it.Subject].Add(marks)
			}
		default:
			res.WrongAnswers++
			obtained = obtained.Sub(decimal.NewFromFloat(it.NegativeMarks))
		}

		if tracked {
			res.SubjectWiseScore[it.Subject] = tally
		}
	}

	for s, m := range subjectMarks {
		tally := res.SubjectWiseScore[s]
		tally.Marks = m.InexactFloat64()
		res.SubjectWiseScore[s] = tally
	}

	res.Unattempted = res.TotalQuestions - res.CorrectAnswers - res.WrongAnswers
	res.TotalMarks = total.InexactFloat64()
	res.ObtainedMarks = obtained.InexactFloat64()
	if !total.IsZero() {
		res.Percentage = obtained.Div(total).Mul(hundred).InexactFloat64()
	}
	return res
}

// IsCorrect reports whether resp matches the item's canonical answer.
// Items with an unresolved answer key never match.
func IsCorrect(it *model.Item, resp model.Response) bool {
	if it.Issue != "" || len(it.Correct) == 0 || resp.Kind != it.Type {
		return false
	}

	switch it.Type {
	case model.QuestionTypeSingle:
		return resp.Choice == it.Correct[0]
	case model.QuestionTypeInteger:
		return resp.Value == it.Correct[0]
	case model.QuestionTypeMulti:
		if len(resp.Choices) != len(it.Correct) {
			return false
		}
		chosen := make(map[string]struct{}, len(resp.Choices))
		for _, c := range resp.Choices {
			chosen[c] = struct{}{}
		}
		for _, c := range it.Correct {
			if _, ok := chosen[c]; !ok {
				return false
			}
		}
		return true
	}
	return false
}
