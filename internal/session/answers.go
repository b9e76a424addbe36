package session

import "github.com/stemsi/exstem-proctor/internal/model"

// AnswerStore holds the current response per question. It is not safe for
// concurrent use; Session serializes access.
type AnswerStore struct {
	answers model.Answers
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{answers: make(model.Answers)}
}

// Set records resp for the question. An empty response removes the entry so
// the question counts as unattempted.
func (s *AnswerStore) Set(questionID string, resp model.Response) {
	if resp.Empty() {
		delete(s.answers, questionID)
		return
	}
	s.answers[questionID] = resp.Clone()
}

func (s *AnswerStore) Clear(questionID string) {
	delete(s.answers, questionID)
}

func (s *AnswerStore) Get(questionID string) (model.Response, bool) {
	r, ok := s.answers[questionID]
	return r, ok
}

func (s *AnswerStore) Len() int { return len(s.answers) }

// Snapshot returns a deep copy of the record.
func (s *AnswerStore) Snapshot() model.Answers {
	return s.answers.Clone()
}
