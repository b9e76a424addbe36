package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []model.Submission
	err   error
}

func (g *fakeGateway) Submit(_ context.Context, sub model.Submission) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, sub)
	return g.err
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recorder struct {
	mu        sync.Mutex
	events    []EventType
	completes []model.CompletionReason
	exits     int
	saved     int
	failed    []error
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnComplete: func(_ model.Result, reason model.CompletionReason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completes = append(r.completes, reason)
		},
		OnExit: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.exits++
		},
		OnSubmitted: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.saved++
		},
		OnSubmitFailed: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed = append(r.failed, err)
		},
		OnEvent: func(ev Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev.Type)
		},
	}
}

func (r *recorder) has(t EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == t {
			return true
		}
	}
	return false
}

func (r *recorder) completions() []model.CompletionReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CompletionReason(nil), r.completes...)
}

func testPaper(t *testing.T, durationMinutes int) *model.Paper {
	t.Helper()
	exam := model.Exam{
		ID:              "exam-1",
		Title:           "Mock Test",
		DurationMinutes: durationMinutes,
		Questions: []model.Question{
			{ID: "q1", QuestionType: model.QuestionTypeSingle, Subject: model.SubjectPhysics, Marks: 4, NegativeMarks: 1,
				Options: []model.Option{{Text: "A"}, {Text: "B"}}, CorrectAnswer: json.RawMessage(`"A"`)},
			{ID: "q2", QuestionType: model.QuestionTypeMulti, Subject: model.SubjectChemistry, Marks: 2, NegativeMarks: 0.5,
				Options: []model.Option{{Text: "X"}, {Text: "Y"}, {Text: "Z"}}, CorrectAnswer: json.RawMessage(`["X","Z"]`)},
			{ID: "q3", QuestionType: model.QuestionTypeInteger, Subject: model.SubjectMaths, Marks: 2,
				CorrectAnswer: json.RawMessage(`7`)},
		},
	}
	paper, err := grading.Normalize(&exam)
	require.NoError(t, err)
	return paper
}

func newTestSession(t *testing.T, durationMinutes int, gw Gateway, rec *recorder) (*Session, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	s := New(testPaper(t, durationMinutes), Owner{UserID: "student-1", Token: "tok"}, gw, rec.hooks(), Options{
		Clock:  clk,
		Logger: zerolog.Nop(),
	})
	s.Start()
	return s, clk
}

func TestSession_TimerExpirySubmitsOnce(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}
	s, _ := newTestSession(t, 1, gw, rec)

	_, err := s.Answer("q1", json.RawMessage(`"A"`))
	require.NoError(t, err)

	for i := 0; i < 59; i++ {
		s.tick()
	}
	status, _ := s.Status()
	assert.Equal(t, model.SessionStatusActive, status)
	assert.Equal(t, 1, s.State().RemainingSeconds)

	s.tick()
	s.Wait()

	st := s.State()
	assert.Equal(t, model.SessionStatusSubmitted, st.Status)
	assert.Equal(t, model.CompletionTimeExpired, st.Reason)
	assert.Equal(t, 0, st.RemainingSeconds)
	assert.Equal(t, "00:00:00", st.Clock)
	require.NotNil(t, st.Result)
	assert.Equal(t, 60, st.Result.TimeTaken)
	assert.Equal(t, 4.0, st.Result.ObtainedMarks)

	// the clock is stopped after submission
	s.tick()
	assert.Equal(t, 0, s.State().RemainingSeconds)

	assert.Equal(t, 1, gw.count())
	assert.Equal(t, []model.CompletionReason{model.CompletionTimeExpired}, rec.completions())
	assert.True(t, rec.has(EventSubmitSaved))

	gw.mu.Lock()
	sub := gw.calls[0]
	gw.mu.Unlock()
	assert.Equal(t, "tok", sub.AuthToken)
	assert.Equal(t, "student-1", sub.UserID)
	assert.Equal(t, s.ID().String(), sub.SessionID)
	require.Len(t, sub.Questions, 3)
	assert.Equal(t, "q1", sub.Questions[0].ID)
}

func TestSession_ConcurrentTriggersSubmitOnce(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}
	s, clk := newTestSession(t, 1, gw, rec)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_, _ = s.Submit()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			s.tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < DefaultMaxExits; i++ {
			s.ReportFullscreen(false)
		}
	}()
	wg.Wait()
	clk.Step(DefaultFinalDelay)

	require.Eventually(t, func() bool { return gw.count() == 1 }, time.Second, 5*time.Millisecond)
	first, ok := s.Result()
	require.True(t, ok)

	again, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	time.Sleep(20 * time.Millisecond)
	s.Wait()
	assert.Equal(t, 1, gw.count())
	assert.Len(t, rec.completions(), 1)
}

func TestSession_IntegrityEscalation(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}
	s, clk := newTestSession(t, 0, gw, rec)

	for i := 1; i < DefaultMaxExits; i++ {
		snap := s.ReportFullscreen(false)
		assert.Equal(t, model.IntegrityExitedWarning, snap.State)
		assert.Equal(t, i, snap.ExitAttempts)
		assert.True(t, snap.WarningVisible)

		snap = s.ReportFullscreen(true)
		assert.Equal(t, model.IntegrityFullscreen, snap.State)
		assert.False(t, snap.WarningVisible)
	}
	assert.True(t, rec.has(EventIntegrityWarning))

	snap := s.ReportFullscreen(false)
	assert.Equal(t, model.IntegrityExitedFinal, snap.State)
	assert.Equal(t, DefaultMaxExits, snap.ExitAttempts)

	// the final exit does not submit immediately
	clk.Step(DefaultFinalDelay - time.Millisecond)
	status, _ := s.Status()
	assert.Equal(t, model.SessionStatusActive, status)

	// exits after the final one are ignored
	snap = s.ReportFullscreen(false)
	assert.Equal(t, DefaultMaxExits, snap.ExitAttempts)

	clk.Step(time.Millisecond)
	require.Eventually(t, func() bool {
		st, _ := s.Status()
		return st == model.SessionStatusSubmitted
	}, time.Second, 5*time.Millisecond)

	st := s.State()
	assert.Equal(t, model.CompletionIntegrityViolation, st.Reason)
	assert.Equal(t, model.IntegritySubmitted, st.Integrity.State)

	snap = s.ReportFullscreen(false)
	assert.Equal(t, DefaultMaxExits, snap.ExitAttempts)

	require.Eventually(t, func() bool { return gw.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_FinalDelayFiresAfterManualSubmitIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}
	s, clk := newTestSession(t, 0, gw, rec)

	for i := 0; i < DefaultMaxExits; i++ {
		s.ReportFullscreen(false)
	}
	res, err := s.Submit()
	require.NoError(t, err)

	clk.Step(DefaultFinalDelay)
	time.Sleep(20 * time.Millisecond)
	s.Wait()

	after, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, res, after)
	assert.Equal(t, model.CompletionManual, s.State().Reason)
	assert.Equal(t, 1, gw.count())
}

func TestSession_FlagSurvivesNavigation(t *testing.T) {
	s, _ := newTestSession(t, 0, &fakeGateway{}, &recorder{})

	flagged, err := s.ToggleFlag(2)
	require.NoError(t, err)
	assert.True(t, flagged)

	require.NoError(t, s.Jump(0))
	require.NoError(t, s.Jump(2))

	st := s.State()
	assert.Equal(t, 2, st.CurrentIndex)
	assert.Equal(t, []int{2}, st.Flagged)
	assert.Empty(t, st.Answers)
	assert.Equal(t, 1.0, st.Progress)
}

func TestSession_NavigationBounds(t *testing.T) {
	s, _ := newTestSession(t, 0, &fakeGateway{}, &recorder{})

	idx, err := s.Previous()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	for i := 0; i < 5; i++ {
		idx, err = s.Next()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, idx)

	assert.ErrorIs(t, s.Jump(3), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Jump(-1), ErrIndexOutOfRange)
	assert.Equal(t, 2, s.State().CurrentIndex)
}

func TestSession_AnswersRejectedAfterSubmit(t *testing.T) {
	gw := &fakeGateway{}
	s, _ := newTestSession(t, 0, gw, &recorder{})

	_, err := s.Answer("q2", json.RawMessage(`["X","Z"]`))
	require.NoError(t, err)
	_, err = s.Answer("missing", json.RawMessage(`"A"`))
	assert.ErrorIs(t, err, ErrUnknownQuestion)
	_, err = s.Answer("q3", json.RawMessage(`{"n":1}`))
	assert.ErrorIs(t, err, grading.ErrInvalidResponse)

	res, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, 1, res.CorrectAnswers)

	_, err = s.Answer("q1", json.RawMessage(`"A"`))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.ClearAnswer("q2"), ErrSessionClosed)
	_, err = s.ToggleFlag(0)
	assert.ErrorIs(t, err, ErrSessionClosed)

	st := s.State()
	assert.Len(t, st.Answers, 1)
	assert.Equal(t, res, *st.Result)
	s.Wait()
}

func TestSession_ClearingAnswerMakesItUnattempted(t *testing.T) {
	s, _ := newTestSession(t, 0, nil, &recorder{})

	_, err := s.Answer("q1", json.RawMessage(`"B"`))
	require.NoError(t, err)
	require.NoError(t, s.ClearAnswer("q1"))
	_, err = s.Answer("q3", json.RawMessage(`null`))
	require.NoError(t, err)

	res, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Unattempted)
	assert.Equal(t, 0.0, res.ObtainedMarks)
}

func TestSession_ExitAbandonsWithoutResult(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}
	s, _ := newTestSession(t, 1, gw, rec)

	require.NoError(t, s.Exit())
	assert.ErrorIs(t, s.Exit(), ErrSessionClosed)

	for i := 0; i < 60; i++ {
		s.tick()
	}
	_, err := s.Submit()
	assert.ErrorIs(t, err, ErrSessionClosed)

	st := s.State()
	assert.Equal(t, model.SessionStatusAbandoned, st.Status)
	assert.Nil(t, st.Result)
	assert.Equal(t, 60, st.RemainingSeconds)
	assert.Equal(t, 0, gw.count())
	assert.Equal(t, 1, rec.exits)
	assert.Empty(t, rec.completions())
	assert.True(t, rec.has(EventExited))

	select {
	case <-s.Done():
	default:
		t.Fatal("session not halted after exit")
	}
}

func TestSession_SubmitFailureStillDeliversResult(t *testing.T) {
	gw := &fakeGateway{err: errors.New("backend returned 500")}
	rec := &recorder{}
	s, _ := newTestSession(t, 0, gw, rec)

	res, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Unattempted)
	s.Wait()

	st := s.State()
	assert.Equal(t, model.BackendFailed, st.Submission)
	assert.Equal(t, SubmitWarningMessage, st.SubmitWarning)
	require.NotNil(t, st.Result)
	assert.Equal(t, res, *st.Result)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.failed, 1)
	assert.Equal(t, 0, rec.saved)
	assert.Equal(t, []model.CompletionReason{model.CompletionManual}, rec.completes)
	assert.Contains(t, rec.events, EventCompleted)
	assert.Contains(t, rec.events, EventSubmitWarning)
}

func TestSession_SubmissionStatusInState(t *testing.T) {
	s, _ := newTestSession(t, 0, &fakeGateway{}, &recorder{})
	assert.Empty(t, s.State().Submission)

	_, err := s.Submit()
	require.NoError(t, err)
	s.Wait()

	st := s.State()
	assert.Equal(t, model.BackendSaved, st.Submission)
	assert.Empty(t, st.SubmitWarning)

	// without a gateway nothing is ever sent
	local, _ := newTestSession(t, 0, nil, &recorder{})
	_, err = local.Submit()
	require.NoError(t, err)
	assert.Empty(t, local.State().Submission)
}

func TestSession_UntimedElapsedFromClock(t *testing.T) {
	s, clk := newTestSession(t, 0, nil, &recorder{})

	clk.Step(90 * time.Second)
	res, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, 90, res.TimeTaken)
	assert.Equal(t, 0, s.State().RemainingSeconds)
}

func TestSession_StartRequestsFullscreen(t *testing.T) {
	rec := &recorder{}
	newTestSession(t, 0, nil, rec)
	assert.True(t, rec.has(EventFullscreenRequest))
}
