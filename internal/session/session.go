// Package session runs one examinee's timed assessment: the countdown, the
// fullscreen integrity monitor, the answer record and navigation, and the
// single scoring + submission that ends it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrSessionClosed   = errors.New("session is no longer active")
	ErrUnknownQuestion = errors.New("question not in this exam")
)

const (
	DefaultFinalDelay    = 500 * time.Millisecond
	DefaultSubmitTimeout = 30 * time.Second
)

// SubmitWarningMessage is shown when the backend did not accept the result.
const SubmitWarningMessage = "Your result could not be saved to the server. Your score is shown below."

// Gateway delivers a finished result to the system of record. It is called
// at most once per session and never retried.
type Gateway interface {
	Submit(ctx context.Context, sub model.Submission) error
}

// Hooks are the caller's callbacks. Every hook is optional and is invoked
// without the session lock held.
type Hooks struct {
	OnComplete     func(result model.Result, reason model.CompletionReason)
	OnExit         func()
	OnSubmitted    func()
	OnSubmitFailed func(err error)
	OnEvent        func(ev Event)
}

type Options struct {
	MaxExits      int
	FinalDelay    time.Duration
	SubmitTimeout time.Duration
	Clock         clock.WithTicker
	Logger        zerolog.Logger
}

// Owner identifies the examinee. Token is forwarded to the gateway.
type Owner struct {
	UserID string
	Token  string
}

type Session struct {
	id      uuid.UUID
	owner   Owner
	paper   *model.Paper
	gateway Gateway
	hooks   Hooks
	clock   clock.WithTicker
	log     zerolog.Logger

	finalDelay    time.Duration
	submitTimeout time.Duration

	mu         sync.Mutex
	status     model.SessionStatus
	reason     model.CompletionReason
	startedAt  time.Time
	finishedAt time.Time
	answers    *AnswerStore
	nav        *Navigator
	countdown  *Countdown
	integrity  *IntegrityMonitor
	result     *model.Result
	submission model.BackendStatus

	stop     chan struct{}
	stopOnce sync.Once
	submits  sync.WaitGroup
}

// New prepares a session over a normalized paper. Call Start to run it.
func New(paper *model.Paper, owner Owner, gateway Gateway, hooks Hooks, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.FinalDelay <= 0 {
		opts.FinalDelay = DefaultFinalDelay
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}

	id := uuid.New()
	return &Session{
		id:      id,
		owner:   owner,
		paper:   paper,
		gateway: gateway,
		hooks:   hooks,
		clock:   opts.Clock,
		log: opts.Logger.With().
			Str("session_id", id.String()).
			Str("exam_id", paper.ExamID).
			Str("user_id", owner.UserID).
			Logger(),
		finalDelay:    opts.FinalDelay,
		submitTimeout: opts.SubmitTimeout,
		status:        model.SessionStatusActive,
		answers:       NewAnswerStore(),
		nav:           NewNavigator(len(paper.Items)),
		countdown:     NewCountdown(paper.DurationMinutes),
		integrity:     NewIntegrityMonitor(opts.MaxExits),
		stop:          make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) UserID() string {
	return s.owner.UserID
}

func (s *Session) ExamID() string {
	return s.paper.ExamID
}

func (s *Session) Paper() *model.Paper {
	return s.paper
}

func (s *Session) Done() <-chan struct{} {
	return s.stop
}

// Start begins the countdown and asks the client to enter fullscreen.
func (s *Session) Start() {
	s.mu.Lock()
	s.startedAt = s.clock.Now()
	running := s.countdown.Running()
	s.mu.Unlock()

	if running {
		ticker := s.clock.NewTicker(time.Second)
		go s.run(ticker)
	}

	s.emit(Event{Type: EventFullscreenRequest})
	s.log.Info().Int("questions", len(s.paper.Items)).Int("duration_min", s.paper.DurationMinutes).Msg("Session started")
}

func (s *Session) run(ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return
	}
	remaining, expired := s.countdown.Tick()
	s.mu.Unlock()

	s.emit(Event{Type: EventTick, Data: TickData{RemainingSeconds: remaining, Clock: FormatClock(remaining)}})
	if expired {
		s.complete(model.CompletionTimeExpired)
	}
}

// Answer parses and records a response for questionID. A null value clears it.
func (s *Session) Answer(questionID string, raw json.RawMessage) (model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusActive {
		return model.Response{}, ErrSessionClosed
	}
	item, ok := s.paper.Item(questionID)
	if !ok {
		return model.Response{}, ErrUnknownQuestion
	}
	resp, err := grading.ParseResponse(item, raw)
	if err != nil {
		return model.Response{}, err
	}
	s.answers.Set(questionID, resp)
	return resp, nil
}

// ClearAnswer marks the question unattempted again.
func (s *Session) ClearAnswer(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusActive {
		return ErrSessionClosed
	}
	if _, ok := s.paper.Item(questionID); !ok {
		return ErrUnknownQuestion
	}
	s.answers.Clear(questionID)
	return nil
}

func (s *Session) Next() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionStatusActive {
		return s.nav.Index(), ErrSessionClosed
	}
	return s.nav.Next(), nil
}

func (s *Session) Previous() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionStatusActive {
		return s.nav.Index(), ErrSessionClosed
	}
	return s.nav.Previous(), nil
}

func (s *Session) Jump(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionStatusActive {
		return ErrSessionClosed
	}
	return s.nav.Jump(index)
}

func (s *Session) ToggleFlag(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionStatusActive {
		return false, ErrSessionClosed
	}
	return s.nav.ToggleFlag(index)
}

// ReportFullscreen feeds a fullscreen change from the client into the
// integrity monitor. The final exit schedules an auto-submit after the
// configured delay; that timer is never cancelled, the latch in complete
// turns a late firing into a no-op.
func (s *Session) ReportFullscreen(active bool) model.IntegritySnapshot {
	s.mu.Lock()
	if s.status != model.SessionStatusActive {
		snap := s.integrity.Snapshot()
		s.mu.Unlock()
		return snap
	}

	if active {
		restored := s.integrity.Reenter()
		snap := s.integrity.Snapshot()
		s.mu.Unlock()
		if restored {
			s.emit(Event{Type: EventIntegrityRestored, Data: snap})
		}
		return snap
	}

	outcome := s.integrity.ReportExit()
	snap := s.integrity.Snapshot()
	var final clock.Timer
	if outcome == ExitFinal {
		final = s.clock.NewTimer(s.finalDelay)
	}
	s.mu.Unlock()

	switch outcome {
	case ExitWarning:
		s.log.Warn().Int("exits", snap.ExitAttempts).Int("max", snap.MaxAttempts).Msg("Fullscreen exited")
		s.emit(Event{Type: EventIntegrityWarning, Data: snap})
		s.emit(Event{Type: EventFullscreenRequest})
	case ExitFinal:
		s.log.Warn().Int("exits", snap.ExitAttempts).Msg("Fullscreen exit limit reached, auto-submitting")
		s.emit(Event{Type: EventIntegrityWarning, Data: snap})
		go func() {
			<-final.C()
			s.complete(model.CompletionIntegrityViolation)
		}()
	}
	return snap
}

// RequestFullscreen asks the client to re-enter fullscreen. The monitor only
// changes state once the client reports the change.
func (s *Session) RequestFullscreen() {
	s.emit(Event{Type: EventFullscreenRequest})
}

// Submit ends the session by the examinee's choice. Submitting an already
// submitted session returns the stored result.
func (s *Session) Submit() (model.Result, error) {
	res, _, err := s.complete(model.CompletionManual)
	return res, err
}

// Exit abandons the session without scoring or submitting.
func (s *Session) Exit() error {
	s.mu.Lock()
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.status = model.SessionStatusAbandoned
	s.finishedAt = s.clock.Now()
	s.mu.Unlock()

	s.halt()
	s.log.Info().Msg("Session abandoned")

	if s.hooks.OnExit != nil {
		s.hooks.OnExit()
	}
	s.emit(Event{Type: EventExited})
	return nil
}

// complete is the single transition into SUBMITTED. Only the first caller
// scores and submits; later callers get the stored result and fired=false.
func (s *Session) complete(reason model.CompletionReason) (res model.Result, fired bool, err error) {
	s.mu.Lock()
	switch s.status {
	case model.SessionStatusSubmitted:
		res = *s.result
		s.mu.Unlock()
		return res, false, nil
	case model.SessionStatusAbandoned:
		s.mu.Unlock()
		return model.Result{}, false, ErrSessionClosed
	}

	s.status = model.SessionStatusSubmitted
	s.reason = reason
	s.finishedAt = s.clock.Now()
	s.integrity.MarkSubmitted()

	answers := s.answers.Snapshot()
	elapsed := s.countdown.Elapsed()
	if !s.countdown.Running() {
		elapsed = int(s.finishedAt.Sub(s.startedAt) / time.Second)
	}
	res = grading.Score(s.paper, answers, elapsed)
	s.result = &res
	if s.gateway != nil {
		s.submission = model.BackendPending
	}
	submittedAt := s.finishedAt
	s.mu.Unlock()

	s.halt()
	s.log.Info().
		Str("reason", string(reason)).
		Float64("obtained", res.ObtainedMarks).
		Float64("total", res.TotalMarks).
		Msg("Session completed")

	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(res, reason)
	}
	s.emit(Event{Type: EventCompleted, Data: CompletedData{Reason: reason, Result: res}})

	s.submit(model.Submission{
		SessionID:   s.id.String(),
		UserID:      s.owner.UserID,
		Reason:      reason,
		SubmittedAt: submittedAt,
		Result:      res,
		Questions:   s.paper.ForStudent().Questions,
		AuthToken:   s.owner.Token,
	})
	return res, true, nil
}

func (s *Session) submit(sub model.Submission) {
	if s.gateway == nil {
		return
	}

	s.submits.Add(1)
	go func() {
		defer s.submits.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
		defer cancel()

		if err := s.gateway.Submit(ctx, sub); err != nil {
			s.settle(model.BackendFailed)
			s.log.Error().Err(err).Msg("Result submission failed")
			if s.hooks.OnSubmitFailed != nil {
				s.hooks.OnSubmitFailed(err)
			}
			s.emit(Event{Type: EventSubmitWarning, Data: SubmitWarningData{
				Message: SubmitWarningMessage,
			}})
			return
		}

		s.settle(model.BackendSaved)
		s.log.Info().Msg("Result submitted")
		if s.hooks.OnSubmitted != nil {
			s.hooks.OnSubmitted()
		}
		s.emit(Event{Type: EventSubmitSaved})
	}()
}

func (s *Session) settle(status model.BackendStatus) {
	s.mu.Lock()
	s.submission = status
	s.mu.Unlock()
}

// Wait blocks until any in-flight submission has finished.
func (s *Session) Wait() {
	s.submits.Wait()
}

func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) emit(ev Event) {
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(ev)
	}
}

// Status returns the lifecycle status and, once finished, when it ended.
func (s *Session) Status() (model.SessionStatus, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.finishedAt
}

// Result returns the stored result once the session is submitted.
func (s *Session) Result() (model.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return model.Result{}, false
	}
	return *s.result, true
}

// State returns a snapshot for the client.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.countdown.Remaining()
	st := model.SessionState{
		SessionID:        s.id,
		ExamID:           s.paper.ExamID,
		UserID:           s.owner.UserID,
		Status:           s.status,
		Reason:           s.reason,
		StartedAt:        s.startedAt,
		CurrentIndex:     s.nav.Index(),
		QuestionCount:    s.nav.Count(),
		Progress:         s.nav.Progress(),
		Flagged:          s.nav.Flagged(),
		Answers:          s.answers.Snapshot(),
		RemainingSeconds: remaining,
		Clock:            FormatClock(remaining),
		Integrity:        s.integrity.Snapshot(),
	}
	if s.result != nil {
		res := *s.result
		st.Result = &res
	}
	st.Submission = s.submission
	if s.submission == model.BackendFailed {
		st.SubmitWarning = SubmitWarningMessage
	}
	return st
}
