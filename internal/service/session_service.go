package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOwner        = errors.New("session belongs to another user")
)

const (
	subscriberBuffer = 64
	janitorInterval  = time.Minute
	redisOpTimeout   = 2 * time.Second
)

// Monitor event types published on the exam monitor channel.
const (
	MonitorJoined           = "joined"
	MonitorProgress         = "progress"
	MonitorIntegrityWarning = "integrity_warning"
	MonitorCompleted        = "completed"
	MonitorExited           = "exited"
	MonitorSubmitSaved      = "submit_saved"
	MonitorSubmitFailed     = "submit_failed"
)

// MonitorEvent is one proctor-facing notification.
type MonitorEvent struct {
	Type          string                 `json:"type"`
	SessionID     string                 `json:"session_id"`
	UserID        string                 `json:"user_id"`
	AnsweredCount *int                   `json:"answered_count,omitempty"`
	ExitAttempts  *int                   `json:"exit_attempts,omitempty"`
	Reason        model.CompletionReason `json:"reason,omitempty"`
	ObtainedMarks *float64               `json:"obtained_marks,omitempty"`
	TotalMarks    *float64               `json:"total_marks,omitempty"`
	Timestamp     int64                  `json:"timestamp"`
}

// SessionSettings are the tunables applied to every new session.
type SessionSettings struct {
	MaxExits      int
	FinalDelay    time.Duration
	SubmitTimeout time.Duration
	Retention     time.Duration
}

// SessionService owns every running session on this instance. A nil rdb
// turns off the monitor channel and the persistence queues.
type SessionService struct {
	exams    *ExamService
	gateway  session.Gateway
	rdb      *redis.Client
	clock    clock.WithTicker
	settings SessionSettings
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
	active   map[string]uuid.UUID
}

type entry struct {
	sess *session.Session
	hub  *eventHub
}

// NewSessionService creates a SessionService.
func NewSessionService(
	exams *ExamService,
	gateway session.Gateway,
	rdb *redis.Client,
	clk clock.WithTicker,
	settings SessionSettings,
	log zerolog.Logger,
) *SessionService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SessionService{
		exams:    exams,
		gateway:  gateway,
		rdb:      rdb,
		clock:    clk,
		settings: settings,
		log:      log.With().Str("component", "session_service").Logger(),
		sessions: make(map[uuid.UUID]*entry),
		active:   make(map[string]uuid.UUID),
	}
}

func activeKey(examID, userID string) string {
	return examID + "\x00" + userID
}

// Start loads the exam and begins a new session for the user. A session the
// user already runs for the same exam is abandoned first.
func (s *SessionService) Start(ctx context.Context, examID, userID, token string) (*session.Session, error) {
	paper, err := s.exams.Load(ctx, examID, userID, token)
	if err != nil {
		return nil, err
	}

	s.abandonPrevious(examID, userID)

	ent := &entry{hub: newEventHub()}
	ent.sess = session.New(paper, session.Owner{UserID: userID, Token: token}, s.gateway, s.hooks(ent), session.Options{
		MaxExits:      s.settings.MaxExits,
		FinalDelay:    s.settings.FinalDelay,
		SubmitTimeout: s.settings.SubmitTimeout,
		Clock:         s.clock,
		Logger:        s.log,
	})

	s.mu.Lock()
	s.sessions[ent.sess.ID()] = ent
	s.active[activeKey(examID, userID)] = ent.sess.ID()
	s.mu.Unlock()

	ent.sess.Start()
	s.markActive(ctx, ent.sess, paper.DurationMinutes)
	s.publishMonitor(ent.sess, MonitorEvent{Type: MonitorJoined})
	return ent.sess, nil
}

func (s *SessionService) abandonPrevious(examID, userID string) {
	s.mu.RLock()
	prevID, ok := s.active[activeKey(examID, userID)]
	var prev *entry
	if ok {
		prev = s.sessions[prevID]
	}
	s.mu.RUnlock()

	if prev == nil {
		return
	}
	if err := prev.sess.Exit(); err == nil {
		s.log.Info().Str("session_id", prevID.String()).Str("user_id", userID).Msg("Previous session abandoned by restart")
	}
}

// Get returns a session owned by userID.
func (s *SessionService) Get(sessionID uuid.UUID, userID string) (*session.Session, error) {
	s.mu.RLock()
	ent, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if ent.sess.UserID() != userID {
		return nil, ErrNotOwner
	}
	return ent.sess, nil
}

// Answer records a response and journals it.
func (s *SessionService) Answer(sess *session.Session, questionID string, raw json.RawMessage) (model.Response, error) {
	resp, err := sess.Answer(questionID, raw)
	if err != nil {
		return model.Response{}, err
	}
	s.journalAnswer(sess, questionID, resp)
	return resp, nil
}

// Clear removes a response and journals the removal.
func (s *SessionService) Clear(sess *session.Session, questionID string) error {
	if err := sess.ClearAnswer(questionID); err != nil {
		return err
	}
	s.journalAnswer(sess, questionID, model.Response{})
	return nil
}

func (s *SessionService) journalAnswer(sess *session.Session, questionID string, resp model.Response) {
	value := json.RawMessage("null")
	if !resp.Empty() {
		if b, err := json.Marshal(resp); err == nil {
			value = b
		}
	}

	s.enqueue(config.WorkerKey.PersistAnswersQueue, model.AnswerEvent{
		SessionID:  sess.ID().String(),
		ExamID:     sess.ExamID(),
		UserID:     sess.UserID(),
		QuestionID: questionID,
		Response:   value,
		Timestamp:  s.clock.Now().UnixMilli(),
	})

	answered := len(sess.State().Answers)
	s.publishMonitor(sess, MonitorEvent{Type: MonitorProgress, AnsweredCount: &answered})
}

// Subscribe streams a session's events. The channel is closed when the
// session is evicted or cancel is called.
func (s *SessionService) Subscribe(sessionID uuid.UUID) (<-chan session.Event, func(), error) {
	s.mu.RLock()
	ent, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	ch, cancel := ent.hub.subscribe()
	return ch, cancel, nil
}

// ListByExam returns the state of every session held for an exam, oldest
// first.
func (s *SessionService) ListByExam(examID string) []model.SessionState {
	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, ent := range s.sessions {
		if ent.sess.ExamID() == examID {
			sessions = append(sessions, ent.sess)
		}
	}
	s.mu.RUnlock()

	states := make([]model.SessionState, 0, len(sessions))
	for _, sess := range sessions {
		states = append(states, sess.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states
}

// Counts returns how many sessions are held and how many of them are active.
func (s *SessionService) Counts() (held, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ent := range s.sessions {
		held++
		if status, _ := ent.sess.Status(); status == model.SessionStatusActive {
			active++
		}
	}
	return held, active
}

// Run evicts finished sessions past the retention window until ctx ends.
func (s *SessionService) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(janitorInterval)
	defer ticker.Stop()

	s.log.Info().Dur("retention", s.settings.Retention).Msg("Session janitor started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Session janitor stopped")
			return
		case <-ticker.C():
			if n := s.sweep(); n > 0 {
				s.log.Debug().Int("evicted", n).Msg("Finished sessions evicted")
			}
		}
	}
}

func (s *SessionService) sweep() int {
	cutoff := s.clock.Now().Add(-s.settings.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, ent := range s.sessions {
		status, finishedAt := ent.sess.Status()
		if status == model.SessionStatusActive || finishedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		key := activeKey(ent.sess.ExamID(), ent.sess.UserID())
		if s.active[key] == id {
			delete(s.active, key)
		}
		ent.hub.close()
		evicted++
	}
	return evicted
}

// Shutdown waits for every in-flight result submission or until ctx ends.
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, ent := range s.sessions {
		sessions = append(sessions, ent.sess)
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, sess := range sessions {
			sess.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for submissions: %w", ctx.Err())
	}
}

// ─── Hooks ──────────────────────────────────────────────────────────

func (s *SessionService) hooks(ent *entry) session.Hooks {
	return session.Hooks{
		OnEvent: func(ev session.Event) {
			ent.hub.publish(ev)
			s.auditEvent(ent.sess, ev)
		},
		OnComplete: func(res model.Result, reason model.CompletionReason) {
			s.recordResult(ent.sess, res, reason, model.BackendPending)
			s.clearActive(ent.sess)
			s.publishMonitor(ent.sess, MonitorEvent{
				Type:          MonitorCompleted,
				Reason:        reason,
				ObtainedMarks: &res.ObtainedMarks,
				TotalMarks:    &res.TotalMarks,
			})
		},
		OnSubmitted: func() {
			s.settleResult(ent.sess, model.BackendSaved)
			s.publishMonitor(ent.sess, MonitorEvent{Type: MonitorSubmitSaved})
		},
		OnSubmitFailed: func(error) {
			s.settleResult(ent.sess, model.BackendFailed)
			s.publishMonitor(ent.sess, MonitorEvent{Type: MonitorSubmitFailed})
		},
		OnExit: func() {
			s.clearActive(ent.sess)
			s.publishMonitor(ent.sess, MonitorEvent{Type: MonitorExited})
		},
	}
}

func (s *SessionService) auditEvent(sess *session.Session, ev session.Event) {
	snap, ok := ev.Data.(model.IntegritySnapshot)
	if !ok {
		return
	}

	var kind model.IntegrityEventKind
	switch ev.Type {
	case session.EventIntegrityWarning:
		kind = model.IntegrityEventExit
		if snap.State == model.IntegrityExitedFinal {
			kind = model.IntegrityEventFinal
		}
		exits := snap.ExitAttempts
		s.publishMonitor(sess, MonitorEvent{Type: MonitorIntegrityWarning, ExitAttempts: &exits})
	case session.EventIntegrityRestored:
		kind = model.IntegrityEventReenter
	default:
		return
	}

	s.enqueue(config.WorkerKey.PersistIntegrityQueue, model.IntegrityEvent{
		SessionID:    sess.ID().String(),
		ExamID:       sess.ExamID(),
		UserID:       sess.UserID(),
		Kind:         kind,
		ExitAttempts: snap.ExitAttempts,
		Timestamp:    s.clock.Now().UnixMilli(),
	})
}

func (s *SessionService) settleResult(sess *session.Session, status model.BackendStatus) {
	res, ok := sess.Result()
	if !ok {
		return
	}
	s.recordResult(sess, res, sess.State().Reason, status)
}

func (s *SessionService) recordResult(sess *session.Session, res model.Result, reason model.CompletionReason, status model.BackendStatus) {
	st := sess.State()
	_, finishedAt := sess.Status()
	s.enqueue(config.WorkerKey.PersistResultsQueue, model.ResultRecord{
		SessionID:     sess.ID().String(),
		ExamID:        sess.ExamID(),
		UserID:        sess.UserID(),
		Reason:        reason,
		BackendStatus: status,
		ExitAttempts:  st.Integrity.ExitAttempts,
		SubmittedAt:   finishedAt,
		Result:        res,
	})
}

// ─── Redis plumbing ─────────────────────────────────────────────────

func (s *SessionService) enqueue(queue string, v any) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("queue", queue).Msg("Marshal queue payload failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		s.log.Error().Err(err).Str("queue", queue).Msg("Enqueue failed")
	}
}

func (s *SessionService) publishMonitor(sess *session.Session, ev MonitorEvent) {
	if s.rdb == nil {
		return
	}
	ev.SessionID = sess.ID().String()
	ev.UserID = sess.UserID()
	ev.Timestamp = s.clock.Now().UnixMilli()

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(sess.ExamID()), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Msg("Monitor publish failed")
	}
}

func (s *SessionService) markActive(ctx context.Context, sess *session.Session, durationMinutes int) {
	if s.rdb == nil {
		return
	}
	ttl := time.Duration(durationMinutes)*time.Minute + s.settings.Retention
	if ttl <= 0 {
		ttl = janitorInterval
	}
	key := config.CacheKey.StudentActiveSessionKey(sess.ExamID(), sess.UserID())
	if err := s.rdb.Set(ctx, key, sess.ID().String(), ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Active session marker not written")
	}
}

func (s *SessionService) clearActive(sess *session.Session) {
	if s.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	s.rdb.Del(ctx, config.CacheKey.StudentActiveSessionKey(sess.ExamID(), sess.UserID()))
}

// ─── Event hub ──────────────────────────────────────────────────────

// eventHub fans a session's events out to its connected clients. A slow
// subscriber loses events rather than stalling the session, except that a
// terminal event displaces the oldest buffered one.
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan session.Event]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan session.Event]struct{})}
}

func (h *eventHub) subscribe() (<-chan session.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan session.Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *eventHub) publish(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !terminalEvent(ev.Type) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func terminalEvent(t session.EventType) bool {
	switch t {
	case session.EventCompleted, session.EventSubmitSaved, session.EventSubmitWarning, session.EventExited:
		return true
	}
	return false
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
