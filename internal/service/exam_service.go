package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// Domain Errors
var (
	ErrExamNotFound       = errors.New("failed to load exam")
	ErrNoQuestions        = errors.New("no questions available for this exam")
	ErrBackendUnavailable = errors.New("exam backend unavailable")
)

// ExamFetcher loads an exam definition on behalf of an examinee.
type ExamFetcher interface {
	GetExam(ctx context.Context, examID, token string) (*model.Exam, error)
}

// ExamService loads exams from the backend, caches the raw definition in
// Redis and hands out normalized papers.
type ExamService struct {
	fetcher ExamFetcher
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

// NewExamService creates an ExamService. A nil rdb disables caching.
func NewExamService(fetcher ExamFetcher, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		fetcher: fetcher,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "exam_service").Logger(),
	}
}

// Load returns the normalized paper for examID. The cached definition is
// shared across examinees, but a user only reads it after the backend has
// accepted that user's token for this exam at least once within the cache TTL.
// Questions whose correct answer cannot be resolved are kept and logged; they
// simply never score.
func (s *ExamService) Load(ctx context.Context, examID, userID, token string) (*model.Paper, error) {
	var (
		exam   *model.Exam
		cached bool
	)
	if s.eligible(ctx, examID, userID) {
		exam, cached = s.fromCache(ctx, examID)
	}
	if exam == nil {
		fetched, err := s.fetcher.GetExam(ctx, examID, token)
		if err != nil {
			if errors.Is(err, backend.ErrUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrExamNotFound, err)
		}
		exam = fetched
	}

	if fields := validator.Struct(exam); fields != nil {
		s.log.Warn().Str("exam_id", examID).Interface("fields", fields).Msg("Exam definition rejected")
		return nil, fmt.Errorf("%w: invalid definition", ErrExamNotFound)
	}

	paper, err := grading.Normalize(exam)
	if err != nil {
		if errors.Is(err, grading.ErrNoQuestions) {
			return nil, ErrNoQuestions
		}
		return nil, fmt.Errorf("normalize exam: %w", err)
	}

	for _, it := range paper.Items {
		if it.Issue != "" {
			s.log.Warn().Str("exam_id", examID).Str("q_id", it.ID).Str("issue", it.Issue).Msg("Question will never score")
		}
	}

	if !cached {
		s.toCache(ctx, exam)
		s.markEligible(ctx, examID, userID)
	}
	return paper, nil
}

// Invalidate drops the cached definition and every eligibility marker so the
// next load of each examinee goes back to the backend.
func (s *ExamService) Invalidate(ctx context.Context, examID string) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(examID)).Err(); err != nil {
		return fmt.Errorf("invalidate exam cache: %w", err)
	}

	iter := s.rdb.Scan(ctx, 0, config.CacheKey.ExamEligiblePattern(examID), 200).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("invalidate exam eligibility: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan exam eligibility: %w", err)
	}
	return nil
}

func (s *ExamService) eligible(ctx context.Context, examID, userID string) bool {
	if s.rdb == nil || userID == "" {
		return false
	}
	n, err := s.rdb.Exists(ctx, config.CacheKey.ExamEligibleKey(examID, userID)).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Eligibility marker read failed")
		return false
	}
	return n == 1
}

func (s *ExamService) markEligible(ctx context.Context, examID, userID string) {
	if s.rdb == nil || s.ttl <= 0 || userID == "" {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamEligibleKey(examID, userID), 1, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Eligibility marker write failed")
	}
}

func (s *ExamService) fromCache(ctx context.Context, examID string) (*model.Exam, bool) {
	if s.rdb == nil {
		return nil, false
	}

	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("Exam cache read failed")
		}
		return nil, false
	}

	var exam model.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Discarding corrupt cached exam")
		return nil, false
	}
	return &exam, true
}

func (s *ExamService) toCache(ctx context.Context, exam *model.Exam) {
	if s.rdb == nil || s.ttl <= 0 {
		return
	}

	data, err := json.Marshal(exam)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID), data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID).Msg("Exam cache write failed")
		return
	}
	s.log.Debug().Str("exam_id", exam.ID).Int("questions", len(exam.Questions)).Msg("Exam cached")
}
