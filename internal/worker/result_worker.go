package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultWorker upserts completed results into exam_results. Each session is
// queued twice: once as pending at completion and once when the backend
// submission settles.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*model.ResultRecord, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 && (len(batch) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var rec model.ResultRecord
			if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, &rec)
		}
	}
}

// ----------------------------------------------------------------
// Batch upsert wrapper
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*model.ResultRecord) {
	if len(batch) == 0 {
		return
	}

	merged := mergeResults(batch)
	if err := w.bulkUpsert(ctx, merged); err != nil {
		w.log.Warn().Err(err).Int("count", len(merged)).Msg("Bulk result upsert failed, using fallback")

		for _, rec := range merged {
			if err := w.persistSingle(ctx, rec); err != nil {
				w.log.Error().Err(err).Str("session_id", rec.SessionID).Msg("persistSingle failed, requeueing")
				raw, _ := json.Marshal(rec)
				w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
			}
		}
	}
}

// mergeResults keeps one record per session. A settled status wins over
// pending, so a batch holding both writes the final state in one row.
func mergeResults(batch []*model.ResultRecord) []*model.ResultRecord {
	bySession := make(map[string]*model.ResultRecord, len(batch))
	order := make([]string, 0, len(batch))

	for _, rec := range batch {
		prev, ok := bySession[rec.SessionID]
		if !ok {
			bySession[rec.SessionID] = rec
			order = append(order, rec.SessionID)
			continue
		}
		if prev.BackendStatus == model.BackendPending || rec.BackendStatus != model.BackendPending {
			bySession[rec.SessionID] = rec
		}
	}

	out := make([]*model.ResultRecord, 0, len(order))
	for _, id := range order {
		out = append(out, bySession[id])
	}
	return out
}

const upsertConflict = `
	ON CONFLICT (session_id) DO UPDATE
	SET backend_status = CASE
	        WHEN EXCLUDED.backend_status = 'pending' THEN exam_results.backend_status
	        ELSE EXCLUDED.backend_status
	    END,
	    updated_at = NOW()
`

// ----------------------------------------------------------------
// BULK PostgreSQL UPSERT using UNNEST
// ----------------------------------------------------------------

func (w *ResultWorker) bulkUpsert(ctx context.Context, batch []*model.ResultRecord) error {
	n := len(batch)

	sessionIDs := make([]uuid.UUID, 0, n)
	examIDs := make([]string, 0, n)
	userIDs := make([]string, 0, n)
	reasons := make([]string, 0, n)
	statuses := make([]string, 0, n)
	totals := make([]int, 0, n)
	corrects := make([]int, 0, n)
	wrongs := make([]int, 0, n)
	unattempted := make([]int, 0, n)
	totalMarks := make([]float64, 0, n)
	obtained := make([]float64, 0, n)
	percentages := make([]float64, 0, n)
	timeTaken := make([]int, 0, n)
	exits := make([]int, 0, n)
	subjects := make([]string, 0, n)
	answers := make([]string, 0, n)
	submittedAt := make([]time.Time, 0, n)

	for _, rec := range batch {
		sid, err := uuid.Parse(rec.SessionID)
		if err != nil {
			return err
		}
		subjectJSON, err := json.Marshal(rec.Result.SubjectWiseScore)
		if err != nil {
			return err
		}
		answersJSON, err := json.Marshal(rec.Result.Answers)
		if err != nil {
			return err
		}

		sessionIDs = append(sessionIDs, sid)
		examIDs = append(examIDs, rec.ExamID)
		userIDs = append(userIDs, rec.UserID)
		reasons = append(reasons, string(rec.Reason))
		statuses = append(statuses, string(rec.BackendStatus))
		totals = append(totals, rec.Result.TotalQuestions)
		corrects = append(corrects, rec.Result.CorrectAnswers)
		wrongs = append(wrongs, rec.Result.WrongAnswers)
		unattempted = append(unattempted, rec.Result.Unattempted)
		totalMarks = append(totalMarks, rec.Result.TotalMarks)
		obtained = append(obtained, rec.Result.ObtainedMarks)
		percentages = append(percentages, rec.Result.Percentage)
		timeTaken = append(timeTaken, rec.Result.TimeTaken)
		exits = append(exits, rec.ExitAttempts)
		subjects = append(subjects, string(subjectJSON))
		answers = append(answers, string(answersJSON))
		submittedAt = append(submittedAt, rec.SubmittedAt)
	}

	query := `
		INSERT INTO exam_results (
			session_id, exam_id, user_id, reason, backend_status,
			total_questions, correct_answers, wrong_answers, unattempted,
			total_marks, obtained_marks, percentage, time_taken, exit_attempts,
			subject_scores, answers, submitted_at
		)
		SELECT
			u.session_id, u.exam_id, u.user_id, u.reason, u.backend_status,
			u.total_questions, u.correct_answers, u.wrong_answers, u.unattempted,
			u.total_marks, u.obtained_marks, u.percentage, u.time_taken, u.exit_attempts,
			u.subject_scores::jsonb, u.answers::jsonb, u.submitted_at
		FROM UNNEST(
			$1::uuid[], $2::text[], $3::text[], $4::text[], $5::text[],
			$6::int[], $7::int[], $8::int[], $9::int[],
			$10::float8[], $11::float8[], $12::float8[], $13::int[], $14::int[],
			$15::text[], $16::text[], $17::timestamptz[]
		) AS u (
			session_id, exam_id, user_id, reason, backend_status,
			total_questions, correct_answers, wrong_answers, unattempted,
			total_marks, obtained_marks, percentage, time_taken, exit_attempts,
			subject_scores, answers, submitted_at
		)
	` + upsertConflict

	_, err := w.pool.Exec(ctx, query,
		sessionIDs, examIDs, userIDs, reasons, statuses,
		totals, corrects, wrongs, unattempted,
		totalMarks, obtained, percentages, timeTaken, exits,
		subjects, answers, submittedAt,
	)
	return err
}

// ----------------------------------------------------------------
// FALLBACK single upsert
// ----------------------------------------------------------------

func (w *ResultWorker) persistSingle(ctx context.Context, rec *model.ResultRecord) error {
	sid, err := uuid.Parse(rec.SessionID)
	if err != nil {
		w.log.Error().Str("session_id", rec.SessionID).Msg("Dropping result with invalid session id")
		return nil
	}
	subjectJSON, _ := json.Marshal(rec.Result.SubjectWiseScore)
	answersJSON, _ := json.Marshal(rec.Result.Answers)

	_, err = w.pool.Exec(ctx, `
		INSERT INTO exam_results (
			session_id, exam_id, user_id, reason, backend_status,
			total_questions, correct_answers, wrong_answers, unattempted,
			total_marks, obtained_marks, percentage, time_taken, exit_attempts,
			subject_scores, answers, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16::jsonb, $17)
	`+upsertConflict,
		sid, rec.ExamID, rec.UserID, string(rec.Reason), string(rec.BackendStatus),
		rec.Result.TotalQuestions, rec.Result.CorrectAnswers, rec.Result.WrongAnswers, rec.Result.Unattempted,
		rec.Result.TotalMarks, rec.Result.ObtainedMarks, rec.Result.Percentage, rec.Result.TimeTaken, rec.ExitAttempts,
		string(subjectJSON), string(answersJSON), rec.SubmittedAt,
	)
	return err
}
