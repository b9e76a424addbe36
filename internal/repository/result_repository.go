package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var ErrResultNotFound = errors.New("result not found")

// ResultRepository reads results persisted by the result worker.
type ResultRepository struct {
	pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `
	session_id, exam_id, user_id, reason, backend_status,
	total_questions, correct_answers, wrong_answers, unattempted,
	total_marks, obtained_marks, percentage, time_taken, exit_attempts,
	subject_scores, submitted_at
`

// ListByExam returns one page of results for an exam, newest first, plus the
// total row count for the filter.
func (r *ResultRepository) ListByExam(ctx context.Context, examID string, q model.ResultListQuery) ([]model.StoredResult, int64, error) {
	baseQuery := ` FROM exam_results WHERE exam_id = $1`
	args := []any{examID}

	if q.Reason != "" {
		args = append(args, q.Reason)
		baseQuery += fmt.Sprintf(" AND reason = $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	offset := (q.Page - 1) * q.PerPage
	query := "SELECT " + resultColumns + baseQuery +
		fmt.Sprintf(" ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, q.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]model.StoredResult, 0, q.PerPage)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}

// GetBySession returns the stored result of one session.
func (r *ResultRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.StoredResult, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+resultColumns+" FROM exam_results WHERE session_id = $1", sessionID)
	res, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func scanResult(row pgx.Row) (model.StoredResult, error) {
	var (
		res      model.StoredResult
		reason   string
		status   string
		subjects []byte
	)
	err := row.Scan(
		&res.SessionID, &res.ExamID, &res.UserID, &reason, &status,
		&res.TotalQuestions, &res.CorrectAnswers, &res.WrongAnswers, &res.Unattempted,
		&res.TotalMarks, &res.ObtainedMarks, &res.Percentage, &res.TimeTaken, &res.ExitAttempts,
		&subjects, &res.SubmittedAt,
	)
	if err != nil {
		return res, err
	}

	res.Reason = model.CompletionReason(reason)
	res.BackendStatus = model.BackendStatus(status)
	if len(subjects) > 0 {
		if err := json.Unmarshal(subjects, &res.SubjectWiseScore); err != nil {
			return res, fmt.Errorf("decode subject scores: %w", err)
		}
	}
	return res, nil
}
