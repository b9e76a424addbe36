// Package backend talks to the exam backend that owns exam definitions and
// stores final results.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrExamNotFound = errors.New("exam not found")
	ErrUnavailable  = errors.New("backend unavailable")
)

const maxBodyBytes = 8 << 20

// Client is the HTTP client for the exam backend. Requests carry the
// examinee's bearer token; the proctor holds no credentials of its own.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "backend_client").Logger(),
	}
}

// envelope is the backend's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// GetExam fetches an exam definition. success=false, 404 and an empty data
// field all mean the exam cannot be taken.
func (c *Client) GetExam(ctx context.Context, examID, token string) (*model.Exam, error) {
	if examID == "" || examID == "." || examID == ".." {
		return nil, ErrExamNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/student/exams/"+url.PathEscape(examID), nil)
	if err != nil {
		return nil, fmt.Errorf("build exam request: %w", err)
	}
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrExamNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode exam envelope: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		c.log.Warn().Int("status", resp.StatusCode).Str("exam_id", examID).Str("message", env.Message).Msg("Exam fetch rejected")
		return nil, fmt.Errorf("%w: %s", ErrExamNotFound, env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, ErrExamNotFound
	}

	var exam model.Exam
	if err := json.Unmarshal(env.Data, &exam); err != nil {
		return nil, fmt.Errorf("decode exam: %w", err)
	}
	return &exam, nil
}

// resultPayload is the flat result body with the questions the examinee saw.
type resultPayload struct {
	model.Result
	Questions []model.QuestionForStudent `json:"questions,omitempty"`
}

// Submit posts a result once. Any transport error or non-2xx status is a
// failure; there is no retry.
func (c *Client) Submit(ctx context.Context, sub model.Submission) error {
	payload, err := json.Marshal(resultPayload{Result: sub.Result, Questions: sub.Questions})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/student/exam-results", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build result request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, sub.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post result: status %d", resp.StatusCode)
	}
	return nil
}

func setAuth(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
