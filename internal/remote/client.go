// Package remote is the HTTP/JSON client for the remote quiz service that
// owns attempt grading. Calls carry no client-side timeout; a hung call
// leaves its outbox entry pending until the next flush.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"quiz-attempt-engine/internal/domain"
)

// StatusError reports a non-2xx response from the remote service.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote %s returned status %d", e.Path, e.Status)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// StartAttempt begins a fresh attempt for a predefined quiz. A new attemptId
// is issued on every call, including resumed starts.
func (c *Client) StartAttempt(ctx context.Context, quizID string) (domain.AttemptStart, error) {
	var out domain.AttemptStart
	err := c.post(ctx, "/attempts", map[string]any{"quizId": quizID}, &out)
	return out, err
}

// StartQuickAttempt begins an attempt assembled from quick-quiz parameters.
func (c *Client) StartQuickAttempt(ctx context.Context, params domain.QuickQuizParams) (domain.AttemptStart, error) {
	var out domain.AttemptStart
	err := c.post(ctx, "/attempts/quick", params, &out)
	return out, err
}

// SubmitAnswer records a selection. The remote treats repeated submissions
// for the same (attemptId, questionId) as overwrites.
func (c *Client) SubmitAnswer(ctx context.Context, attemptID, questionID string, selectedIndex int, selectedIndexes []int) error {
	body := map[string]any{
		"questionId":    questionID,
		"selectedIndex": selectedIndex,
	}
	if selectedIndexes != nil {
		body["selectedIndexes"] = selectedIndexes
	}
	return c.post(ctx, "/attempts/"+url.PathEscape(attemptID)+"/answers", body, nil)
}

// CompleteAttempt finalizes the attempt and returns the graded result.
func (c *Client) CompleteAttempt(ctx context.Context, attemptID string, timeSpentSeconds int) (domain.AttemptResult, error) {
	var out domain.AttemptResult
	err := c.post(ctx, "/attempts/"+url.PathEscape(attemptID)+"/complete", map[string]any{
		"timeSpentSeconds": timeSpentSeconds,
	}, &out)
	return out, err
}

// GetQuiz fetches metadata used to preview a quiz before starting.
func (c *Client) GetQuiz(ctx context.Context, quizID string) (domain.QuizInfo, error) {
	var out domain.QuizInfo
	err := c.get(ctx, "/quizzes/"+url.PathEscape(quizID), nil, &out)
	return out, err
}

// ListQuizzes fetches the quiz listing for a filter combination.
func (c *Client) ListQuizzes(ctx context.Context, filter domain.ListingFilter) ([]domain.QuizInfo, error) {
	query := url.Values{}
	if filter.Grade != "" {
		query.Set("grade", filter.Grade)
	}
	if filter.Medium != "" {
		query.Set("medium", filter.Medium)
	}
	if filter.Subject != "" {
		query.Set("subject", filter.Subject)
	}
	if filter.Type != "" {
		query.Set("type", filter.Type)
	}
	var out []domain.QuizInfo
	err := c.get(ctx, "/quizzes", query, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Path: path}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
