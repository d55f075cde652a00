// Package copilot provides a thin Go client for the HealthCost Copilot REST
// API.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the delay between job status checks in WaitForJob.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the HTTP interactions with the HealthCost Copilot REST API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// ChatRequest is the payload for a synchronous question.
type ChatRequest struct {
	Query          string `json:"query"`
	ClientID       string `json:"client_id,omitempty"`
	ContractID     string `json:"contract_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Source points at the contract passage backing part of an answer.
type Source struct {
	DocumentID    string  `json:"document_id"`
	Page          int     `json:"page_number"`
	SectionTitle  string  `json:"section_title"`
	SectionNumber string  `json:"section_number"`
	Score         float64 `json:"score"`
}

// Answer is the consolidated orchestration output.
type Answer struct {
	ExecutionID string   `json:"execution_id"`
	Response    string   `json:"response"`
	Intent      string   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	Mode        string   `json:"mode"`
	Executors   []string `json:"executors"`
	Sources     []Source `json:"sources,omitempty"`
	TokensUsed  int      `json:"tokens_used"`
}

// ChatResponse carries the answer and the conversation it belongs to.
type ChatResponse struct {
	ConversationID string  `json:"conversation_id"`
	Answer         *Answer `json:"answer"`
}

// JobSubmission is the payload for an asynchronous question.
type JobSubmission struct {
	ID             string            `json:"id,omitempty"`
	Query          string            `json:"query"`
	ClientID       string            `json:"client_id,omitempty"`
	ContractID     string            `json:"contract_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// JobResult is the outcome persisted for a finished job.
type JobResult struct {
	Response   string   `json:"response"`
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Executors  []string `json:"executors,omitempty"`
	Sources    []Source `json:"sources,omitempty"`
	TokensUsed int      `json:"tokens_used"`
	LatencyMS  int64    `json:"latency_ms"`
}

// Job mirrors the server side job record.
type Job struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	ClientID       string     `json:"client_id"`
	Query          string     `json:"query"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxRetries     int        `json:"max_retries"`
	LastError      string     `json:"last_error,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	Result         *JobResult `json:"result,omitempty"`
	CreatedAt      int64      `json:"created_at"`
	UpdatedAt      int64      `json:"updated_at"`
}

// JobStats aggregates job counters.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("copilot api error (%d): %s", e.StatusCode, e.Message)
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAPIKey sets the key sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient instantiates a client for the HealthCost Copilot API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Chat submits a question and waits for the synchronous answer.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// SubmitJob enqueues a question for asynchronous processing.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var created Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &created); err != nil {
		return Job{}, err
	}
	return created, nil
}

// GetJob fetches job details by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var detail Job
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &detail); err != nil {
		return Job{}, err
	}
	return detail, nil
}

// JobStats fetches the aggregate job counters.
func (c *Client) JobStats(ctx context.Context) (JobStats, error) {
	var stats JobStats
	if err := c.get(ctx, "/api/v1/jobs/stats", &stats); err != nil {
		return JobStats{}, err
	}
	return stats, nil
}

// WaitForJob polls the job until it reaches a terminal status or the context
// is cancelled. A non-positive interval falls back to DefaultPollInterval.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
