package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/eleven-am/interview-realtime/internal/transport"
	"github.com/go-resty/resty/v2"
)

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

type PlanRequest struct {
	CandidateName  string `json:"candidate_name,omitempty"`
	Role           string `json:"role"`
	JobDescription string `json:"job_description,omitempty"`
	Resume         string `json:"resume,omitempty"`
	Difficulty     string `json:"difficulty,omitempty"`
	QuestionCount  int    `json:"question_count,omitempty"`
	Voice          bool   `json:"voice"`
}

type Plan struct {
	InterviewID transport.ID `json:"interview_id"`
	Endpoint    string       `json:"websocket_url"`
}

type Feedback struct {
	InterviewID      transport.ID    `json:"interview_id"`
	Status           string          `json:"status"`
	DetailedFeedback json.RawMessage `json:"detailed_feedback,omitempty"`
}

// Error is a non-2xx response from the interview engine.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return shared.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return shared.ErrInvalidState
	default:
		return shared.ErrConnection
	}
}

type Client struct {
	http    *resty.Client
	baseURL string
	log     *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:    httpClient,
		baseURL: cfg.BaseURL,
		log:     log.With("component", "engine"),
	}
}

// PlanInterview asks the engine to prepare an interview and returns its id
// together with an absolute websocket endpoint.
func (c *Client) PlanInterview(ctx context.Context, req PlanRequest) (*Plan, error) {
	var plan Plan
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&plan).
		Post("/interviews/plan")
	if err := c.check("plan", resp, err); err != nil {
		return nil, err
	}

	if plan.InterviewID.IsZero() || plan.Endpoint == "" {
		return nil, fmt.Errorf("%w: plan response missing interview_id or websocket_url", shared.ErrProtocol)
	}

	endpoint, err := ResolveEndpoint(c.baseURL, plan.Endpoint)
	if err != nil {
		return nil, err
	}
	plan.Endpoint = endpoint

	c.log.Info("interview planned", "interview_id", plan.InterviewID.String(), "endpoint", endpoint)
	return &plan, nil
}

// StopInterview finalizes the interview on the engine and returns the
// feedback it produced.
func (c *Client) StopInterview(ctx context.Context, interviewID transport.ID) (*Feedback, error) {
	var feedback Feedback
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", interviewID.String()).
		SetResult(&feedback).
		Post("/interviews/{id}/stop")
	if err := c.check("stop", resp, err); err != nil {
		return nil, err
	}

	if feedback.InterviewID.IsZero() {
		feedback.InterviewID = interviewID
	}
	return &feedback, nil
}

// UploadRecording stores the raw answer audio as an interview artifact.
func (c *Client) UploadRecording(ctx context.Context, interviewID, questionID transport.ID, wav []byte) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", interviewID.String()).
		SetFormData(map[string]string{"question_id": questionID.String()}).
		SetFileReader("audio", "answer.wav", bytes.NewReader(wav)).
		Post("/interviews/{id}/recordings")
	return c.check("upload recording", resp, err)
}

// Ping reports whether the engine answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/health")
	if err == nil && resp.IsError() {
		return &Error{Op: "ping", StatusCode: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	if err != nil {
		return fmt.Errorf("%w: engine ping: %v", shared.ErrConnection, err)
	}
	return nil
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("engine %s: %w", op, err)
		}
		return fmt.Errorf("%w: engine %s: %v", shared.ErrConnection, op, err)
	}
	if resp.IsError() {
		c.log.Warn("engine request failed", "op", op, "status", resp.StatusCode())
		return &Error{Op: op, StatusCode: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

// ResolveEndpoint turns a possibly relative websocket URL from the engine
// into an absolute ws:// or wss:// URL based on the REST base URL.
func ResolveEndpoint(baseURL, endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid websocket_url %q", shared.ErrProtocol, endpoint)
	}

	if !ref.IsAbs() {
		base, err := url.Parse(baseURL)
		if err != nil || base.Host == "" {
			return "", fmt.Errorf("%w: cannot resolve %q without a base url", shared.ErrProtocol, endpoint)
		}
		ref = base.ResolveReference(ref)
	}

	switch ref.Scheme {
	case "http":
		ref.Scheme = "ws"
	case "https":
		ref.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported websocket scheme %q", shared.ErrProtocol, ref.Scheme)
	}
	return ref.String(), nil
}
