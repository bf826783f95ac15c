// Package httpengine implements the engine.Engine contract against the
// recommendation engine's JSON-over-HTTP API.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/engine"
)

// Client talks to the recommendation engine. Two HTTP clients carry the two
// timeout classes: evaluation-style calls are cheap and short, dispatch fans
// out across persona corpora and can run for minutes.
type Client struct {
	baseURL        string
	apiKey         string
	evalClient     *http.Client
	dispatchClient *http.Client
}

// New constructs a Client with per-operation-class timeouts.
func New(baseURL, apiKey string, evalTimeout, dispatchTimeout time.Duration) *Client {
	return &Client{
		baseURL:        baseURL,
		apiKey:         apiKey,
		evalClient:     &http.Client{Timeout: evalTimeout},
		dispatchClient: &http.Client{Timeout: dispatchTimeout},
	}
}

var _ engine.Engine = (*Client)(nil)

func (c *Client) InitialQuestion(ctx context.Context, req engine.ClarifyRequest) (string, error) {
	var resp struct {
		CounterQuestion string `json:"counter_question"`
	}
	if err := c.post(ctx, c.evalClient, "/initial_question", req, &resp); err != nil {
		return "", err
	}
	return resp.CounterQuestion, nil
}

func (c *Client) Evaluate(ctx context.Context, req engine.ClarifyRequest) (engine.EvalResult, error) {
	var resp engine.EvalResult
	if err := c.post(ctx, c.evalClient, "/evaluate", req, &resp); err != nil {
		return engine.EvalResult{}, err
	}
	return resp, nil
}

func (c *Client) Dispatch(ctx context.Context, req engine.DispatchRequest) (engine.DispatchResult, error) {
	var resp engine.DispatchResult
	if err := c.post(ctx, c.dispatchClient, "/meeting", req, &resp); err != nil {
		return engine.DispatchResult{}, err
	}
	if resp.RunID == "" {
		return engine.DispatchResult{}, apperr.Upstream(nil, "engine dispatch returned no run id")
	}
	return resp, nil
}

func (c *Client) Chat(ctx context.Context, req engine.ChatRequest) (string, error) {
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, c.dispatchClient, "/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) EvaluateFollowup(ctx context.Context, req engine.FollowupRequest) (bool, error) {
	var resp struct {
		NeedsCounterQuestions bool `json:"needs_counter_questions"`
	}
	if err := c.post(ctx, c.evalClient, "/evaluate_followup", req, &resp); err != nil {
		return false, err
	}
	return resp.NeedsCounterQuestions, nil
}

func (c *Client) CounterQuestions(ctx context.Context, req engine.CounterQuestionRequest) ([]string, error) {
	var resp struct {
		CounterQuestions []string `json:"counter_questions"`
	}
	if err := c.post(ctx, c.evalClient, "/counter_questions", req, &resp); err != nil {
		return nil, err
	}
	return resp.CounterQuestions, nil
}

func (c *Client) ChatHistory(ctx context.Context, runID, persona string) ([]engine.ChatMessage, error) {
	q := url.Values{}
	q.Set("run_id", runID)
	q.Set("agent", persona)
	var resp struct {
		History []engine.ChatMessage `json:"history"`
	}
	if err := c.get(ctx, c.evalClient, "/get_chat?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(hc, req, path, out)
}

func (c *Client) get(ctx context.Context, hc *http.Client, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(hc, req, path, out)
}

func (c *Client) do(hc *http.Client, req *http.Request, path string, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return apperr.Upstream(err, "engine %s unreachable", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Upstream(err, "engine %s: read response", path)
	}
	if resp.StatusCode != http.StatusOK {
		// Surface the engine's own message when it sent one.
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			return apperr.Upstream(nil, "engine %s: %s", path, envelope.Error)
		}
		return apperr.Upstream(nil, "engine %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Upstream(err, "engine %s: parse response", path)
	}
	return nil
}
