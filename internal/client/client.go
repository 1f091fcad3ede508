// Package client is a typed HTTP client for the mimic pipeline API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Client talks to a running mimic service.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d, Transport: cl.http.Transport}
		}
	}
}

// WithLogger sets the logger used by Run.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

// New creates a client for baseURL, e.g. http://localhost:9080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadBaseURL, baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Created is the reply to a pipeline creation.
type Created struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
}

// Create submits a transcript and the models to benchmark as JSON.
func (c *Client) Create(ctx context.Context, transcript string, models []string) (Created, error) {
	body, err := json.Marshal(map[string]any{"transcript": transcript, "models": models})
	if err != nil {
		return Created{}, fmt.Errorf("failed to marshal request body: %w", err)
	}
	var out Created
	err = c.do(ctx, http.MethodPost, "/pipelines", "application/json", bytes.NewReader(body), &out)
	return out, err
}

// Upload submits a transcript file as a multipart form.
func (c *Client) Upload(ctx context.Context, filename string, transcript io.Reader, models []string) (Created, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("transcript", filename)
	if err != nil {
		return Created{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, transcript); err != nil {
		return Created{}, fmt.Errorf("copy transcript: %w", err)
	}
	for _, m := range models {
		if err := mw.WriteField("models", m); err != nil {
			return Created{}, fmt.Errorf("write models field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Created{}, fmt.Errorf("close form: %w", err)
	}
	var out Created
	err = c.do(ctx, http.MethodPost, "/pipelines", mw.FormDataContentType(), &buf, &out)
	return out, err
}

// Get fetches a pipeline.
func (c *Client) Get(ctx context.Context, id string) (*model.Pipeline, error) {
	var p model.Pipeline
	if err := c.do(ctx, http.MethodGet, "/pipelines/"+url.PathEscape(id), "", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List fetches every pipeline, newest first.
func (c *Client) List(ctx context.Context) ([]*model.Pipeline, error) {
	var out []*model.Pipeline
	err := c.do(ctx, http.MethodGet, "/pipelines", "", nil, &out)
	return out, err
}

// Progress fetches the progress snapshot of a pipeline.
func (c *Client) Progress(ctx context.Context, id string) (model.Progress, error) {
	var out model.Progress
	err := c.do(ctx, http.MethodGet, "/pipelines/"+url.PathEscape(id)+"/progress", "", nil, &out)
	return out, err
}

// Analyze queues persona analysis.
func (c *Client) Analyze(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/pipelines/"+url.PathEscape(id)+"/analyze", "", nil, nil)
}

// Evaluate queues model evaluation.
func (c *Client) Evaluate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/pipelines/"+url.PathEscape(id)+"/evaluate", "", nil, nil)
}

// Cancel stops the stage in flight.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/pipelines/"+url.PathEscape(id)+"/cancel", "", nil, nil)
}

// Models lists the candidate models the service offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	err := c.do(ctx, http.MethodGet, "/models", "", nil, &out)
	return out.Models, err
}

// WaitFor polls the pipeline every interval until its status is want or
// error. Reaching error returns the pipeline with ErrPipelineFailed.
func (c *Client) WaitFor(ctx context.Context, id string, want model.Status, interval time.Duration, onPoll func(*model.Pipeline)) (*model.Pipeline, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(p)
		}
		switch p.Status {
		case want:
			return p, nil
		case model.StatusError:
			msg := ""
			if p.ErrorMessage != nil {
				msg = *p.ErrorMessage
			}
			return p, fmt.Errorf("%w: %s", ErrPipelineFailed, msg)
		}
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
