package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/internal/domain/scoring"
)

const (
	jsonResponseType      = "json_object"
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryAttempts  = 3
	defaultBaseURL        = "https://api.openai.com/v1/chat/completions"
)

// Config holds the provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	AnalysisModel  string
	JudgeModel     string
	TimeoutSeconds int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides how many times a request is tried.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			AnalysisModel:  strings.TrimSpace(cfg.AnalysisModel),
			JudgeModel:     strings.TrimSpace(cfg.JudgeModel),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = defaultBaseURL
	}
	if c.cfg.JudgeModel == "" {
		c.cfg.JudgeModel = c.cfg.AnalysisModel
	}
	return c
}

var _ Service = (*Client)(nil)

// AnalyzePersona asks the analysis model for a persona description.
func (c *Client) AnalyzePersona(ctx context.Context, transcript string) (out model.PersonaAnalysis, err error) {
	defer func(start time.Time) { err = observe(CapAnalyzePersona, start, err) }(time.Now())

	if strings.TrimSpace(transcript) == "" {
		return out, fmt.Errorf("transcript: %w", ErrEmptyInput)
	}
	content, err := c.complete(ctx, CapAnalyzePersona, chatCompletionRequest{
		Model: c.cfg.AnalysisModel,
		Messages: []chatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: analysisUserPrompt(transcript)},
		},
		ResponseFormat: map[string]string{"type": jsonResponseType},
	})
	if err != nil {
		return out, err
	}
	if err := DecodeJSON(content, &out); err != nil {
		return out, fmt.Errorf("decode persona: %w", err)
	}
	out.Tone = strings.TrimSpace(out.Tone)
	out.Style = strings.TrimSpace(out.Style)
	out.Quirks = strings.TrimSpace(out.Quirks)
	out.Personality = strings.TrimSpace(out.Personality)
	if out.Tone == "" && out.Style == "" && out.Quirks == "" && out.Personality == "" {
		return out, fmt.Errorf("persona: %w: every field is empty", ErrMalformedReply)
	}
	return out, nil
}

// ProbeModel sends question to modelName with systemPrompt as the system message.
func (c *Client) ProbeModel(ctx context.Context, modelName, systemPrompt, question string) (reply string, err error) {
	defer func(start time.Time) { err = observe(CapProbeModel, start, err) }(time.Now())

	if strings.TrimSpace(modelName) == "" {
		return "", fmt.Errorf("model name: %w", ErrEmptyInput)
	}
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question: %w", ErrEmptyInput)
	}
	temp := 0.7
	return c.complete(ctx, CapProbeModel, chatCompletionRequest{
		Model: modelName,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: question},
		},
		Temperature: &temp,
	})
}

// JudgeResponse asks the judge model to grade response.
func (c *Client) JudgeResponse(ctx context.Context, systemPrompt, question, response string) (score model.ModelScore, err error) {
	defer func(start time.Time) { err = observe(CapJudgeResponse, start, err) }(time.Now())

	content, err := c.complete(ctx, CapJudgeResponse, chatCompletionRequest{
		Model: c.cfg.JudgeModel,
		Messages: []chatMessage{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: judgeUserPrompt(systemPrompt, question, response)},
		},
		ResponseFormat: map[string]string{"type": jsonResponseType},
	})
	if err != nil {
		return score, err
	}
	var parsed struct {
		ToneScore        *float64 `json:"toneScore"`
		StyleScore       *float64 `json:"styleScore"`
		PersonalityScore *float64 `json:"personalityScore"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		return score, fmt.Errorf("decode judgement: %w", err)
	}
	if parsed.ToneScore == nil || parsed.StyleScore == nil || parsed.PersonalityScore == nil {
		return score, fmt.Errorf("judgement: %w: missing score (snippet: %s)", ErrMalformedReply, snippet(content))
	}
	return scoring.NewScore(
		normalizeScore(*parsed.ToneScore),
		normalizeScore(*parsed.StyleScore),
		normalizeScore(*parsed.PersonalityScore),
	), nil
}

// JudgeComments asks the judge model to explain the winning result.
func (c *Client) JudgeComments(ctx context.Context, bestModel string, bestScore model.ModelScore) (text string, err error) {
	defer func(start time.Time) { err = observe(CapJudgeComments, start, err) }(time.Now())

	return c.complete(ctx, CapJudgeComments, chatCompletionRequest{
		Model: c.cfg.JudgeModel,
		Messages: []chatMessage{
			{Role: "system", Content: commentsSystemPrompt},
			{Role: "user", Content: commentsUserPrompt(bestModel, bestScore)},
		},
	})
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, op string, payload chatCompletionRequest) (string, error) {
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		completion, body, err := c.send(ctx, payload)
		if err == nil {
			content, finishReason := extractContent(completion)
			if content != "" {
				return content, nil
			}
			err = &emptyContentError{Op: op, FinishReason: finishReason, Snippet: snippet(string(body))}
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			if attempt > 1 {
				return "", fmt.Errorf("%s: failed after %d attempts: %w", op, attempt, err)
			}
			return "", err
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return "", sleepErr
		}
	}
}

func extractContent(completion chatCompletionResponse) (string, string) {
	var finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, finishReason
		}
		if text := strings.TrimSpace(choice.Text); text != "" {
			return text, finishReason
		}
	}
	return "", finishReason
}

func (c *Client) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, []byte, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, body, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, body, fmt.Errorf("llm request: decode response: %w", err)
	}
	if completion.Error != nil {
		return completion, body, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, body, nil
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var emptyErr *emptyContentError
	if errors.As(err, &emptyErr) {
		return c.backoffDelay(attempt), true
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles from the base delay: attempt 1 -> base, 2 -> base*2.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if c.retryMaxDelay > 0 && delay > c.retryMaxDelay/2 {
			delay = c.retryMaxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

// endpointHost returns the provider host for logging.
func (c *Client) endpointHost() string {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// String describes the client without secrets.
func (c *Client) String() string {
	return fmt.Sprintf("llm.Client{host=%s analysis=%s judge=%s}", c.endpointHost(), c.cfg.AnalysisModel, c.cfg.JudgeModel)
}
