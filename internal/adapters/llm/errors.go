package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the llm package.
var (
	ErrEmptyInput     = errors.New("empty input")
	ErrMalformedReply = errors.New("malformed model reply")
)

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, response_snippet=%s)", e.Op, e.FinishReason, e.Snippet)
}
