package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/mimic/internal/domain/model"
)

// Sentinel errors for the client.
var (
	ErrPipelineFailed = errors.New("pipeline failed")
	ErrBadBaseURL     = errors.New("invalid base url")
)

// APIError is a non-2xx reply from the service. It unwraps to the model
// error kind matching its status, so callers can use errors.Is with
// model.ErrNotFound and friends.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the status code back onto an error kind.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return model.ErrValidation
	case http.StatusConflict:
		return model.ErrConflict
	case http.StatusTooManyRequests:
		return model.ErrBackpressure
	case http.StatusBadGateway:
		return model.ErrService
	case http.StatusInternalServerError:
		return model.ErrPersistence
	default:
		return nil
	}
}
