package api

import (
	"fmt"

	"github.com/okian/mimic/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest        = fmt.Errorf("bad request: %w", model.ErrValidation)
	ErrUnsupportedMedia  = fmt.Errorf("unsupported content type: %w", model.ErrValidation)
	ErrMissingTranscript = fmt.Errorf("missing transcript: %w", model.ErrValidation)
)
