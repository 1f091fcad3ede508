package service

import (
	"fmt"

	"github.com/okian/mimic/internal/domain/model"
)

// Service-level sentinels. Each classifies through model.KindOf.
var (
	ErrEmptyTranscript  = fmt.Errorf("transcript is required: %w", model.ErrValidation)
	ErrNoModels         = fmt.Errorf("at least one model must be selected: %w", model.ErrValidation)
	ErrBlankModel       = fmt.Errorf("model identifiers must not be blank: %w", model.ErrValidation)
	ErrDuplicateModel   = fmt.Errorf("model selected more than once: %w", model.ErrValidation)
	ErrWrongStatus      = fmt.Errorf("pipeline is not ready for this stage: %w", model.ErrValidation)
	ErrNoSystemPrompt   = fmt.Errorf("pipeline has no system prompt: %w", model.ErrValidation)
	ErrStageInFlight    = fmt.Errorf("pipeline %w", model.ErrConflict)
	ErrNothingInFlight  = fmt.Errorf("no stage in flight: %w", model.ErrNotFound)
	ErrStageCancelled   = fmt.Errorf("stage cancelled: %w", model.ErrService)
	ErrStagePanicked    = fmt.Errorf("stage panicked: %w", model.ErrService)
	ErrServiceNotActive = fmt.Errorf("service is stopped: %w", model.ErrBackpressure)
)
