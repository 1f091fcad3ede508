package queue

import (
	"fmt"

	"github.com/okian/mimic/internal/domain/model"
)

// Sentinel kinds for queue errors. Both classify as backpressure.
var (
	ErrFull   = fmt.Errorf("queue full: %w", model.ErrBackpressure)
	ErrClosed = fmt.Errorf("queue closed: %w", model.ErrBackpressure)
)
