package repository

import (
	"errors"
	"fmt"

	"github.com/okian/mimic/internal/domain/model"
)

// Sentinel kinds for store errors. Both classify through model.KindOf.
var (
	ErrNotFound = fmt.Errorf("pipeline %w", model.ErrNotFound)
	ErrClosed   = fmt.Errorf("store closed: %w", model.ErrPersistence)

	// ErrInvalidTransition rejects a status change the pipeline state
	// machine does not allow.
	ErrInvalidTransition = fmt.Errorf("status transition not allowed: %w", model.ErrValidation)
)

// ErrSchemaMismatch indicates the database was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// checkTransition reports whether patch may be applied to a pipeline in
// status from.
func checkTransition(from model.Status, patch model.Patch) error {
	if patch.Status == nil || from.CanTransition(*patch.Status) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, *patch.Status)
}

func persistenceError(op string, err error) error {
	return model.WrapKind(op, model.ErrPersistence, err)
}
