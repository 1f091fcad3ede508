// Package repository persists pipelines behind the Store contract.
package repository

import (
	"context"

	"github.com/okian/mimic/internal/domain/model"
)

// Store provides keyed access to pipeline records.
//
// The contract is last-write-wins: Update replaces the fields named in the
// patch and nothing guards concurrent writers to the same id. Callers keep
// at most one writer per pipeline.
type Store interface {
	// Create stores a new pipeline in status pending and returns it with
	// its assigned id and timestamps.
	Create(ctx context.Context, in model.NewPipeline) (*model.Pipeline, error)

	// Get returns the pipeline with id, or an error matching ErrNotFound.
	Get(ctx context.Context, id string) (*model.Pipeline, error)

	// Update applies patch to the pipeline with id and returns the result.
	Update(ctx context.Context, id string, patch model.Patch) (*model.Pipeline, error)

	// List returns every pipeline, newest first.
	List(ctx context.Context) ([]*model.Pipeline, error)

	// Count returns the number of stored pipelines.
	Count(ctx context.Context) int

	// Close releases resources held by the store.
	Close() error
}
