package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/metrics"
)

// MemoryStore keeps pipelines in a map. Values are deep-copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[string]*model.Pipeline
	closed    bool
	cfg       config
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore{
		pipelines: make(map[string]*model.Pipeline),
		cfg:       cfg,
	}
}

// Create stores a new pending pipeline.
func (s *MemoryStore) Create(_ context.Context, in model.NewPipeline) (*model.Pipeline, error) {
	defer observe("create", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.RecordStoreError("create")
		return nil, ErrClosed
	}

	now := s.cfg.now()
	p := &model.Pipeline{
		ID:             s.cfg.newID(),
		Transcript:     in.Transcript,
		SelectedModels: append([]string(nil), in.SelectedModels...),
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.pipelines[p.ID] = p
	metrics.UpdatePipelinesStored(len(s.pipelines))
	return p.Clone(), nil
}

// Get returns a copy of the pipeline with id.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Pipeline, error) {
	defer observe("get", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	p, ok := s.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Update applies patch to the pipeline with id. A status change must be a
// legal transition from the current status.
func (s *MemoryStore) Update(_ context.Context, id string, patch model.Patch) (*model.Pipeline, error) {
	defer observe("update", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.RecordStoreError("update")
		return nil, ErrClosed
	}
	p, ok := s.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkTransition(p.Status, patch); err != nil {
		return nil, err
	}
	patch.Apply(p)
	p.UpdatedAt = s.cfg.now()
	return p.Clone(), nil
}

// List returns every pipeline, newest first; ties break on id.
func (s *MemoryStore) List(_ context.Context) ([]*model.Pipeline, error) {
	defer observe("list", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*model.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Count returns the number of stored pipelines.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pipelines)
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreOp(op, float64(time.Since(start).Microseconds())/1000)
}
