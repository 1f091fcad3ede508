package service

import (
	"context"
	"strings"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/logger"
	"github.com/okian/mimic/pkg/metrics"
)

// CreatePipeline validates the input and stores a new pending pipeline.
// Model identifiers are trimmed; their order is kept as the tie-break order.
func (s *Service) CreatePipeline(ctx context.Context, transcript string, models []string) (*model.Pipeline, error) {
	const op = "create pipeline"

	if strings.TrimSpace(transcript) == "" {
		return nil, model.WrapKind(op, model.ErrValidation, ErrEmptyTranscript)
	}
	selected, err := normalizeModels(models)
	if err != nil {
		return nil, model.WrapKind(op, model.ErrValidation, err)
	}

	p, err := s.store.Create(ctx, model.NewPipeline{Transcript: transcript, SelectedModels: selected})
	if err != nil {
		metrics.RecordErrorByComponent("service", "create_failed")
		return nil, model.WrapKind(op, model.ErrPersistence, err)
	}
	metrics.RecordPipelineCreated()
	s.logger.Info(ctx, "pipeline created",
		logger.String("pipeline_id", p.ID),
		logger.Int("models", len(selected)),
		logger.Int("transcript_bytes", len(transcript)),
	)
	return p, nil
}

func normalizeModels(models []string) ([]string, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	out := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, ErrBlankModel
		}
		if _, dup := seen[m]; dup {
			return nil, ErrDuplicateModel
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// GetPipeline returns the stored pipeline.
func (s *Service) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, model.WrapKind("get pipeline", model.ErrPersistence, err)
	}
	return p, nil
}

// ListPipelines returns every pipeline, newest first.
func (s *Service) ListPipelines(ctx context.Context) ([]*model.Pipeline, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, model.WrapKind("list pipelines", model.ErrPersistence, err)
	}
	return list, nil
}

// Progress reports where a pipeline is. It only reads the store, so it is
// safe to call at any time, including while a stage is running.
func (s *Service) Progress(ctx context.Context, id string) (model.Progress, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Progress{}, model.WrapKind("progress", model.ErrPersistence, err)
	}
	return model.ProgressOf(p), nil
}
