package client

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/logger"
)

// RunConfig drives a full pipeline run.
type RunConfig struct {
	Transcript string
	Models     []string
	Interval   time.Duration

	// OnProgress, when set, is called with every new progress snapshot.
	OnProgress func(model.Progress)
}

// Run executes the complete pipeline: create, analyze, wait, evaluate, wait.
// It returns the completed pipeline.
func (c *Client) Run(ctx context.Context, cfg RunConfig) (*model.Pipeline, error) {
	log := c.log
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	start := time.Now()

	created, err := c.Create(ctx, cfg.Transcript, cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	log.Info(ctx, "pipeline created", logger.String("pipeline_id", created.ID), logger.Int("models", len(cfg.Models)))

	var last model.Progress
	onPoll := func(p *model.Pipeline) {
		prog := model.ProgressOf(p)
		if prog == last {
			return
		}
		last = prog
		if cfg.OnProgress != nil {
			cfg.OnProgress(prog)
		}
	}

	if err := c.Analyze(ctx, created.ID); err != nil {
		return nil, fmt.Errorf("start analysis: %w", err)
	}
	if _, err := c.WaitFor(ctx, created.ID, model.StatusAnalyzed, interval, onPoll); err != nil {
		return nil, fmt.Errorf("persona analysis: %w", err)
	}

	if err := c.Evaluate(ctx, created.ID); err != nil {
		return nil, fmt.Errorf("start evaluation: %w", err)
	}
	p, err := c.WaitFor(ctx, created.ID, model.StatusComplete, interval, onPoll)
	if err != nil {
		return nil, fmt.Errorf("model evaluation: %w", err)
	}

	best := ""
	if p.BestModel != nil {
		best = *p.BestModel
	}
	log.Info(ctx, "pipeline complete",
		logger.String("pipeline_id", p.ID),
		logger.String("bestModel", best),
		logger.Duration("duration", time.Since(start)),
	)
	return p, nil
}
