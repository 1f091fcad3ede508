package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/mimic/internal/adapters/mq/queue"
	"github.com/okian/mimic/internal/domain/inflight"
	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/internal/domain/prompt"
	"github.com/okian/mimic/internal/domain/scoring"
	"github.com/okian/mimic/pkg/logger"
	"github.com/okian/mimic/pkg/metrics"
)

const failureWriteTimeout = 10 * time.Second

// RunPersonaAnalysis runs the analyze stage and waits for it. The pipeline
// must be pending with a non-empty transcript. On success it is analyzed,
// with personaAnalysis and systemPrompt set together.
func (s *Service) RunPersonaAnalysis(ctx context.Context, id string) error {
	task, p, err := s.claim(ctx, ctx, id, model.StageAnalyze)
	if err != nil {
		return err
	}
	return s.execute(task, p)
}

// RunModelEvaluation runs the evaluate stage and waits for it. The pipeline
// must be analyzed. On success it is complete with results in selection
// order, the best model and judge comments.
func (s *Service) RunModelEvaluation(ctx context.Context, id string) error {
	task, p, err := s.claim(ctx, ctx, id, model.StageEvaluate)
	if err != nil {
		return err
	}
	return s.execute(task, p)
}

// TriggerAnalysis validates and queues the analyze stage without waiting.
func (s *Service) TriggerAnalysis(ctx context.Context, id string) error {
	return s.trigger(ctx, id, model.StageAnalyze)
}

// TriggerEvaluation validates and queues the evaluate stage without waiting.
func (s *Service) TriggerEvaluation(ctx context.Context, id string) error {
	return s.trigger(ctx, id, model.StageEvaluate)
}

// Cancel stops the stage in flight for id. The stage ends in status error.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if !s.tasks.Cancel(id) {
		return model.WrapKind("cancel", model.ErrNotFound, ErrNothingInFlight)
	}
	s.logger.Info(ctx, "stage cancellation requested", logger.String("pipeline_id", id))
	return nil
}

// Wait blocks until the stage in flight for id, if any, has finished and
// returns its result.
func (s *Service) Wait(ctx context.Context, id string) error {
	t, ok := s.tasks.Get(id)
	if !ok {
		return nil
	}
	select {
	case <-t.Done():
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) trigger(ctx context.Context, id string, stage model.Stage) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return model.WrapKind("trigger "+string(stage), model.ErrBackpressure, ErrServiceNotActive)
	}

	task, _, err := s.claim(ctx, s.root, id, stage)
	if err != nil {
		return err
	}
	job := queue.Job{PipelineID: id, Stage: stage, Task: task}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.tasks.Release(task, err)
		metrics.UpdateStagesInFlight(s.tasks.Size())
		return model.WrapKind("trigger "+string(stage), model.ErrBackpressure, err)
	}
	s.logger.Debug(ctx, "stage queued",
		logger.String("pipeline_id", id),
		logger.String("stage", string(stage)),
	)
	return nil
}

// claim takes the in-flight slot for id and then validates the pipeline
// under it, so a concurrent stage cannot slip in between check and start.
// The task context derives from parent. Validation failures release the slot
// and leave the pipeline untouched.
func (s *Service) claim(ctx, parent context.Context, id string, stage model.Stage) (*inflight.Task, *model.Pipeline, error) {
	op := string(stage)

	task, ok := s.tasks.Claim(parent, id, stage)
	if !ok {
		return nil, nil, model.WrapKind(op, model.ErrConflict,
			fmt.Errorf("%w: %s is running", ErrStageInFlight, task.Stage))
	}
	metrics.UpdateStagesInFlight(s.tasks.Size())

	p, err := s.store.Get(ctx, id)
	if err == nil {
		err = checkReady(p, stage)
	}
	if err != nil {
		err = model.WrapKind(op, model.ErrPersistence, err)
		s.tasks.Release(task, err)
		metrics.UpdateStagesInFlight(s.tasks.Size())
		return nil, nil, err
	}
	return task, p, nil
}

func checkReady(p *model.Pipeline, stage model.Stage) error {
	switch stage {
	case model.StageAnalyze:
		if strings.TrimSpace(p.Transcript) == "" {
			return ErrEmptyTranscript
		}
	case model.StageEvaluate:
		if p.SystemPrompt == nil {
			return ErrNoSystemPrompt
		}
		if len(p.SelectedModels) == 0 {
			return ErrNoModels
		}
	}
	if want := stage.ReadyFor(); p.Status != want {
		return fmt.Errorf("%w: status is %s, %s needs %s", ErrWrongStatus, p.Status, stage, want)
	}
	return nil
}

// runJob is the worker entry point for queued stages.
func (s *Service) runJob(_ context.Context, job queue.Job) error {
	p, err := s.store.Get(context.WithoutCancel(job.Task.Context()), job.PipelineID)
	if err != nil {
		err = model.WrapKind(string(job.Stage), model.ErrPersistence, err)
		s.tasks.Release(job.Task, err)
		metrics.UpdateStagesInFlight(s.tasks.Size())
		return err
	}
	return s.execute(job.Task, p)
}

// execute runs a claimed stage to completion or failure and releases it.
func (s *Service) execute(task *inflight.Task, p *model.Pipeline) error {
	ctx := task.Context()
	stage := task.Stage
	log := s.logger.With(logger.String("pipeline_id", p.ID), logger.String("stage", string(stage)))
	start := time.Now()

	metrics.RecordStageStarted(string(stage))
	log.Info(ctx, "stage started")

	patch, err := s.runRecovered(ctx, log, p, stage)

	// The final write happens while the slot is still held, so a client that
	// sees the new status can immediately claim the next stage.
	err = s.tasks.Settle(task, func() error {
		if err != nil {
			return s.fail(ctx, log, p, stage, err)
		}
		patch.Status = model.Ptr(stage.Done())
		if _, werr := s.store.Update(ctx, p.ID, patch); werr != nil {
			return s.fail(ctx, log, p, stage, model.WrapKind(string(stage), model.ErrPersistence, werr))
		}
		return nil
	})
	metrics.UpdateStagesInFlight(s.tasks.Size())

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		metrics.RecordStageFailed(string(stage), model.KindOf(err).String(), elapsed)
		return err
	}
	metrics.RecordStageCompleted(string(stage), elapsed)
	log.Info(ctx, "stage completed", logger.Duration("duration", time.Since(start)))
	return nil
}

// runRecovered is run with a panic turned into ErrStagePanicked, so the
// claim is always settled and the pipeline ends in error.
func (s *Service) runRecovered(ctx context.Context, log logger.Logger, p *model.Pipeline, stage model.Stage) (patch model.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "stage panicked", logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
			patch, err = model.Patch{}, panicError(stage, r)
		}
	}()
	return s.run(ctx, log, p, stage)
}

func panicError(stage model.Stage, r any) error {
	metrics.RecordErrorByComponent("service", "panic")
	return model.WrapKind(string(stage), model.ErrService, fmt.Errorf("%w: %v", ErrStagePanicked, r))
}

// run marks the stage as running and computes its result patch.
func (s *Service) run(ctx context.Context, log logger.Logger, p *model.Pipeline, stage model.Stage) (model.Patch, error) {
	if ctx.Err() != nil {
		return model.Patch{}, ErrStageCancelled
	}
	if _, err := s.store.Update(ctx, p.ID, model.Patch{Status: model.Ptr(stage.Running())}); err != nil {
		return model.Patch{}, model.WrapKind(string(stage), model.ErrPersistence, err)
	}
	switch stage {
	case model.StageAnalyze:
		return s.analyze(ctx, p)
	case model.StageEvaluate:
		return s.evaluate(ctx, log, p)
	default:
		return model.Patch{}, fmt.Errorf("unknown stage %q: %w", stage, model.ErrValidation)
	}
}

func (s *Service) analyze(ctx context.Context, p *model.Pipeline) (model.Patch, error) {
	analysis, err := s.llm.AnalyzePersona(ctx, p.Transcript)
	if err != nil {
		return model.Patch{}, stageError(ctx, model.StageAnalyze, err)
	}
	systemPrompt := prompt.Generate(analysis, prompt.Excerpts(p.Transcript, s.exampleCount))
	return model.Patch{PersonaAnalysis: &analysis, SystemPrompt: &systemPrompt}, nil
}

func (s *Service) evaluate(ctx context.Context, log logger.Logger, p *model.Pipeline) (model.Patch, error) {
	results, err := s.evaluateModels(ctx, log, *p.SystemPrompt, p.SelectedModels)
	if err != nil {
		return model.Patch{}, stageError(ctx, model.StageEvaluate, err)
	}

	idx, ok := scoring.SelectBest(results)
	if !ok {
		return model.Patch{}, fmt.Errorf("%s: no results to rank: %w", model.StageEvaluate, model.ErrValidation)
	}
	best := results[idx]
	comments, err := s.llm.JudgeComments(ctx, best.ModelName, best.ModelScore)
	if err != nil {
		return model.Patch{}, stageError(ctx, model.StageEvaluate, err)
	}
	metrics.RecordBestModel(best.ModelName)
	log.Info(ctx, "best model selected",
		logger.String("model", best.ModelName),
		logger.Float64("averageScore", best.AverageScore),
	)
	return model.Patch{
		EvaluationResults: results,
		BestModel:         &best.ModelName,
		JudgeComments:     &comments,
	}, nil
}

// evaluateModels benchmarks every model. Results are written by selection
// index so their order never depends on completion order. The first failure
// cancels the remaining work and nothing is returned.
func (s *Service) evaluateModels(ctx context.Context, log logger.Logger, systemPrompt string, models []string) ([]model.EvaluationResult, error) {
	results := make([]model.EvaluationResult, len(models))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.modelConcurrency)

	for i, name := range models {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("model %s: %w", name, panicError(model.StageEvaluate, r))
				}
			}()
			res, err := s.evaluateModel(gctx, systemPrompt, name)
			if err != nil {
				return fmt.Errorf("model %s: %w", name, err)
			}
			log.Debug(gctx, "model evaluated",
				logger.String("model", name),
				logger.Float64("averageScore", res.AverageScore),
			)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluateModel asks every benchmark question in order and judges each answer.
func (s *Service) evaluateModel(ctx context.Context, systemPrompt, name string) (model.EvaluationResult, error) {
	questions := s.questions.Questions()
	responses := make([]model.QuestionResult, 0, len(questions))
	for _, q := range questions {
		reply, err := s.llm.ProbeModel(ctx, name, systemPrompt, q)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		score, err := s.llm.JudgeResponse(ctx, systemPrompt, q, reply)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		responses = append(responses, model.QuestionResult{Question: q, Response: reply, Score: score})
	}
	return scoring.BuildResult(name, responses), nil
}

// stageError reports a cancelled task as ErrStageCancelled and tags any
// other failure as a service error.
func stageError(ctx context.Context, stage model.Stage, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return model.WrapKind(string(stage), model.ErrService, fmt.Errorf("%w: %w", ErrStageCancelled, err))
	}
	return model.WrapKind(string(stage), model.ErrService, err)
}

// fail records the failure on the pipeline and returns cause. The write uses
// a context detached from the task so a cancelled stage is still recorded.
func (s *Service) fail(ctx context.Context, log logger.Logger, p *model.Pipeline, stage model.Stage, cause error) error {
	msg := failureMessage(stage, cause)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if _, err := s.store.Update(writeCtx, p.ID, model.Patch{
		Status:       model.Ptr(model.StatusError),
		ErrorMessage: &msg,
	}); err != nil {
		log.Error(ctx, "could not record stage failure", logger.Error(err), logger.String("cause", cause.Error()))
		metrics.RecordErrorByComponent("service", "failure_write")
		return errors.Join(cause, model.WrapKind(string(stage), model.ErrPersistence, err))
	}
	log.Warn(ctx, "stage failed",
		logger.String("kind", model.KindOf(cause).String()),
		logger.Error(cause),
	)
	return cause
}

func failureMessage(stage model.Stage, err error) string {
	label := "Persona analysis"
	if stage == model.StageEvaluate {
		label = "Model evaluation"
	}
	if errors.Is(err, ErrStageCancelled) {
		return label + " cancelled"
	}
	return fmt.Sprintf("%s failed: %v", label, err)
}
