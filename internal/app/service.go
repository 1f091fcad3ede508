// Package service wires the pipeline orchestrator to its store, language
// model, stage queue and workers.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/mimic/internal/adapters/llm"
	"github.com/okian/mimic/internal/adapters/mq/queue"
	"github.com/okian/mimic/internal/adapters/mq/worker"
	"github.com/okian/mimic/internal/adapters/repository"
	"github.com/okian/mimic/internal/domain/benchmark"
	"github.com/okian/mimic/internal/domain/inflight"
	"github.com/okian/mimic/pkg/logger"
	"github.com/okian/mimic/pkg/metrics"
)

const (
	defaultWorkerCount  = 4
	defaultQueueSize    = 256
	defaultExampleCount = 3
	stopTimeout         = 30 * time.Second
)

// Service orchestrates pipelines. Stage operations can be run directly and
// awaited (RunPersonaAnalysis, RunModelEvaluation) or triggered in the
// background (TriggerAnalysis, TriggerEvaluation). Either way a stage must
// first claim its pipeline in the in-flight registry.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	store     repository.Store
	llm       llm.Service
	questions benchmark.Set
	tasks     *inflight.Registry
	queue     *queue.InMemoryQueue
	pool      *worker.Pool

	// Configuration
	workerCount      int
	queueSize        int
	modelConcurrency int
	exampleCount     int
	availableModels  []string

	// State
	root    context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	logger logger.Logger
}

// New constructs a Service. Without options it uses an in-memory store, the
// simulated language model and the default benchmark questions.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      defaultWorkerCount,
		queueSize:        defaultQueueSize,
		modelConcurrency: 1,
		exampleCount:     defaultExampleCount,
		questions:        benchmark.Default(),
		tasks:            inflight.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.llm == nil {
		s.llm = llm.NewSimulated()
	}

	s.root, s.cancel = context.WithCancel(context.Background())
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, worker.RunnerFunc(s.runJob),
		worker.WithPoolLogger(s.logger.Named("worker")))
	return s
}

// Start launches the stage workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return nil
	}
	s.pool.Start(s.root)
	s.started = true
	s.logger.Info(ctx, "pipeline service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("modelConcurrency", s.modelConcurrency),
		logger.Int("questions", s.questions.Len()),
	)
	return nil
}

// Stop cancels in-flight stages, drains the workers and closes the store.
// Stages cut short this way end in status error.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping pipeline service...", logger.Int("inFlight", s.tasks.Size()))
	s.stopped = true
	s.cancel()
	// Stages awaited by callers run under the caller's context, not root.
	s.tasks.CancelAll()

	// Queued jobs still hold claimed tasks; workers must run to fail them.
	s.pool.Start(s.root)
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	if err := s.tasks.Wait(ctx); err != nil {
		s.logger.Warn(ctx, "stages still in flight at shutdown", logger.Any("tasks", s.tasks.Snapshot()))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}
	s.started = false
	metrics.UpdateStagesInFlight(0)
	s.logger.Info(ctx, "pipeline service stopped")
}

// AvailableModels returns the configured model catalog.
func (s *Service) AvailableModels() []string {
	return append([]string(nil), s.availableModels...)
}

// InFlight lists the stages currently running or queued, oldest first.
func (s *Service) InFlight() []inflight.Info {
	return s.tasks.Snapshot()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":            s.started,
		"workerCount":        s.workerCount,
		"queueSize":          s.queueSize,
		"modelConcurrency":   s.modelConcurrency,
		"benchmarkQuestions": s.questions.Len(),
	}
	if s.started {
		inFlight := s.tasks.Snapshot()
		stats["queueLength"] = s.queue.Len(ctx)
		stats["queueCapacity"] = s.queue.Cap()
		stats["queueClosed"] = s.queue.IsClosed()
		stats["workers"] = s.pool.Size()
		stats["pipelines"] = s.store.Count(ctx)
		stats["inFlight"] = len(inFlight)
		stats["tasks"] = inFlight
		metrics.UpdateStagesInFlight(len(inFlight))
	}
	return stats
}
