package service

import (
	"github.com/okian/mimic/internal/adapters/llm"
	"github.com/okian/mimic/internal/adapters/repository"
	"github.com/okian/mimic/internal/domain/benchmark"
	"github.com/okian/mimic/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of stage workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets how many triggered stages may wait for a worker.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithModelConcurrency sets how many candidate models are evaluated at once.
func WithModelConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.modelConcurrency = n
		}
	}
}

// WithExampleCount sets how many transcript excerpts go into the system
// prompt. Zero disables excerpts.
func WithExampleCount(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.exampleCount = n
		}
	}
}

// WithAvailableModels sets the model catalog reported to clients.
func WithAvailableModels(models []string) Option {
	return func(s *Service) {
		s.availableModels = append([]string(nil), models...)
	}
}

// WithStore injects the pipeline store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLLM injects the language model service.
func WithLLM(svc llm.Service) Option {
	return func(s *Service) {
		if svc != nil {
			s.llm = svc
		}
	}
}

// WithQuestions sets the benchmark question set.
func WithQuestions(set benchmark.Set) Option {
	return func(s *Service) {
		if set.Len() > 0 {
			s.questions = set
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
