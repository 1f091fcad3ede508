// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and MIMIC_ environment variables over New().
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// LLM providers.
const (
	ProviderHTTP      = "http"
	ProviderSimulated = "simulated"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the stage job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of stage workers.
	WorkerCount int `koanf:"worker_count"`

	// ModelConcurrency caps how many models one evaluation benchmarks at once.
	ModelConcurrency int `koanf:"model_concurrency"`

	// AvailableModels is the candidate list served by GET /models.
	AvailableModels []string `koanf:"available_models"`

	Store     StoreConfig     `koanf:"store"`
	LLM       LLMConfig       `koanf:"llm"`
	Benchmark BenchmarkConfig `koanf:"benchmark"`
}

// StoreConfig selects the pipeline store.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// LLMConfig selects and configures the language model service.
type LLMConfig struct {
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	AnalysisModel  string `koanf:"analysis_model"`
	JudgeModel     string `koanf:"judge_model"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	RetryAttempts  int    `koanf:"retry_attempts"`

	// MinLatencyMS and MaxLatencyMS bound the simulated provider's delay.
	MinLatencyMS int `koanf:"min_latency_ms"`
	MaxLatencyMS int `koanf:"max_latency_ms"`
}

// BenchmarkConfig controls the question set and prompt excerpts.
type BenchmarkConfig struct {
	// QuestionsFile is an optional YAML or JSON list of questions.
	QuestionsFile string `koanf:"questions_file"`

	// ExampleCount is how many transcript excerpts the system prompt quotes.
	ExampleCount int `koanf:"example_count"`
}

// DefaultModels is the candidate list used when none is configured.
func DefaultModels() []string {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"}
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		QueueSize:        256,
		WorkerCount:      runtime.NumCPU(),
		ModelConcurrency: 1,
		Store: StoreConfig{
			Driver: DriverMemory,
			Path:   "data/mimic.db",
		},
		LLM: LLMConfig{
			Provider:       ProviderSimulated,
			BaseURL:        "https://api.openai.com/v1/chat/completions",
			AnalysisModel:  "gpt-4o",
			TimeoutSeconds: 60,
			RetryAttempts:  3,
			MinLatencyMS:   50,
			MaxLatencyMS:   200,
		},
		Benchmark: BenchmarkConfig{
			ExampleCount: 3,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be at least 1, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be at least 1, got %d", ErrInvalidConfig, c.WorkerCount)
	}
	if c.ModelConcurrency < 1 {
		return fmt.Errorf("%w: model_concurrency must be at least 1, got %d", ErrInvalidConfig, c.ModelConcurrency)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("%w: store.path is required for the sqlite driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	switch c.LLM.Provider {
	case ProviderSimulated:
		if c.LLM.MinLatencyMS < 0 || c.LLM.MinLatencyMS > c.LLM.MaxLatencyMS {
			return fmt.Errorf("%w: llm latency range [%d, %d] is invalid", ErrInvalidConfig, c.LLM.MinLatencyMS, c.LLM.MaxLatencyMS)
		}
	case ProviderHTTP:
		if strings.TrimSpace(c.LLM.BaseURL) == "" {
			return fmt.Errorf("%w: llm.base_url is required for the http provider", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.LLM.AnalysisModel) == "" {
			return fmt.Errorf("%w: llm.analysis_model is required for the http provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown llm.provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.Benchmark.ExampleCount < 0 {
		return fmt.Errorf("%w: benchmark.example_count must not be negative", ErrInvalidConfig)
	}
	return nil
}
