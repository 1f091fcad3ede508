// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the orchestrator.
type Dependencies interface {
	CreatePipeline(ctx context.Context, transcript string, models []string) (*model.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*model.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*model.Pipeline, error)
	Progress(ctx context.Context, id string) (model.Progress, error)

	// TriggerAnalysis and TriggerEvaluation validate and queue a stage
	// without waiting for it.
	TriggerAnalysis(ctx context.Context, id string) error
	TriggerEvaluation(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error

	AvailableModels() []string
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	pipelinesHandler *PipelinesHandler
	modelsHandler    *ModelsHandler
}

// Option configures a Server.
type Option func(*options)

type options struct {
	log          logger.Logger
	maxBodyBytes int64
}

// WithLogger sets the logger used for server-side failures.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMaxBodyBytes caps the size of a pipeline upload.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := options{log: logger.Nop(), maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		pipelinesHandler: NewPipelinesHandler(deps, o.log, o.maxBodyBytes),
		modelsHandler:    NewModelsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	p := s.pipelinesHandler
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /models", MetricsMiddleware(s.modelsHandler.HandleModels, "models"))

	mux.HandleFunc("POST /pipelines", MetricsMiddleware(p.HandleCreate, "pipelines_create"))
	mux.HandleFunc("GET /pipelines", MetricsMiddleware(p.HandleList, "pipelines_list"))
	mux.HandleFunc("GET /pipelines/{id}", MetricsMiddleware(p.HandleGet, "pipelines_get"))
	mux.HandleFunc("GET /pipelines/{id}/progress", MetricsMiddleware(p.HandleProgress, "pipelines_progress"))
	mux.HandleFunc("POST /pipelines/{id}/analyze", MetricsMiddleware(p.HandleAnalyze, "pipelines_analyze"))
	mux.HandleFunc("POST /pipelines/{id}/evaluate", MetricsMiddleware(p.HandleEvaluate, "pipelines_evaluate"))
	mux.HandleFunc("POST /pipelines/{id}/cancel", MetricsMiddleware(p.HandleCancel, "pipelines_cancel"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps an error kind onto an HTTP status and error code. A body
// cut off by MaxBytesReader is reported as too large whatever its kind.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	}
	switch model.KindOf(err) {
	case model.KindNotFound:
		return http.StatusNotFound, "not_found"
	case model.KindValidation:
		return http.StatusBadRequest, "bad_request"
	case model.KindConflict:
		return http.StatusConflict, "conflict"
	case model.KindBackpressure:
		return http.StatusTooManyRequests, "backpressure"
	case model.KindService:
		return http.StatusBadGateway, "service_error"
	case model.KindPersistence:
		return http.StatusInternalServerError, "persistence_error"
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, "timeout"
		}
		return http.StatusInternalServerError, "internal_error"
	}
}
