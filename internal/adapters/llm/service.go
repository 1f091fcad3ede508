// Package llm adapts language model providers to the capabilities the
// pipeline orchestrator consumes.
package llm

import (
	"context"
	"time"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/metrics"
)

// Capability names, used as metric labels and error operations.
const (
	CapAnalyzePersona = "analyze_persona"
	CapProbeModel     = "probe_model"
	CapJudgeResponse  = "judge_response"
	CapJudgeComments  = "judge_comments"
)

// Service is the language model contract. Every failure it returns matches
// model.ErrService.
type Service interface {
	// AnalyzePersona extracts the speaker's communication style.
	AnalyzePersona(ctx context.Context, transcript string) (model.PersonaAnalysis, error)

	// ProbeModel asks a candidate model one benchmark question under the
	// persona system prompt and returns its answer.
	ProbeModel(ctx context.Context, modelName, systemPrompt, question string) (string, error)

	// JudgeResponse scores how well response matches the persona described
	// by systemPrompt. Scores are on a 0..1 scale.
	JudgeResponse(ctx context.Context, systemPrompt, question, response string) (model.ModelScore, error)

	// JudgeComments writes a short summary of why the best model won.
	JudgeComments(ctx context.Context, bestModel string, bestScore model.ModelScore) (string, error)
}

// observe records latency for a capability call and tags any failure.
func observe(capability string, start time.Time, err error) error {
	metrics.RecordLLMCall(capability, float64(time.Since(start).Microseconds())/1000)
	if err == nil {
		return nil
	}
	metrics.RecordLLMError(capability)
	return model.WrapKind(capability, model.ErrService, err)
}
