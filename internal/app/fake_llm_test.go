package service_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/internal/domain/scoring"
)

// fakeLLM is a scriptable llm.Service. Probe replies are prefixed with the
// model name so the judge can score per model.
type fakeLLM struct {
	mu sync.Mutex

	analysis    model.PersonaAnalysis
	analyzeErr  error
	scores      map[string]model.ModelScore
	probeErr    map[string]error
	probeDelay  map[string]time.Duration
	commentsErr error
	judgeErr    error

	// analyzePanic and judgePanic, when set, are raised by the call.
	analyzePanic any
	judgePanic   any

	// gate, when set, holds AnalyzePersona until it is closed or ctx ends.
	gate    chan struct{}
	entered chan struct{}

	probes   []string
	comments []string
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		analysis: model.PersonaAnalysis{
			Tone: "casual", Style: "conversational", Quirks: "frequent filler words", Personality: "friendly",
		},
		scores:     map[string]model.ModelScore{},
		probeErr:   map[string]error{},
		probeDelay: map[string]time.Duration{},
		entered:    make(chan struct{}, 16),
	}
}

func serviceErr(op string, err error) error {
	return model.WrapKind(op, model.ErrService, err)
}

func (f *fakeLLM) AnalyzePersona(ctx context.Context, _ string) (model.PersonaAnalysis, error) {
	f.entered <- struct{}{}
	f.mu.Lock()
	gate, analysis, err, boom := f.gate, f.analysis, f.analyzeErr, f.analyzePanic
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.PersonaAnalysis{}, serviceErr("analyze_persona", ctx.Err())
		}
	}
	if boom != nil {
		panic(boom)
	}
	if err != nil {
		return model.PersonaAnalysis{}, serviceErr("analyze_persona", err)
	}
	return analysis, nil
}

func (f *fakeLLM) ProbeModel(ctx context.Context, modelName, _, question string) (string, error) {
	f.mu.Lock()
	delay, err := f.probeDelay[modelName], f.probeErr[modelName]
	f.probes = append(f.probes, modelName+"|"+question)
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", serviceErr("probe_model", ctx.Err())
		}
	}
	if err != nil {
		return "", serviceErr("probe_model", err)
	}
	return modelName + ": answer to " + question, nil
}

func (f *fakeLLM) JudgeResponse(_ context.Context, _, _, response string) (model.ModelScore, error) {
	name, _, _ := strings.Cut(response, ":")
	f.mu.Lock()
	s, ok := f.scores[name]
	err, boom := f.judgeErr, f.judgePanic
	f.mu.Unlock()
	if boom != nil {
		panic(boom)
	}
	if err != nil {
		return model.ModelScore{}, serviceErr("judge_response", err)
	}
	if !ok {
		return scoring.NewScore(0.5, 0.5, 0.5), nil
	}
	return s, nil
}

func (f *fakeLLM) JudgeComments(_ context.Context, bestModel string, _ model.ModelScore) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentsErr != nil {
		return "", serviceErr("judge_comments", f.commentsErr)
	}
	f.comments = append(f.comments, bestModel)
	return bestModel + " sounds the most like them", nil
}

func (f *fakeLLM) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probes)
}
