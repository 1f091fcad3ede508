// Package model contains domain models passed between layers.
package model

import "time"

// PersonaAnalysis describes the communication style extracted from a
// transcript. It is produced once by the analyze stage and never mutated.
type PersonaAnalysis struct {
	Tone        string `json:"tone"`
	Style       string `json:"style"`
	Quirks      string `json:"quirks"`
	Personality string `json:"personality"`
}

// ModelScore holds persona-fidelity scores on a 0..1 scale.
// AverageScore is the mean of the three sub-scores; build values with
// scoring.NewScore so that invariant holds.
type ModelScore struct {
	ToneScore        float64 `json:"toneScore"`
	StyleScore       float64 `json:"styleScore"`
	PersonalityScore float64 `json:"personalityScore"`
	AverageScore     float64 `json:"averageScore"`
}

// QuestionResult is one benchmark question posed to one model.
type QuestionResult struct {
	Question string     `json:"question"`
	Response string     `json:"response"`
	Score    ModelScore `json:"score"`
}

// EvaluationResult aggregates one candidate model's answers. The embedded
// scores are means across Responses, which follow benchmark question order.
type EvaluationResult struct {
	ModelName string `json:"modelName"`
	ModelScore
	Responses []QuestionResult `json:"responses"`
}

// Pipeline is one persona-extraction and model-evaluation run.
type Pipeline struct {
	ID             string   `json:"id"`
	Transcript     string   `json:"transcript"`
	SelectedModels []string `json:"selectedModels"`
	Status         Status   `json:"status"`

	// PersonaAnalysis and SystemPrompt are both nil or both set.
	PersonaAnalysis *PersonaAnalysis `json:"personaAnalysis"`
	SystemPrompt    *string          `json:"systemPrompt"`

	EvaluationResults []EvaluationResult `json:"evaluationResults"`
	BestModel         *string            `json:"bestModel"`
	JudgeComments     *string            `json:"judgeComments"`
	ErrorMessage      *string            `json:"errorMessage"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPipeline is the input for creating a pipeline.
type NewPipeline struct {
	Transcript     string
	SelectedModels []string
}

// Clone returns a deep copy so callers can't mutate stored state.
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	c := *p
	c.SelectedModels = append([]string(nil), p.SelectedModels...)
	if p.PersonaAnalysis != nil {
		a := *p.PersonaAnalysis
		c.PersonaAnalysis = &a
	}
	c.SystemPrompt = cloneString(p.SystemPrompt)
	c.BestModel = cloneString(p.BestModel)
	c.JudgeComments = cloneString(p.JudgeComments)
	c.ErrorMessage = cloneString(p.ErrorMessage)
	if p.EvaluationResults != nil {
		c.EvaluationResults = make([]EvaluationResult, len(p.EvaluationResults))
		for i, r := range p.EvaluationResults {
			r.Responses = append([]QuestionResult(nil), r.Responses...)
			c.EvaluationResults[i] = r
		}
	}
	return &c
}

// Patch lists the fields a store update replaces. Nil fields are left as
// they are.
type Patch struct {
	Status            *Status
	PersonaAnalysis   *PersonaAnalysis
	SystemPrompt      *string
	EvaluationResults []EvaluationResult
	BestModel         *string
	JudgeComments     *string
	ErrorMessage      *string
}

// Apply writes the supplied fields onto p.
func (u Patch) Apply(p *Pipeline) {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.PersonaAnalysis != nil {
		a := *u.PersonaAnalysis
		p.PersonaAnalysis = &a
	}
	if u.SystemPrompt != nil {
		p.SystemPrompt = cloneString(u.SystemPrompt)
	}
	if u.EvaluationResults != nil {
		p.EvaluationResults = (&Pipeline{EvaluationResults: u.EvaluationResults}).Clone().EvaluationResults
	}
	if u.BestModel != nil {
		p.BestModel = cloneString(u.BestModel)
	}
	if u.JudgeComments != nil {
		p.JudgeComments = cloneString(u.JudgeComments)
	}
	if u.ErrorMessage != nil {
		p.ErrorMessage = cloneString(u.ErrorMessage)
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
