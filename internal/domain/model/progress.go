package model

// ProgressStep is a coarse view of the state machine for polling clients.
type ProgressStep string

// Steps in the order a pipeline moves through them.
const (
	StepUpload   ProgressStep = "upload"
	StepAnalyze  ProgressStep = "analyze"
	StepEvaluate ProgressStep = "evaluate"
	StepComplete ProgressStep = "complete"
)

// Progress is a side-effect free snapshot derived from a stored pipeline.
type Progress struct {
	Step     ProgressStep `json:"step"`
	Progress int          `json:"progress"`
	Message  string       `json:"message"`
}

// ProgressOf maps a pipeline onto a progress snapshot. It reads only
// persisted fields, so repeated calls on an unchanged pipeline agree.
// For a failed pipeline the step is the stage that failed: analyze when no
// system prompt was produced, evaluate otherwise.
func ProgressOf(p *Pipeline) Progress {
	switch p.Status {
	case StatusPending:
		return Progress{Step: StepUpload, Progress: 10, Message: "Transcript uploaded, waiting for persona analysis"}
	case StatusAnalyzing:
		return Progress{Step: StepAnalyze, Progress: 25, Message: "Analyzing communication style"}
	case StatusAnalyzed:
		return Progress{Step: StepAnalyze, Progress: 50, Message: "Persona analyzed, system prompt ready for evaluation"}
	case StatusEvaluating:
		return Progress{Step: StepEvaluate, Progress: 75, Message: "Benchmarking candidate models"}
	case StatusComplete:
		msg := "Evaluation complete"
		if p.BestModel != nil {
			msg = "Evaluation complete, best model: " + *p.BestModel
		}
		return Progress{Step: StepComplete, Progress: 100, Message: msg}
	case StatusError:
		msg := "Pipeline failed"
		if p.ErrorMessage != nil && *p.ErrorMessage != "" {
			msg = *p.ErrorMessage
		}
		if p.SystemPrompt == nil {
			return Progress{Step: StepAnalyze, Progress: 25, Message: msg}
		}
		return Progress{Step: StepEvaluate, Progress: 75, Message: msg}
	default:
		return Progress{Step: StepUpload, Progress: 0, Message: "Unknown status " + string(p.Status)}
	}
}
