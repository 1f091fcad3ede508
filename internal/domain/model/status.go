package model

// Status is the lifecycle state of a pipeline.
type Status string

// Pipeline states. Analyzed is the "ready for evaluation" state.
const (
	StatusPending    Status = "pending"
	StatusAnalyzing  Status = "analyzing"
	StatusAnalyzed   Status = "analyzed"
	StatusEvaluating Status = "evaluating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Stage names a unit of orchestrator work.
type Stage string

// Stages run by the orchestrator.
const (
	StageAnalyze  Stage = "analyze"
	StageEvaluate Stage = "evaluate"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusAnalyzed, StatusEvaluating, StatusComplete, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// CanTransition reports whether the forward-only state machine allows s -> to:
// pending -> analyzing -> analyzed -> evaluating -> complete, and any
// non-terminal state -> error. Stores reject every other status change.
func (s Status) CanTransition(to Status) bool {
	if !s.Valid() || !to.Valid() || s.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	switch s {
	case StatusPending:
		return to == StatusAnalyzing
	case StatusAnalyzing:
		return to == StatusAnalyzed
	case StatusAnalyzed:
		return to == StatusEvaluating
	case StatusEvaluating:
		return to == StatusComplete
	default:
		return false
	}
}

// ReadyFor returns the status a pipeline must be in before stage may run.
func (st Stage) ReadyFor() Status {
	if st == StageEvaluate {
		return StatusAnalyzed
	}
	return StatusPending
}

// Running returns the in-progress status written when stage starts.
func (st Stage) Running() Status {
	if st == StageEvaluate {
		return StatusEvaluating
	}
	return StatusAnalyzing
}

// Done returns the status written when stage succeeds.
func (st Stage) Done() Status {
	if st == StageEvaluate {
		return StatusComplete
	}
	return StatusAnalyzed
}
