// Package scoring builds persona-fidelity scores and ranks evaluated models.
package scoring

import (
	"math"

	"github.com/okian/mimic/internal/domain/model"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 1.0
)

// NewScore builds a ModelScore from the three sub-scores. Inputs are clamped
// to [MinScore, MaxScore]; NaN counts as MinScore. AverageScore is always
// the mean of the clamped sub-scores.
func NewScore(tone, style, personality float64) model.ModelScore {
	tone, style, personality = clamp(tone), clamp(style), clamp(personality)
	return model.ModelScore{
		ToneScore:        tone,
		StyleScore:       style,
		PersonalityScore: personality,
		AverageScore:     (tone + style + personality) / 3,
	}
}

// Aggregate averages each score field across scores. An empty input yields
// a zero score.
func Aggregate(scores []model.ModelScore) model.ModelScore {
	if len(scores) == 0 {
		return model.ModelScore{}
	}
	var sum model.ModelScore
	for _, s := range scores {
		sum.ToneScore += s.ToneScore
		sum.StyleScore += s.StyleScore
		sum.PersonalityScore += s.PersonalityScore
		sum.AverageScore += s.AverageScore
	}
	n := float64(len(scores))
	return model.ModelScore{
		ToneScore:        sum.ToneScore / n,
		StyleScore:       sum.StyleScore / n,
		PersonalityScore: sum.PersonalityScore / n,
		AverageScore:     sum.AverageScore / n,
	}
}

// BuildResult assembles the evaluation result for one model. responses keep
// their order.
func BuildResult(modelName string, responses []model.QuestionResult) model.EvaluationResult {
	scores := make([]model.ModelScore, len(responses))
	for i, r := range responses {
		scores[i] = r.Score
	}
	return model.EvaluationResult{
		ModelName:  modelName,
		ModelScore: Aggregate(scores),
		Responses:  append([]model.QuestionResult(nil), responses...),
	}
}

// SelectBest returns the index of the result with the highest AverageScore.
// Ties go to the earliest result, so callers must pass results in selection
// order. ok is false for an empty slice.
func SelectBest(results []model.EvaluationResult) (idx int, ok bool) {
	if len(results) == 0 {
		return 0, false
	}
	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].AverageScore > results[best].AverageScore {
			best = i
		}
	}
	return best, true
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}
