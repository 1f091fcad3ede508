package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/internal/domain/scoring"
)

const (
	defaultSimMinLatency = 80 * time.Millisecond
	defaultSimMaxLatency = 150 * time.Millisecond
	defaultSimSeed       = 42
	simScoreFloor        = 0.4
)

var fillerWords = []string{"um", "uh", "like", "you know", "basically", "actually", "i mean"} //nolint:gochecknoglobals // read-only

var simPersonalities = []string{"friendly", "analytical", "playful", "thoughtful", "confident", "easygoing"} //nolint:gochecknoglobals // read-only

var simOpeners = []string{"Honestly,", "Well,", "So,", "Oh,", "Right, so", "Okay,"} //nolint:gochecknoglobals // read-only

// SimOption configures a Simulated service.
type SimOption func(*Simulated)

// WithLatencyRange sets the simulated latency range. A zero range disables
// the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) SimOption {
	return func(s *Simulated) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// Simulated implements Service offline. Analysis comes from simple
// transcript heuristics and scores from a hash of the inputs, so the same
// inputs always produce the same outputs.
type Simulated struct {
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Service = (*Simulated)(nil)

// NewSimulated creates a simulated service.
func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		minLatency: defaultSimMinLatency,
		maxLatency: defaultSimMaxLatency,
		rng:        rand.New(rand.NewSource(defaultSimSeed)), //nolint:gosec // latency jitter only
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzePersona derives a persona from punctuation, filler words and line length.
func (s *Simulated) AnalyzePersona(ctx context.Context, transcript string) (out model.PersonaAnalysis, err error) {
	defer func(start time.Time) { err = observe(CapAnalyzePersona, start, err) }(time.Now())

	if strings.TrimSpace(transcript) == "" {
		return out, fmt.Errorf("transcript: %w", ErrEmptyInput)
	}
	if err := s.wait(ctx); err != nil {
		return out, err
	}

	lower := strings.ToLower(transcript)
	words := strings.Fields(lower)
	lines := nonEmptyLines(transcript)
	exclaims := strings.Count(transcript, "!")
	questions := strings.Count(transcript, "?")
	fillers := 0
	for _, f := range fillerWords {
		fillers += countPhrase(lower, f)
	}

	switch {
	case exclaims*4 >= len(lines) && exclaims > 0:
		out.Tone = "enthusiastic"
	case fillers > 0 || strings.Contains(lower, "'"):
		out.Tone = "casual"
	case questions*4 >= len(lines) && questions > 0:
		out.Tone = "inquisitive"
	default:
		out.Tone = "measured"
	}

	avg := 0
	if len(lines) > 0 {
		avg = len(words) / len(lines)
	}
	switch {
	case avg < 8:
		out.Style = "concise"
	case avg < 20:
		out.Style = "conversational"
	default:
		out.Style = "elaborate"
	}

	var quirks []string
	if fillers >= 2 {
		quirks = append(quirks, "frequent filler words")
	}
	if exclaims >= 3 {
		quirks = append(quirks, "lots of exclamations")
	}
	if strings.Contains(transcript, "...") {
		quirks = append(quirks, "trailing ellipses")
	}
	if len(quirks) == 0 {
		out.Quirks = "none noted"
	} else {
		out.Quirks = strings.Join(quirks, ", ")
	}

	out.Personality = simPersonalities[xxhash.Sum64String(lower)%uint64(len(simPersonalities))]
	return out, nil
}

// ProbeModel builds a canned reply that varies by model and question.
func (s *Simulated) ProbeModel(ctx context.Context, modelName, systemPrompt, question string) (reply string, err error) {
	defer func(start time.Time) { err = observe(CapProbeModel, start, err) }(time.Now())

	if strings.TrimSpace(modelName) == "" {
		return "", fmt.Errorf("model name: %w", ErrEmptyInput)
	}
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question: %w", ErrEmptyInput)
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	h := hashOf(modelName, systemPrompt, question)
	opener := simOpeners[h%uint64(len(simOpeners))]
	return fmt.Sprintf("%s %s", opener, strings.TrimSuffix(strings.TrimSpace(question), "?")+", here's my take as "+modelName+"."), nil
}

// JudgeResponse scores deterministically from the inputs, in [0.4, 1].
func (s *Simulated) JudgeResponse(ctx context.Context, systemPrompt, question, response string) (score model.ModelScore, err error) {
	defer func(start time.Time) { err = observe(CapJudgeResponse, start, err) }(time.Now())

	if err := s.wait(ctx); err != nil {
		return score, err
	}
	return scoring.NewScore(
		unitScore(hashOf("tone", systemPrompt, question, response)),
		unitScore(hashOf("style", systemPrompt, question, response)),
		unitScore(hashOf("personality", systemPrompt, question, response)),
	), nil
}

// JudgeComments summarizes the best score.
func (s *Simulated) JudgeComments(ctx context.Context, bestModel string, bestScore model.ModelScore) (text string, err error) {
	defer func(start time.Time) { err = observe(CapJudgeComments, start, err) }(time.Now())

	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"%s matched the persona most closely with an average score of %.2f (tone %.2f, style %.2f, personality %.2f).",
		bestModel, bestScore.AverageScore, bestScore.ToneScore, bestScore.StyleScore, bestScore.PersonalityScore,
	), nil
}

func (s *Simulated) wait(ctx context.Context) error {
	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		s.mu.Lock()
		latency += time.Duration(s.rng.Int63n(int64(span)))
		s.mu.Unlock()
	}
	if latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func hashOf(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

func unitScore(h uint64) float64 {
	const buckets = 1000
	return simScoreFloor + (1-simScoreFloor)*float64(h%(buckets+1))/buckets
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func countPhrase(lower, phrase string) int {
	n := 0
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == '.' || r == ',' || r == '!' || r == '?' || r == '\n' || r == ';'
	}) {
		w = " " + strings.Join(strings.Fields(w), " ") + " "
		n += strings.Count(w, " "+phrase+" ")
	}
	return n
}
