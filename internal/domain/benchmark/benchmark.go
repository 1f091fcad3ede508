// Package benchmark holds the fixed probe questions every candidate model
// answers under the generated system prompt.
package benchmark

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidQuestions is returned for an unusable question file.
var ErrInvalidQuestions = errors.New("invalid benchmark questions")

// defaultQuestions span small talk, opinion, advice, emotion and
// explanation so tone, style and personality all get exercised.
var defaultQuestions = []string{ //nolint:gochecknoglobals // read-only defaults, copied on access
	"How was your weekend?",
	"What do you think about working from home?",
	"Can you explain how you'd plan a trip to a city you've never visited?",
	"A friend just told you they lost their job. What do you say to them?",
	"What's something you changed your mind about recently?",
}

// Set is an ordered list of benchmark questions.
type Set struct {
	questions []string
}

// Default returns the built-in question set.
func Default() Set {
	return Set{questions: append([]string(nil), defaultQuestions...)}
}

// New builds a set from questions, trimming whitespace. Empty or duplicate
// questions are rejected.
func New(questions []string) (Set, error) {
	if len(questions) == 0 {
		return Set{}, fmt.Errorf("%w: no questions", ErrInvalidQuestions)
	}
	seen := make(map[string]struct{}, len(questions))
	out := make([]string, 0, len(questions))
	for i, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			return Set{}, fmt.Errorf("%w: question %d is empty", ErrInvalidQuestions, i+1)
		}
		if _, dup := seen[q]; dup {
			return Set{}, fmt.Errorf("%w: duplicate question %q", ErrInvalidQuestions, q)
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return Set{questions: out}, nil
}

// fileFormat is the YAML shape of a question file:
//
//	questions:
//	  - How was your weekend?
//	  - ...
type fileFormat struct {
	Questions []string `yaml:"questions"`
}

// LoadFile reads a YAML question file.
func LoadFile(path string) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read benchmark questions: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Set{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidQuestions, path, err)
	}
	return New(f.Questions)
}

// Load returns the questions from path, or the default set when path is empty.
func Load(path string) (Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Questions returns a copy of the questions in benchmark order.
func (s Set) Questions() []string {
	return append([]string(nil), s.questions...)
}

// Len returns the number of questions.
func (s Set) Len() int {
	return len(s.questions)
}
