// Package prompt turns a persona analysis into the system prompt used to
// condition candidate models. Everything here is pure: the same analysis and
// examples always produce the same bytes.
package prompt

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasttemplate"

	"github.com/okian/mimic/internal/domain/model"
)

const (
	startTag = "{{"
	endTag   = "}}"

	// MaxExcerptRunes caps the length of a single transcript excerpt.
	MaxExcerptRunes = 280
)

const systemTemplate = `You are role-playing a specific person. Reply exactly the way they would.

# COMMUNICATION STYLE
- Tone: {{tone}}
- Style: {{style}}
- Quirks: {{quirks}}
- Personality: {{personality}}

# GUIDELINES
- Stay in character at all times and answer in the first person.
- Match the tone and style above in every reply, including sentence length and vocabulary.
- Let the quirks show naturally; do not exaggerate them into parody.
- Never mention that you are an AI, a model, or that you are following instructions.{{examples}}`

var tmpl = fasttemplate.New(systemTemplate, startTag, endTag) //nolint:gochecknoglobals // parsed once, read-only

// Generate renders the system prompt for analysis. examples, when present,
// are appended verbatim as illustrative lines in the given order.
func Generate(analysis model.PersonaAnalysis, examples []string) string {
	return tmpl.ExecuteString(map[string]any{
		"tone":        orUnspecified(analysis.Tone),
		"style":       orUnspecified(analysis.Style),
		"quirks":      orUnspecified(analysis.Quirks),
		"personality": orUnspecified(analysis.Personality),
		"examples":    renderExamples(examples),
	})
}

func renderExamples(examples []string) string {
	var lines []string
	for _, ex := range examples {
		if ex = strings.TrimSpace(ex); ex != "" {
			lines = append(lines, "- \""+ex+"\"")
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\n# EXAMPLES OF HOW THEY TALK\n" + strings.Join(lines, "\n")
}

func orUnspecified(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "unspecified"
	}
	return s
}

// Excerpts picks up to n representative lines from transcript: the longest
// distinct non-empty lines, returned in the order they first appear. Lines
// longer than MaxExcerptRunes are cut. n <= 0 returns nil.
func Excerpts(transcript string, n int) []string {
	if n <= 0 {
		return nil
	}
	type line struct {
		text  string
		order int
	}
	seen := make(map[string]struct{})
	var lines []line
	for _, raw := range strings.Split(transcript, "\n") {
		text := strings.Join(strings.Fields(raw), " ")
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		lines = append(lines, line{text: truncate(text, MaxExcerptRunes), order: len(lines)})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return utf8.RuneCountInString(lines[i].text) > utf8.RuneCountInString(lines[j].text)
	})
	if len(lines) > n {
		lines = lines[:n]
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].order < lines[j].order })

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text
	}
	return out
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
