package llm

import (
	"fmt"
	"strings"

	"github.com/okian/mimic/internal/domain/model"
)

const analysisSystemPrompt = `You analyze how a person communicates.
Read the transcript and describe the speaker. Respond with JSON only:
{"tone": "...", "style": "...", "quirks": "...", "personality": "..."}
Each value is a short phrase. Do not include any other keys.`

const judgeSystemPrompt = `You grade how faithfully a reply imitates a persona.
The persona is defined by the system prompt you are given. Score the reply on
tone, style and personality, each between 0 and 1. Respond with JSON only:
{"toneScore": 0.0, "styleScore": 0.0, "personalityScore": 0.0}`

const commentsSystemPrompt = `You summarize benchmark results for a persona
imitation test in two or three plain sentences. Do not use lists.`

func analysisUserPrompt(transcript string) string {
	return "Transcript:\n" + strings.TrimSpace(transcript)
}

func judgeUserPrompt(systemPrompt, question, response string) string {
	var b strings.Builder
	b.WriteString("Persona system prompt:\n")
	b.WriteString(strings.TrimSpace(systemPrompt))
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nReply to grade:\n")
	b.WriteString(strings.TrimSpace(response))
	return b.String()
}

func commentsUserPrompt(bestModel string, s model.ModelScore) string {
	return fmt.Sprintf(
		"Best model: %s\nTone: %.2f\nStyle: %.2f\nPersonality: %.2f\nAverage: %.2f\nExplain why this model imitated the persona best.",
		bestModel, s.ToneScore, s.StyleScore, s.PersonalityScore, s.AverageScore,
	)
}
