// Package assistant is the port to the language model that answers meeting questions.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kentyler/cogito-sub006/internal/repository"
)

var (
	ErrAssistantTimeout = errors.New("assistant timed out")
	ErrAssistant        = errors.New("assistant failed")
)

// SummaryQuestion asks for a status update of the meeting so far.
const SummaryQuestion = "?"

type Assistant interface {
	Ask(ctx context.Context, question string, contextTurns []repository.Turn) (string, error)
}

// BuildPrompt renders the context turns and the question for a single-shot completion.
func BuildPrompt(botName, question string, contextTurns []repository.Turn) string {
	var b strings.Builder
	transcript := renderTurns(botName, contextTurns)

	if strings.TrimSpace(question) == SummaryQuestion {
		fmt.Fprintf(&b, "You are %s, an assistant providing a meeting status update.\n\n", botName)
		b.WriteString("CONVERSATION TRANSCRIPT:\n")
		b.WriteString(transcript)
		b.WriteString("\nGive a short status update: current topics, decisions made, open questions and suggested next steps. ")
		b.WriteString("If the conversation is just starting, say so briefly.")
		return b.String()
	}

	fmt.Fprintf(&b, "You are %s, an assistant helping participants in a live meeting.\n\n", botName)
	b.WriteString("CONVERSATION TRANSCRIPT:\n")
	b.WriteString(transcript)
	fmt.Fprintf(&b, "\nPARTICIPANT'S QUESTION: %q\n\n", strings.TrimSpace(question))
	b.WriteString("Answer conversationally and concisely. Use the transcript when it is relevant and general knowledge otherwise.")
	return b.String()
}

func renderTurns(botName string, turns []repository.Turn) string {
	if len(turns) == 0 {
		return "(nothing has been said yet)\n"
	}
	var b strings.Builder
	for _, t := range turns {
		speaker := t.SpeakerLabel
		switch {
		case t.SourceType == repository.SourceAssistant:
			speaker = botName
		case speaker == "":
			speaker = "unknown"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.SourceType, speaker, t.Content)
	}
	return b.String()
}
