package assistant

import (
	"strings"
	"testing"

	"github.com/kentyler/cogito-sub006/internal/repository"
)

func TestBuildPrompt_Question(t *testing.T) {
	turns := []repository.Turn{
		{Sequence: 1, SourceType: repository.SourceTranscript, SpeakerLabel: "Ada", Content: "we ship friday"},
		{Sequence: 2, SourceType: repository.SourceAssistant, SpeakerLabel: "ignored", Content: "noted"},
	}
	prompt := BuildPrompt("Cogito", "  what's our status? ", turns)

	for _, want := range []string{
		"You are Cogito",
		"[transcript] Ada: we ship friday",
		"[assistant] Cogito: noted",
		`PARTICIPANT'S QUESTION: "what's our status?"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildPrompt_Summary(t *testing.T) {
	prompt := BuildPrompt("Cogito", "?", nil)
	if !strings.Contains(prompt, "status update") {
		t.Fatalf("expected summary prompt, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "PARTICIPANT'S QUESTION") {
		t.Fatalf("summary prompt must not quote a question:\n%s", prompt)
	}
	if !strings.Contains(prompt, "nothing has been said yet") {
		t.Fatalf("expected empty transcript marker:\n%s", prompt)
	}
}
