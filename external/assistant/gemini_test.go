package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kentyler/cogito-sub006/internal/assistant"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	prompt string
	model  string
	text   string
	err    error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.text == "block" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestAsk_SendsPromptWithContext(t *testing.T) {
	gen := &fakeGenerator{text: " The team agreed to ship Friday. "}
	g := &Gemini{models: gen, model: "gemini-test", botName: "Cogito"}

	answer, err := g.Ask(context.Background(), "what did we decide?", []repository.Turn{
		{Sequence: 1, SourceType: repository.SourceTranscript, SpeakerLabel: "Alice", Content: "let's ship Friday"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "The team agreed to ship Friday." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if gen.model != "gemini-test" {
		t.Fatalf("unexpected model: %s", gen.model)
	}
	if !strings.Contains(gen.prompt, "let's ship Friday") || !strings.Contains(gen.prompt, "what did we decide?") {
		t.Fatalf("prompt missing context or question: %s", gen.prompt)
	}
}

func TestAsk_EmptyResponseIsError(t *testing.T) {
	g := &Gemini{models: &fakeGenerator{text: ""}, model: "m", botName: "Cogito"}
	if _, err := g.Ask(context.Background(), "?", nil); !errors.Is(err, assistant.ErrAssistant) {
		t.Fatalf("expected ErrAssistant, got %v", err)
	}
}

func TestAsk_UpstreamErrorIsClassified(t *testing.T) {
	g := &Gemini{models: &fakeGenerator{err: errors.New("quota exceeded")}, model: "m", botName: "Cogito"}
	if _, err := g.Ask(context.Background(), "?", nil); !errors.Is(err, assistant.ErrAssistant) {
		t.Fatalf("expected ErrAssistant, got %v", err)
	}
}

func TestAsk_DeadlineIsTimeout(t *testing.T) {
	g := &Gemini{models: &fakeGenerator{text: "block"}, model: "m", botName: "Cogito"}
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	if _, err := g.Ask(ctx, "?", nil); !errors.Is(err, assistant.ErrAssistantTimeout) {
		t.Fatalf("expected ErrAssistantTimeout, got %v", err)
	}
}
