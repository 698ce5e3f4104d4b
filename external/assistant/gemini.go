package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kentyler/cogito-sub006/internal/assistant"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"google.golang.org/genai"
)

const maxOutputTokens = 1024

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gemini struct {
	models  generator
	model   string
	botName string
}

func NewGemini(ctx context.Context, apiKey, model, botName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{models: client.Models, model: model, botName: botName}, nil
}

func (g *Gemini) Ask(ctx context.Context, question string, contextTurns []repository.Turn) (string, error) {
	prompt := assistant.BuildPrompt(g.botName, question, contextTurns)
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: maxOutputTokens,
		Temperature:     genai.Ptr[float32](0.4),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", assistant.ErrAssistantTimeout, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", assistant.ErrAssistant, err)
	}
	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("%w: model %s returned no text", assistant.ErrAssistant, g.model)
	}
	return answer, nil
}
