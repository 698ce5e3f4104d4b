package assistant

import (
	"context"

	"github.com/kentyler/cogito-sub006/internal/assistant"
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (assistant.Assistant, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewGemini(context.Background(), c.GeminiAPIKey, c.GeminiModel, c.BotName)
	})
}
