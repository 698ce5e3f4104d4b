package command

import (
	"github.com/kentyler/cogito-sub006/internal/assistant"
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/provider"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Processor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		a := do.MustInvoke[assistant.Assistant](i)
		pc := do.MustInvoke[provider.Client](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewProcessor(repo, a, pc, m, Options{
			BotName:      cfg.BotName,
			Timeout:      cfg.AssistantTimeout,
			ContextTurns: cfg.AssistantContextTurns,
		}), nil
	})
}
