package events

import (
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/lifecycle"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/session"
	"github.com/samber/do/v2"
)

// RegisterDI falls back to the in-memory guard when no Deduper was provided.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Router, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		lc := do.MustInvoke[*lifecycle.Manager](i)
		sessions := do.MustInvoke[*session.Manager](i)
		m := do.MustInvoke[*metrics.Metrics](i)

		d, err := do.Invoke[Deduper](i)
		if err != nil {
			d = NewMemoryDeduper(cfg.WebhookDedupeTTL, cfg.WebhookDedupeMax)
		}
		return NewRouter(repo, lc, sessions, d, m, Options{
			BotName:          cfg.BotName,
			StreamCloseGrace: cfg.StreamCloseGrace,
		}), nil
	})
}
