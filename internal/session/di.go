package session

import (
	"time"

	"github.com/kentyler/cogito-sub006/internal/command"
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/ingest"
	"github.com/kentyler/cogito-sub006/internal/lifecycle"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		lc := do.MustInvoke[*lifecycle.Manager](i)
		processor := do.MustInvoke[*command.Processor](i)
		wh := do.MustInvoke[webhook.Sender](i)
		m := do.MustInvoke[*metrics.Metrics](i)

		loc, err := time.LoadLocation(cfg.TranscriptTimezone)
		if err != nil {
			return nil, err
		}
		manager := NewManager(repo, lc, processor, wh, m, Options{
			QueueSize:    cfg.WorkerQueueSize,
			Timezone:     cfg.TranscriptTimezone,
			Location:     loc,
			IngestConfig: ingest.DefaultOptions(),
		})
		lc.AddListener(manager.OnTransition)
		return manager, nil
	})
}
