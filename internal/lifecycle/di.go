package lifecycle

import (
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/notify"
	"github.com/kentyler/cogito-sub006/internal/provider"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		pc := do.MustInvoke[provider.Client](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewManager(repo, pc, m, Options{
			BotName:     cfg.BotName,
			JoinMessage: cfg.BotJoinMessage,
			StreamURL:   cfg.StreamURL(),
			WebhookURL:  cfg.WebhookURL(),
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (*Sweeper, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*Manager](i)
		notifier := do.MustInvoke[notify.Notifier](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewSweeper(manager, notifier, m, SweeperOptions{
			Threshold:          cfg.StuckThreshold,
			Interval:           cfg.StuckSweepInterval,
			AutoComplete:       cfg.StuckAutoComplete,
			MaxMeetingDuration: cfg.MaxMeetingDuration,
		}), nil
	})
}
