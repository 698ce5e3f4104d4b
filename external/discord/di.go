package discord

import (
	"log/slog"

	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/notify"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (notify.Notifier, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.DiscordToken == "" {
			slog.Info("discord alerts disabled")
			return notify.Nop(), nil
		}
		return NewNotifier(c.DiscordToken, c.DiscordAlertChannelID)
	})
}
