package dedupe

import (
	"context"
	"time"

	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/events"
	"github.com/samber/do/v2"
)

const redisInitTimeout = 5 * time.Second

// RegisterDI provides the shared guard only when REDIS_URL is set.
func RegisterDI(injector do.Injector) {
	cfg := do.MustInvoke[*config.Config](injector)
	if cfg.RedisURL == "" {
		return
	}
	do.Provide(injector, func(i do.Injector) (events.Deduper, error) {
		ctx, cancel := context.WithTimeout(context.Background(), redisInitTimeout)
		defer cancel()
		client, err := Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisDeduper(client, cfg.WebhookDedupeTTL), nil
	})
}
