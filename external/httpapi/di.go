package httpapi

import (
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/events"
	"github.com/kentyler/cogito-sub006/internal/lifecycle"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		router := do.MustInvoke[*events.Router](i)
		lc := do.MustInvoke[*lifecycle.Manager](i)
		repo := do.MustInvoke[repository.Repository](i)
		reg := do.MustInvoke[*prometheus.Registry](i)
		sessions := do.MustInvoke[*session.Manager](i)
		return NewServer(router, lc, repo, reg, Options{
			Addr:           cfg.HTTPAddr,
			AdminToken:     cfg.AdminToken,
			StuckThreshold: cfg.StuckThreshold,
			ActiveWorkers:  sessions.ActiveWorkers,
		}), nil
	})
}
