package recall

import (
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/provider"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (provider.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewClient(c.RecallAPIBaseURL, c.RecallAPIKey), nil
	})
}
