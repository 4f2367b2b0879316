package notification

import (
	"github.com/stashworks/jobhub/internal/config"
	"go.uber.org/fx"
)

func newMailer(cfg config.Config) Mailer {
	return NewSMTP(cfg.Email)
}

var Module = fx.Module("notification",
	fx.Provide(NewRegistry),
	fx.Provide(newMailer),
	fx.Provide(NewService),
)
