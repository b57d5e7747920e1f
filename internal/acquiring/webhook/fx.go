package webhook

import "go.uber.org/fx"

var Module = fx.Module("acquiring.webhook",
	fx.Provide(NewService),
)
