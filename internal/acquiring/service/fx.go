package service

import "go.uber.org/fx"

var Module = fx.Module("acquiring.service",
	fx.Provide(NewService),
)
