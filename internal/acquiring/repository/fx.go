package repository

import "go.uber.org/fx"

var Module = fx.Module("acquiring.repository",
	fx.Provide(
		ProvidePayments,
		ProvideCredentials,
		ProvidePartners,
	),
)
