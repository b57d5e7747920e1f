package credential

import "go.uber.org/fx"

var Module = fx.Module("acquiring.credential",
	fx.Provide(NewResolver),
)
