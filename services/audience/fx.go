package audience

import "go.uber.org/fx"

var Module = fx.Module("audience.resolver",
	fx.Provide(NewResolver),
)
