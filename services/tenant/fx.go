package tenant

import "go.uber.org/fx"

var Module = fx.Module("tenant.module",
	fx.Provide(
		NewService,
		func(s *Service) Directory { return s },
	),
)
