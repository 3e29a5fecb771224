package audit

import "go.uber.org/fx"

var Module = fx.Module("audit.service",
	fx.Provide(
		NewService,
		func(s *Service) Recorder { return s },
	),
)
