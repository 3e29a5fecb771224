package campaign

import "go.uber.org/fx"

var Module = fx.Module("campaign.module",
	fx.Provide(
		NewService,
		NewRunner,
	),
)
