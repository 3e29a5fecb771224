package delivery

import "go.uber.org/fx"

var Module = fx.Module("delivery.dispatcher",
	fx.Provide(NewDispatcher),
)
