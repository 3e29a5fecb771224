package task

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(NewService),
)

// Worker registers the handlers and starts the scheduler loop.
var Worker = fx.Module("task.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(
		func(mux *asynq.ServeMux, s *Service) { s.Register(mux) },
		StartScheduler,
	),
)
