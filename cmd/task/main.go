package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"clinic-engagement/pkg/config"
	"clinic-engagement/pkg/db"
	"clinic-engagement/pkg/featureflags"
	"clinic-engagement/pkg/gen"
	"clinic-engagement/pkg/logger"
	"clinic-engagement/pkg/notifier"
	"clinic-engagement/pkg/otelcol"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/pkg/profiling"
	"clinic-engagement/pkg/redis"
	"clinic-engagement/pkg/secretmanager"
	"clinic-engagement/pkg/sequence"
	pkgtask "clinic-engagement/pkg/task"
	"clinic-engagement/services/audience"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/campaign"
	"clinic-engagement/services/catalog"
	"clinic-engagement/services/delivery"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"
	"clinic-engagement/services/task"
	"clinic-engagement/services/tenant"
)

// The worker polls for due campaigns, enqueues one asynq task per
// occurrence and executes them.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		policy.Module,
		featureflags.Module,
		notifier.Module,
		pkgtask.Client,
		pkgtask.Server,

		ledger.Module,
		catalog.Module,
		tenant.Module,
		audit.Module,
		membership.Module,
		audience.Module,
		delivery.Module,
		campaign.Module,

		task.Module,
		task.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
