package bootstrap

import (
	"context"

	"clinic-engagement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("bootstrap",
	fx.Provide(
		NewService,
	),
	fx.Invoke(runBootstrap),
)

// Run after DB initialized
func runBootstrap(lc fx.Lifecycle, b *Service, cfg *config.Config) {
	if !cfg.Database.AutoMigrate {
		zap.L().Info("[bootstrap] DATABASE.AUTO_MIGRATE disabled, skipping schema sync")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Migrate(ctx)
		},
	})
}
