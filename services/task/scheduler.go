package task

import (
	"context"
	"time"

	"clinic-engagement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Minute

type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	interval := defaultPollInterval
	if cfg != nil && cfg.Automation.PollInterval > 0 {
		interval = cfg.Automation.PollInterval
	}
	return &Scheduler{service: svc, interval: interval}
}

// StartScheduler runs the poll loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

// Run enqueues due campaigns every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	zap.L().Info("[Scheduler] started campaign scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	n, err := s.service.EnqueueDueCampaigns(ctx, s.service.now())
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue due campaigns", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("[Scheduler] enqueued due campaigns",
			zap.Int("count", n),
			zap.Duration("duration", time.Since(start)))
	}
}
