package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinic-engagement/pkg/config"
	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/repository"
	pkgtask "clinic-engagement/pkg/task"
	"clinic-engagement/pkg/taskname"
	"clinic-engagement/services/campaign"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultDueLimit = 50
	maxRunRetry     = 3
)

var errAlreadyEnqueued = errors.New("occurrence already enqueued")

type DueSource interface {
	DueCampaigns(ctx context.Context, tenantID string, limit int, now time.Time) ([]*campaign.Campaign, error)
}

type CampaignRunner interface {
	Run(ctx context.Context, p campaign.RunParams) (*campaign.RunResult, error)
}

type Service struct {
	node     *snowflake.Node
	jobs     repository.Repository[Job]
	enqueuer pkgtask.Enqueuer
	due      DueSource
	runner   CampaignRunner
	dueLimit int
	now      func() time.Time
}

type Params struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Enqueuer  pkgtask.Enqueuer `optional:"true"`
	Campaigns *campaign.Service
	Runner    *campaign.Runner
	Config    *config.Config
}

func NewService(p Params) *Service {
	limit := defaultDueLimit
	if p.Config != nil && p.Config.Automation.DueLimit > 0 {
		limit = p.Config.Automation.DueLimit
	}
	return &Service{
		node:     p.Node,
		jobs:     repository.ProvideStore[Job](p.DB),
		enqueuer: p.Enqueuer,
		due:      p.Campaigns,
		runner:   p.Runner,
		dueLimit: limit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewCampaignRunTask builds the task for one due occurrence of c. The task id
// is derived from the scheduled time so each occurrence is enqueued once.
func NewCampaignRunTask(c *campaign.Campaign, jobID string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(CampaignRunPayload{TenantID: c.TenantID, CampaignID: c.ID, JobID: jobID})
	if err != nil {
		return nil, nil, err
	}

	var scheduled int64
	if c.NextRunAt != nil {
		scheduled = c.NextRunAt.Unix()
	}
	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("campaign:%s:%d", c.ID, scheduled)),
		asynq.Queue(pkgtask.QueueCampaigns),
		asynq.MaxRetry(maxRunRetry),
	}
	return asynq.NewTask(taskname.CampaignRun, payload), opts, nil
}

// EnqueueDueCampaigns journals and enqueues every campaign due at now across
// all tenants. It returns how many tasks were enqueued.
func (s *Service) EnqueueDueCampaigns(ctx context.Context, now time.Time) (int, error) {
	if s.enqueuer == nil {
		return 0, errors.New("task enqueuer is not configured")
	}

	due, err := s.due.DueCampaigns(ctx, "", s.dueLimit, now)
	if err != nil {
		zap.L().Error("failed to load due campaigns", zap.Error(err))
		return 0, err
	}

	enqueued := 0
	for _, c := range due {
		job := &Job{
			ID:         s.node.Generate().String(),
			TenantID:   c.TenantID,
			CampaignID: c.ID,
			Status:     JobPending,
			CreatedAt:  s.now(),
			UpdatedAt:  s.now(),
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			zap.L().Error("failed to create campaign job", zap.String("campaign_id", c.ID), zap.Error(err))
			return enqueued, err
		}

		t, opts, err := NewCampaignRunTask(c, job.ID)
		if err != nil {
			s.fail(ctx, job.ID, err)
			continue
		}

		_, err = s.enqueuer.Enqueue(ctx, t, opts...)
		switch {
		case errors.Is(err, asynq.ErrTaskIDConflict):
			zap.L().Debug("campaign occurrence already enqueued",
				zap.String("tenant_id", c.TenantID),
				zap.String("campaign_id", c.ID))
			s.fail(ctx, job.ID, errAlreadyEnqueued)
		case err != nil:
			zap.L().Error("failed to enqueue campaign run",
				zap.String("tenant_id", c.TenantID),
				zap.String("campaign_id", c.ID),
				zap.String("job_id", job.ID),
				zap.Error(err))
			s.fail(ctx, job.ID, err)
		default:
			enqueued++
			zap.L().Info("enqueued campaign run",
				zap.String("tenant_id", c.TenantID),
				zap.String("campaign_id", c.ID),
				zap.String("job_id", job.ID))
		}
	}
	return enqueued, nil
}

// HandleCampaignRunTask is the asynq handler for campaign:run. Runs that
// already dispatched are never retried. A campaign paused or rescheduled after
// enqueue fails the job without sending.
func (s *Service) HandleCampaignRunTask(ctx context.Context, t *asynq.Task) error {
	var p CampaignRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid campaign run payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.TenantID == "" || p.CampaignID == "" {
		zap.L().Error("campaign run payload missing ids", zap.String("job_id", p.JobID))
		return fmt.Errorf("tenant_id and campaign_id are required: %w", asynq.SkipRetry)
	}

	started := s.now()
	s.update(ctx, p.JobID, map[string]any{"status": JobRunning, "started_at": started, "error_msg": ""})

	res, err := s.runner.Run(ctx, campaign.RunParams{
		TenantID:   p.TenantID,
		CampaignID: p.CampaignID,
		Source:     campaign.SourceSystemAutomation,
		DueOnly:    true,
	})

	completed := s.now()
	fields := map[string]any{"completed_at": completed}
	if res != nil {
		meta, _ := json.Marshal(map[string]any{
			"run_id":    res.RunID,
			"audience":  res.AudienceCount,
			"attempted": res.Delivery.Attempted,
			"sent":      res.Delivery.Sent,
			"failed":    res.Delivery.Failed,
			"skipped":   res.Delivery.Skipped,
		})
		fields["metadata"] = datatypes.JSON(meta)
	}

	if err != nil {
		fields["status"] = JobFailed
		fields["error_msg"] = err.Error()
		s.update(ctx, p.JobID, fields)
		zap.L().Error("campaign run task failed",
			zap.String("tenant_id", p.TenantID),
			zap.String("campaign_id", p.CampaignID),
			zap.String("job_id", p.JobID),
			zap.Error(err))
		if res != nil || errutil.Is(err, errutil.StatusNotFound) || errutil.Is(err, errutil.StatusValidationFailed) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	fields["status"] = JobSuccess
	s.update(ctx, p.JobID, fields)
	zap.L().Info("campaign run task finished",
		zap.String("tenant_id", p.TenantID),
		zap.String("campaign_id", p.CampaignID),
		zap.String("job_id", p.JobID),
		zap.String("run_id", res.RunID),
		zap.Duration("duration", completed.Sub(started)))
	return nil
}

// Register binds the handlers on mux.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.CampaignRun, s.HandleCampaignRunTask)
}

func (s *Service) fail(ctx context.Context, jobID string, err error) {
	s.update(ctx, jobID, map[string]any{
		"status":       JobFailed,
		"error_msg":    err.Error(),
		"completed_at": s.now(),
	})
}

// update writes journal fields. The journal is best effort and a missing row
// never fails the run.
func (s *Service) update(ctx context.Context, jobID string, fields map[string]any) {
	if jobID == "" {
		return
	}
	fields["updated_at"] = s.now()
	if err := s.jobs.Update(ctx, jobID, fields); err != nil {
		zap.L().Warn("failed to update campaign job", zap.String("job_id", jobID), zap.Error(err))
	}
}
