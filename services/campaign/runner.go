package campaign

import (
	"context"
	"strings"
	"time"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/services/audience"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/delivery"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/tenant"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	SourceManual           = "manual"
	SourceSystemAutomation = "system_automation"
)

var tracer = otel.Tracer("clinic-engagement/services/campaign")

type Resolver interface {
	Resolve(ctx context.Context, tenantID, trigger string, now time.Time) ([]audience.Profile, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job delivery.Job, recipients []audience.Profile) (delivery.Summary, error)
}

type EventRecorder interface {
	Record(ctx context.Context, p ledger.RecordParams) (string, error)
}

// Runner executes campaigns end to end. A started run is never cancelled.
type Runner struct {
	campaigns  *Service
	tenants    tenant.Directory
	resolver   Resolver
	dispatcher Dispatcher
	events     EventRecorder
	audit      audit.Recorder
	now        func() time.Time
}

type RunnerParams struct {
	fx.In
	Campaigns  *Service
	Tenants    tenant.Directory
	Resolver   *audience.Resolver
	Dispatcher *delivery.Dispatcher
	Events     *ledger.Service
	Audit      audit.Recorder
}

func NewRunner(p RunnerParams) *Runner {
	return &Runner{
		campaigns:  p.Campaigns,
		tenants:    p.Tenants,
		resolver:   p.Resolver,
		dispatcher: p.Dispatcher,
		events:     p.Events,
		audit:      p.Audit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run resolves, filters and dispatches one campaign, then records the run.
// When some deliveries could not be stored the run is still recorded and the
// storage error is returned alongside the result.
func (r *Runner) Run(ctx context.Context, p RunParams) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "campaign.run", trace.WithAttributes(
		attribute.String("tenant_id", p.TenantID),
		attribute.String("campaign_id", p.CampaignID),
	))
	defer span.End()

	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = SourceManual
	}

	t, err := r.tenants.Get(ctx, p.TenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	c, err := r.campaigns.Get(ctx, p.TenantID, p.CampaignID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := r.now()
	if p.DueOnly && !c.IsDue(now) {
		err := errutil.ValidationFailed("campaign is no longer due", nil)
		span.RecordError(err)
		zap.L().Info("skipped campaign that is no longer due",
			zap.String("tenant_id", c.TenantID),
			zap.String("campaign_id", c.ID),
			zap.String("status", string(c.Status)))
		return nil, err
	}
	runID := uuid.NewString()
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("trigger_type", string(c.TriggerType)))

	profiles, err := r.resolver.Resolve(ctx, c.TenantID, string(c.TriggerType), now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	profiles, err = audience.Filter(profiles, c.AudienceFilter, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summary, dispatchErr := r.dispatcher.Dispatch(ctx, delivery.Job{
		TenantID:      c.TenantID,
		CampaignID:    c.ID,
		RunID:         runID,
		Channel:       c.Channel,
		TriggerType:   string(c.TriggerType),
		TemplateTitle: c.TemplateTitle,
		TemplateBody:  c.TemplateBody,
		ClinicName:    t.Name,
	}, profiles)
	if dispatchErr != nil {
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, "delivery storage failed")
	}

	updated, err := r.campaigns.MarkRun(ctx, c.TenantID, c.ID, summary.Attempted, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.recordEvent(ctx, ledger.RecordParams{
		TenantID:  c.TenantID,
		Kind:      string(ledger.KindCampaignRun),
		ActorID:   p.ActorID,
		SubjectID: c.ID,
		Source:    source,
		Metadata: ledger.Metadata{
			"campaignId":  c.ID,
			"runId":       runID,
			"triggerType": string(c.TriggerType),
			"channel":     string(c.Channel),
			"audience":    len(profiles),
			"attempted":   summary.Attempted,
			"sent":        summary.Sent,
			"failed":      summary.Failed,
			"skipped":     summary.Skipped,
		},
	})
	if summary.Sent > 0 {
		r.recordEvent(ctx, ledger.RecordParams{
			TenantID:  c.TenantID,
			Kind:      string(ledger.KindCampaignDelivery),
			ActorID:   p.ActorID,
			SubjectID: c.ID,
			Source:    source,
			Metadata: ledger.Metadata{
				"campaignId":  c.ID,
				"runId":       runID,
				"triggerType": string(c.TriggerType),
				"channel":     string(c.Channel),
				"sent":        summary.Sent,
			},
		})
	}

	if r.audit != nil {
		if err := r.audit.Record(ctx, audit.Entry{
			TenantID:   c.TenantID,
			ActorID:    p.ActorID,
			Action:     audit.ActionCampaignRun,
			EntityType: "campaign",
			EntityID:   c.ID,
			Metadata: map[string]any{
				"run_id":    runID,
				"source":    source,
				"attempted": summary.Attempted,
				"sent":      summary.Sent,
				"failed":    summary.Failed,
				"skipped":   summary.Skipped,
			},
		}); err != nil {
			zap.L().Warn("campaign run audit entry dropped", zap.String("campaign_id", c.ID), zap.Error(err))
		}
	}

	span.SetAttributes(
		attribute.Int("audience", len(profiles)),
		attribute.Int("sent", summary.Sent),
		attribute.Int("failed", summary.Failed),
		attribute.Int("skipped", summary.Skipped),
	)
	zap.L().Info("campaign run completed",
		zap.String("tenant_id", c.TenantID),
		zap.String("campaign_id", c.ID),
		zap.String("run_id", runID),
		zap.String("source", source),
		zap.Int("audience", len(profiles)))

	return &RunResult{
		Campaign:      updated,
		RunID:         runID,
		ExecutedAt:    now,
		AudienceCount: len(profiles),
		Delivery:      summary,
	}, dispatchErr
}

// RunDue runs every due campaign sequentially. Campaigns that fail before
// dispatch are logged and left out of the results.
func (r *Runner) RunDue(ctx context.Context, tenantID string, limit int, actorID, source string) ([]RunResult, error) {
	due, err := r.campaigns.DueCampaigns(ctx, tenantID, limit, r.now())
	if err != nil {
		return nil, err
	}

	results := make([]RunResult, 0, len(due))
	for _, c := range due {
		res, err := r.Run(ctx, RunParams{TenantID: c.TenantID, CampaignID: c.ID, ActorID: actorID, Source: source, DueOnly: true})
		if err != nil {
			zap.L().Error("due campaign run failed",
				zap.String("tenant_id", c.TenantID),
				zap.String("campaign_id", c.ID),
				zap.Error(err))
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

func (r *Runner) recordEvent(ctx context.Context, p ledger.RecordParams) {
	if r.events == nil {
		return
	}
	if _, err := r.events.Record(ctx, p); err != nil {
		zap.L().Warn("campaign ledger event dropped",
			zap.String("tenant_id", p.TenantID),
			zap.String("kind", p.Kind),
			zap.Error(err))
	}
}
