package campaign

import (
	"context"
	"sort"
	"strings"
	"time"

	"clinic-engagement/pkg/db/option"
	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/pkg/repository"
	"clinic-engagement/pkg/sequence"
	"clinic-engagement/pkg/util"
	"clinic-engagement/services/audience"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/delivery"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New()

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	seq       sequence.Generator
	campaigns repository.Repository[Campaign]
	audit     audit.Recorder
	policy    policy.Policy
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Seq    sequence.Generator
	Audit  audit.Recorder
	Policy policy.Policy
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		campaigns: repository.ProvideStore[Campaign](p.DB),
		audit:     p.Audit,
		policy:    p.Policy,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ComputeNextRun schedules the following run of a recurring trigger.
// Broadcasts are never rescheduled.
func ComputeNextRun(trigger audience.Trigger, now time.Time, pol policy.Policy) *time.Time {
	var next time.Time
	switch trigger {
	case audience.TriggerBroadcast:
		return nil
	case audience.TriggerAbandonedCart24h:
		next = now.Add(pol.CartRunInterval)
	default:
		next = now.Add(pol.RecurringRunInterval)
	}
	return &next
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Campaign, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.AudienceFilter = strings.TrimSpace(p.AudienceFilter)
	if err := validate.Struct(p); err != nil {
		return nil, errutil.FromValidation(err)
	}

	trigger, err := parseTrigger(orDefault(p.TriggerType, string(audience.TriggerBroadcast)))
	if err != nil {
		return nil, err
	}
	channel, err := parseChannel(orDefault(p.Channel, string(delivery.ChannelInApp)))
	if err != nil {
		return nil, err
	}
	status, ok := ParseStatus(orDefault(p.Status, string(CampaignStatusDraft)))
	if !ok || status == CampaignStatusPaused {
		return nil, errutil.ValidationFailed("status must be draft or active", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: p.Status}))
	}
	if err := audience.ValidateFilter(p.AudienceFilter); err != nil {
		return nil, err
	}

	code, err := s.seq.NextCampaignCode(ctx, p.TenantID)
	if err != nil {
		zap.L().Error("failed to allocate campaign code", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return nil, err
	}

	now := s.now()
	c := &Campaign{
		ID:             s.node.Generate().String(),
		TenantID:       p.TenantID,
		Code:           code,
		Name:           p.Name,
		TriggerType:    trigger,
		Channel:        channel,
		Status:         status,
		TemplateTitle:  util.Truncate(strings.TrimSpace(p.TemplateTitle), maxTitleLen),
		TemplateBody:   util.Truncate(strings.TrimSpace(p.TemplateBody), maxBodyLen),
		PointsBonus:    clampBonus(p.PointsBonus),
		AudienceFilter: p.AudienceFilter,
		CreatedBy:      p.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == CampaignStatusActive && trigger.Recurring() {
		c.NextRunAt = &now
	}

	if err := s.campaigns.Create(ctx, c); err != nil {
		zap.L().Error("failed to create campaign", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return nil, err
	}

	s.record(ctx, c, p.ActorID, audit.ActionCampaignCreated, map[string]any{
		"code":         c.Code,
		"trigger_type": c.TriggerType,
		"channel":      c.Channel,
		"status":       c.Status,
	})
	return c, nil
}

func (s *Service) Update(ctx context.Context, p UpdateParams) (*Campaign, error) {
	if err := validate.Struct(p); err != nil {
		return nil, errutil.FromValidation(err)
	}

	c, err := s.Get(ctx, p.TenantID, p.CampaignID)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if n := len([]rune(name)); n < minNameLen || n > maxNameLen {
			return nil, errutil.ValidationFailed("name must be between 2 and 120 characters", nil,
				errutil.WithDetails(errutil.Detail{Field: "name", Message: "length"}))
		}
		c.Name = name
		changes["name"] = name
	}
	if p.TriggerType != nil {
		trigger, err := parseTrigger(*p.TriggerType)
		if err != nil {
			return nil, err
		}
		c.TriggerType = trigger
		changes["trigger_type"] = trigger
		switch {
		case !trigger.Recurring():
			c.NextRunAt = nil
			changes["next_run_at"] = nil
		case c.Status == CampaignStatusActive && c.NextRunAt == nil:
			now := s.now()
			c.NextRunAt = &now
			changes["next_run_at"] = now
		}
	}
	if p.Channel != nil {
		channel, err := parseChannel(*p.Channel)
		if err != nil {
			return nil, err
		}
		c.Channel = channel
		changes["channel"] = channel
	}
	if p.TemplateTitle != nil {
		c.TemplateTitle = util.Truncate(strings.TrimSpace(*p.TemplateTitle), maxTitleLen)
		changes["template_title"] = c.TemplateTitle
	}
	if p.TemplateBody != nil {
		c.TemplateBody = util.Truncate(strings.TrimSpace(*p.TemplateBody), maxBodyLen)
		changes["template_body"] = c.TemplateBody
	}
	if p.PointsBonus != nil {
		c.PointsBonus = clampBonus(*p.PointsBonus)
		changes["points_bonus"] = c.PointsBonus
	}
	if p.AudienceFilter != nil {
		filter := strings.TrimSpace(*p.AudienceFilter)
		if len(filter) > maxFilterLen {
			return nil, errutil.ValidationFailed("audience filter is too long", nil)
		}
		if err := audience.ValidateFilter(filter); err != nil {
			return nil, err
		}
		c.AudienceFilter = filter
		changes["audience_filter"] = filter
	}
	if len(changes) == 0 {
		return c, nil
	}

	c.UpdatedAt = s.now()
	changes["updated_at"] = c.UpdatedAt
	if err := s.campaigns.Update(ctx, c.ID, changes); err != nil {
		zap.L().Error("failed to update campaign", zap.String("tenant_id", p.TenantID), zap.String("campaign_id", c.ID), zap.Error(err))
		return nil, err
	}

	fields := make([]string, 0, len(changes))
	for k := range changes {
		if k != "updated_at" {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	s.record(ctx, c, p.ActorID, audit.ActionCampaignUpdated, map[string]any{"fields": fields})
	return c, nil
}

func (s *Service) Get(ctx context.Context, tenantID, campaignID string) (*Campaign, error) {
	if tenantID == "" || campaignID == "" {
		return nil, errutil.ValidationFailed("tenant_id and campaign_id are required", nil)
	}
	c, err := s.campaigns.FindOne(ctx, &Campaign{TenantID: tenantID, ID: campaignID})
	if err != nil {
		zap.L().Error("failed to load campaign", zap.String("tenant_id", tenantID), zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*Campaign, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.campaigns.Find(ctx, &Campaign{TenantID: tenantID},
		option.WithOrder("created_at DESC", "id DESC"),
		option.WithLimit(limit),
	)
}

func (s *Service) Pause(ctx context.Context, tenantID, campaignID, actorID string) (*Campaign, error) {
	c, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != CampaignStatusActive {
		return nil, errutil.ValidationFailed("only active campaigns can be paused", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(c.Status)}))
	}

	c.Status = CampaignStatusPaused
	c.UpdatedAt = s.now()
	if err := s.campaigns.Update(ctx, c.ID, map[string]any{"status": c.Status, "updated_at": c.UpdatedAt}); err != nil {
		zap.L().Error("failed to pause campaign", zap.String("tenant_id", tenantID), zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}

	s.record(ctx, c, actorID, audit.ActionCampaignPaused, nil)
	return c, nil
}

func (s *Service) Resume(ctx context.Context, tenantID, campaignID, actorID string) (*Campaign, error) {
	c, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != CampaignStatusPaused && c.Status != CampaignStatusDraft {
		return nil, errutil.ValidationFailed("only paused or draft campaigns can be resumed", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(c.Status)}))
	}

	now := s.now()
	changes := map[string]any{"status": CampaignStatusActive, "updated_at": now}
	c.Status = CampaignStatusActive
	c.UpdatedAt = now
	if c.NextRunAt == nil && c.TriggerType.Recurring() {
		c.NextRunAt = &now
		changes["next_run_at"] = now
	}
	if err := s.campaigns.Update(ctx, c.ID, changes); err != nil {
		zap.L().Error("failed to resume campaign", zap.String("tenant_id", tenantID), zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}

	s.record(ctx, c, actorID, audit.ActionCampaignResumed, nil)
	return c, nil
}

// DueCampaigns returns active campaigns whose next run is at or before now,
// oldest first. An empty tenantID selects across all tenants.
func (s *Service) DueCampaigns(ctx context.Context, tenantID string, limit int, now time.Time) ([]*Campaign, error) {
	if limit <= 0 {
		limit = defaultDueLimit
	}
	if limit > maxDueLimit {
		limit = maxDueLimit
	}

	rows, err := s.campaigns.Find(ctx, &Campaign{TenantID: tenantID, Status: CampaignStatusActive},
		option.ApplyOperator(option.Condition{Field: "next_run_at", Operator: option.LTE, Value: now.UTC()}),
		option.WithOrder("next_run_at ASC", "id ASC"),
		option.WithLimit(limit),
	)
	if err != nil {
		zap.L().Error("failed to load due campaigns", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// MarkRun records a completed run with one additive UPDATE so concurrent
// runs never lose counts.
func (s *Service) MarkRun(ctx context.Context, tenantID, campaignID string, audienceCount int, now time.Time) (*Campaign, error) {
	c, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND tenant_id = ?", campaignID, tenantID).
		Updates(map[string]any{
			"status":         gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", CampaignStatusDraft, CampaignStatusActive),
			"last_run_at":    now,
			"next_run_at":    ComputeNextRun(c.TriggerType, now, s.policy),
			"total_runs":     gorm.Expr("total_runs + ?", 1),
			"total_audience": gorm.Expr("total_audience + ?", audienceCount),
			"updated_at":     now,
		})
	if res.Error != nil {
		zap.L().Error("failed to mark campaign run", zap.String("tenant_id", tenantID), zap.String("campaign_id", campaignID), zap.Error(res.Error))
		return nil, res.Error
	}
	return s.Get(ctx, tenantID, campaignID)
}

func (s *Service) record(ctx context.Context, c *Campaign, actorID, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		TenantID:   c.TenantID,
		ActorID:    actorID,
		Action:     action,
		EntityType: "campaign",
		EntityID:   c.ID,
		Metadata:   meta,
	})
	if err != nil {
		zap.L().Warn("campaign audit entry dropped", zap.String("action", action), zap.String("campaign_id", c.ID), zap.Error(err))
	}
}

func parseTrigger(v string) (audience.Trigger, error) {
	t, ok := audience.ParseTrigger(v)
	if !ok {
		return "", errutil.ValidationFailed("unknown trigger type", nil,
			errutil.WithDetails(errutil.Detail{Field: "trigger_type", Message: v}))
	}
	return t, nil
}

func parseChannel(v string) (delivery.Channel, error) {
	c, ok := delivery.ParseChannel(v)
	if !ok {
		return "", errutil.ValidationFailed("unknown channel", nil,
			errutil.WithDetails(errutil.Detail{Field: "channel", Message: v}))
	}
	return c, nil
}

func clampBonus(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > maxPointsBonus {
		return maxPointsBonus
	}
	return v
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

