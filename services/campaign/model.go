package campaign

import (
	"strings"
	"time"

	"clinic-engagement/services/audience"
	"clinic-engagement/services/delivery"
)

type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "draft"
	CampaignStatusActive CampaignStatus = "active"
	CampaignStatusPaused CampaignStatus = "paused"
)

func ParseStatus(v string) (CampaignStatus, bool) {
	s := CampaignStatus(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused:
		return s, true
	}
	return "", false
}

const (
	minNameLen       = 2
	maxNameLen       = 120
	maxTitleLen      = 180
	maxBodyLen       = 3000
	maxPointsBonus   = 100000
	maxFilterLen     = 1000
	maxDueLimit      = 300
	defaultDueLimit  = 50
	maxListLimit     = 300
	defaultListLimit = 100
)

// Campaign is a clinic's outreach definition and its run counters.
type Campaign struct {
	ID             string           `gorm:"column:id;primaryKey;size:32" json:"id"`
	TenantID       string           `gorm:"column:tenant_id;size:64;not null;index" json:"tenant_id"`
	Code           string           `gorm:"column:code;size:40" json:"code"`
	Name           string           `gorm:"column:name;size:120;not null" json:"name"`
	TriggerType    audience.Trigger `gorm:"column:trigger_type;size:40;not null" json:"trigger_type"`
	Channel        delivery.Channel `gorm:"column:channel;size:20;not null" json:"channel"`
	Status         CampaignStatus   `gorm:"column:status;size:20;not null;index:idx_clinic_campaigns_due,priority:1" json:"status"`
	TemplateTitle  string           `gorm:"column:template_title;size:180" json:"template_title"`
	TemplateBody   string           `gorm:"column:template_body;type:text" json:"template_body"`
	PointsBonus    int64            `gorm:"column:points_bonus" json:"points_bonus"`
	AudienceFilter string           `gorm:"column:audience_filter;size:1000" json:"audience_filter,omitempty"`
	LastRunAt      *time.Time       `gorm:"column:last_run_at" json:"last_run_at,omitempty"`
	NextRunAt      *time.Time       `gorm:"column:next_run_at;index:idx_clinic_campaigns_due,priority:2" json:"next_run_at,omitempty"`
	TotalRuns      int64            `gorm:"column:total_runs" json:"total_runs"`
	TotalAudience  int64            `gorm:"column:total_audience" json:"total_audience"`
	CreatedBy      string           `gorm:"column:created_by;size:64" json:"created_by,omitempty"`
	CreatedAt      time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (Campaign) TableName() string { return "clinic_campaigns" }

type CreateParams struct {
	TenantID       string `validate:"required"`
	Name           string `validate:"min=2,max=120"`
	TriggerType    string
	Channel        string
	Status         string
	TemplateTitle  string
	TemplateBody   string
	PointsBonus    int64
	AudienceFilter string `validate:"max=1000"`
	ActorID        string
}

// UpdateParams carries a partial update. Nil fields are left untouched.
type UpdateParams struct {
	TenantID       string `validate:"required"`
	CampaignID     string `validate:"required"`
	Name           *string
	TriggerType    *string
	Channel        *string
	TemplateTitle  *string
	TemplateBody   *string
	PointsBonus    *int64
	AudienceFilter *string
	ActorID        string
}

type RunParams struct {
	TenantID   string
	CampaignID string
	ActorID    string
	Source     string
	// DueOnly refuses the run unless the campaign is still active and due.
	DueOnly bool
}

// IsDue reports whether an active campaign has reached its next run.
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignStatusActive && c.NextRunAt != nil && !c.NextRunAt.After(now)
}

type RunResult struct {
	Campaign      *Campaign        `json:"campaign"`
	RunID         string           `json:"run_id"`
	ExecutedAt    time.Time        `json:"executed_at"`
	AudienceCount int              `json:"audience_count"`
	Delivery      delivery.Summary `json:"delivery"`
}
