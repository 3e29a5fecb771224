package audit

import (
	"time"

	"gorm.io/datatypes"
)

const (
	maxActionLen     = 80
	maxEntityTypeLen = 80
	maxEntityIDLen   = 180
)

// AuditLog is an append-only record of a staff or system action.
type AuditLog struct {
	ID         string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	TenantID   string         `gorm:"column:tenant_id;size:64;not null;index:idx_audit_logs_tenant_created,priority:1" json:"tenant_id"`
	ActorID    string         `gorm:"column:actor_id;size:64;index" json:"actor_id,omitempty"`
	Action     string         `gorm:"column:action;size:80;not null" json:"action"`
	EntityType string         `gorm:"column:entity_type;size:80" json:"entity_type"`
	EntityID   string         `gorm:"column:entity_id;size:180" json:"entity_id"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	CreatedAt  time.Time      `gorm:"column:created_at;index:idx_audit_logs_tenant_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Entry struct {
	TenantID   string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

const (
	ActionCampaignCreated         = "campaign.created"
	ActionCampaignUpdated         = "campaign.updated"
	ActionCampaignPaused          = "campaign.paused"
	ActionCampaignResumed         = "campaign.resumed"
	ActionCampaignRun             = "campaign.run"
	ActionMembershipActivated     = "membership.activated"
	ActionMembershipStatusChanged = "membership.status_changed"
)
