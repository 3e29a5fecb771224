package task

import (
	"time"

	"gorm.io/datatypes"
)

const (
	JobPending = "pending"
	JobRunning = "running"
	JobSuccess = "success"
	JobFailed  = "failed"
)

// Job is the journal row of one automated campaign run.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	TenantID    string         `gorm:"column:tenant_id;size:64;index;not null" json:"tenant_id"`
	CampaignID  string         `gorm:"column:campaign_id;size:32;index;not null" json:"campaign_id"`
	Status      string         `gorm:"column:status;size:20;default:'pending'" json:"status"` // pending|running|success|failed
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Job) TableName() string { return "campaign_jobs" }

// CampaignRunPayload is the body of a campaign:run task.
type CampaignRunPayload struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
	JobID      string `json:"job_id"`
}
