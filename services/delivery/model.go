package delivery

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) String() string { return string(c) }

func ParseChannel(v string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(v)))
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail, ChannelSMS:
		return c, true
	}
	return "", false
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// NormalizeStatus maps anything outside the delivery enum to skipped.
func NormalizeStatus(v string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusSent, StatusFailed, StatusSkipped:
		return s
	}
	return StatusSkipped
}

const (
	maxErrorLen   = 500
	minPhoneLen   = 8
	maxAddressLen = 180
)

// Delivery is the write-once outcome of one recipient in one run.
type Delivery struct {
	ID                string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	TenantID          string         `gorm:"column:tenant_id;size:64;not null;index:idx_campaign_deliveries_campaign,priority:1" json:"tenant_id"`
	CampaignID        string         `gorm:"column:campaign_id;size:32;not null;index:idx_campaign_deliveries_campaign,priority:2" json:"campaign_id"`
	RunID             string         `gorm:"column:run_id;size:36;not null;uniqueIndex:idx_campaign_deliveries_run_recipient,priority:1" json:"run_id"`
	RecipientKey      string         `gorm:"column:recipient_key;size:200;not null;uniqueIndex:idx_campaign_deliveries_run_recipient,priority:2" json:"recipient_key"`
	Address           string         `gorm:"column:address;size:180" json:"address,omitempty"`
	Channel           Channel        `gorm:"column:channel;size:20;not null" json:"channel"`
	Status            Status         `gorm:"column:status;size:20;not null" json:"status"`
	ProviderMessageID string         `gorm:"column:provider_message_id;size:120" json:"provider_message_id,omitempty"`
	Error             string         `gorm:"column:error;size:500" json:"error,omitempty"`
	Metadata          datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	CreatedAt         time.Time      `gorm:"column:created_at;index:idx_campaign_deliveries_campaign,priority:3" json:"created_at"`
}

func (Delivery) TableName() string { return "campaign_deliveries" }

// Job describes one campaign run to fan out.
type Job struct {
	TenantID      string
	CampaignID    string
	RunID         string
	Channel       Channel
	TriggerType   string
	TemplateTitle string
	TemplateBody  string
	ClinicName    string
}

type Summary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
