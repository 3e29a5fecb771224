package membership

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
	StatusInactive Status = "inactive"
)

func (s Status) String() string { return string(s) }

// Entitling statuses keep a billing period open.
func (s Status) Entitling() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusPaused:
		return true
	}
	return false
}

func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusActive, StatusPastDue, StatusPaused, StatusCanceled, StatusInactive:
		return s, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentPastDue  PaymentStatus = "past_due"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
	PaymentPending  PaymentStatus = "pending"
)

func ParsePaymentStatus(v string) (PaymentStatus, bool) {
	p := PaymentStatus(strings.ToLower(strings.TrimSpace(v)))
	switch p {
	case PaymentPaid, PaymentPastDue, PaymentFailed, PaymentCanceled, PaymentPending:
		return p, true
	}
	return "", false
}

const defaultPlanName = "Membership"

type Membership struct {
	ID                 string        `gorm:"column:id;primaryKey;size:32" json:"id"`
	TenantID           string        `gorm:"column:tenant_id;size:64;not null;uniqueIndex:idx_patient_memberships_tenant_email,priority:1" json:"tenant_id"`
	PatientEmail       string        `gorm:"column:patient_email;size:180;not null;uniqueIndex:idx_patient_memberships_tenant_email,priority:2" json:"patient_email"`
	PatientName        string        `gorm:"column:patient_name;size:120" json:"patient_name"`
	PlanID             string        `gorm:"column:plan_id;size:64" json:"plan_id"`
	PlanName           string        `gorm:"column:plan_name;size:120" json:"plan_name"`
	MonthlyAmountCents int64         `gorm:"column:monthly_amount_cents" json:"monthly_amount_cents"`
	Currency           string        `gorm:"column:currency;size:8" json:"currency"`
	Status             Status        `gorm:"column:status;size:20;index" json:"status"`
	LastPaymentStatus  PaymentStatus `gorm:"column:last_payment_status;size:20" json:"last_payment_status"`
	StartedAt          time.Time     `gorm:"column:started_at" json:"started_at"`
	CurrentPeriodEnd   *time.Time    `gorm:"column:current_period_end" json:"current_period_end,omitempty"`
	NextChargeAt       *time.Time    `gorm:"column:next_charge_at" json:"next_charge_at,omitempty"`
	CanceledAt         *time.Time    `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	CreatedAt          time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Membership) TableName() string { return "patient_memberships" }

// columns lists every mutable column, nil pointers included, so Updates
// clears them instead of skipping.
func (m *Membership) columns() map[string]any {
	return map[string]any{
		"patient_name":         m.PatientName,
		"plan_id":              m.PlanID,
		"plan_name":            m.PlanName,
		"monthly_amount_cents": m.MonthlyAmountCents,
		"currency":             m.Currency,
		"status":               m.Status,
		"last_payment_status":  m.LastPaymentStatus,
		"started_at":           m.StartedAt,
		"current_period_end":   m.CurrentPeriodEnd,
		"next_charge_at":       m.NextChargeAt,
		"canceled_at":          m.CanceledAt,
		"updated_at":           m.UpdatedAt,
	}
}

type ActivateParams struct {
	TenantID      string `validate:"required"`
	Email         string `validate:"required,email,max=180"`
	Name          string `validate:"max=120"`
	PlanID        string `validate:"required"`
	PaymentStatus string
	ActorID       string
}

type SetStatusParams struct {
	TenantID      string `validate:"required"`
	Email         string `validate:"required,email"`
	Status        string `validate:"required"`
	PaymentStatus *string
	ActorID       string
}

type PlanCount struct {
	Name        string `json:"name"`
	ActiveCount int    `json:"active_count"`
}

type Summary struct {
	Total    int         `json:"total"`
	Active   int         `json:"active"`
	PastDue  int         `json:"past_due"`
	Paused   int         `json:"paused"`
	Canceled int         `json:"canceled"`
	Inactive int         `json:"inactive"`
	MRRCents int64       `json:"mrr_cents"`
	Plans    []PlanCount `json:"plans"`
}

type PriceSource string

const (
	PriceStandard PriceSource = "standard"
	PriceMember   PriceSource = "member"
	PriceIncluded PriceSource = "included"
)

type Pricing struct {
	TreatmentID        string      `json:"treatment_id"`
	UnitPriceCents     int64       `json:"unit_price_cents"`
	StandardPriceCents int64       `json:"standard_price_cents"`
	MemberPriceCents   int64       `json:"member_price_cents"`
	PriceSource        PriceSource `json:"price_source"`
	MembershipStatus   Status      `json:"membership_status,omitempty"`
	MembershipID       string      `json:"membership_id,omitempty"`
}
