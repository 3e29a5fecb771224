package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// Plan is a membership plan offered by a clinic.
type Plan struct {
	TenantID             string                      `gorm:"column:tenant_id;primaryKey;size:64" json:"tenant_id"`
	ID                   string                      `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name                 string                      `gorm:"column:name;size:120" json:"name"`
	PriceCents           int64                       `gorm:"column:price_cents" json:"price_cents"`
	IncludedTreatmentIDs datatypes.JSONSlice[string] `gorm:"column:included_treatment_ids" json:"included_treatment_ids"`
	CreatedAt            time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (Plan) TableName() string { return "membership_plans" }

func (p *Plan) Includes(treatmentID string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.IncludedTreatmentIDs {
		if id == treatmentID {
			return true
		}
	}
	return false
}

type Treatment struct {
	TenantID         string    `gorm:"column:tenant_id;primaryKey;size:64" json:"tenant_id"`
	ID               string    `gorm:"column:id;primaryKey;size:100" json:"id"`
	Name             string    `gorm:"column:name;size:160" json:"name"`
	PriceCents       int64     `gorm:"column:price_cents" json:"price_cents"`
	MemberPriceCents *int64    `gorm:"column:member_price_cents" json:"member_price_cents,omitempty"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Treatment) TableName() string { return "treatments" }
