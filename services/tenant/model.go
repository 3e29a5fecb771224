package tenant

import "time"

type TenantStatus string

var (
	Active    TenantStatus = "active"
	Suspended TenantStatus = "suspended"
	Archived  TenantStatus = "archived"
)

func (t TenantStatus) String() string {
	switch t {
	case Active, Suspended, Archived:
		return string(t)
	default:
		return ""
	}
}

// Tenant is one clinic. Only the fields the engine reads are mapped.
type Tenant struct {
	ID        string       `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name      string       `gorm:"column:name;size:160" json:"name"`
	Status    TenantStatus `gorm:"column:status;size:20" json:"status"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }
