package analytics

import (
	"context"
	"time"

	"clinic-engagement/pkg/db/option"
	"clinic-engagement/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StaffMember is a clinic team member that revenue can be attributed to.
type StaffMember struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;size:64;not null;index" json:"tenant_id"`
	Name      string    `gorm:"column:name;size:120" json:"name"`
	Email     string    `gorm:"column:email;size:180" json:"email"`
	Role      string    `gorm:"column:role;size:40" json:"role"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (StaffMember) TableName() string { return "staff_members" }

type StaffDirectory interface {
	ListStaff(ctx context.Context, tenantID string) ([]*StaffMember, error)
}

type StaffStore struct {
	repo repository.Repository[StaffMember]
}

type StaffStoreParams struct {
	fx.In
	DB *gorm.DB
}

func NewStaffStore(p StaffStoreParams) *StaffStore {
	return &StaffStore{repo: repository.ProvideStore[StaffMember](p.DB)}
}

func (s *StaffStore) ListStaff(ctx context.Context, tenantID string) ([]*StaffMember, error) {
	rows, err := s.repo.Find(ctx, &StaffMember{TenantID: tenantID}, option.WithOrder("id ASC"))
	if err != nil {
		zap.L().Error("failed to list staff", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}
