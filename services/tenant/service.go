package tenant

import (
	"context"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Directory resolves tenants for campaign runs.
type Directory interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
}

type Service struct {
	repo repository.Repository[Tenant]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo: repository.ProvideStore[Tenant](p.DB),
	}
}

// Get returns the tenant or a NotFound error. Archived tenants are treated as missing.
func (s *Service) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, errutil.ValidationFailed("tenant_id is required", nil)
	}

	t, err := s.repo.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil {
		zap.L().Error("failed to load tenant", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	if t == nil || t.Status == Archived {
		return nil, errutil.NotFound("tenant not found", nil)
	}
	return t, nil
}
