package catalog

import (
	"context"
	"time"

	"clinic-engagement/pkg/repository"
	"clinic-engagement/pkg/rediskey"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheTTL = time.Minute

// Catalog looks up plans and treatments. A missing row is (nil, nil).
type Catalog interface {
	FindPlan(ctx context.Context, tenantID, planID string) (*Plan, error)
	FindTreatment(ctx context.Context, tenantID, treatmentID string) (*Treatment, error)
}

type Service struct {
	plans      repository.Repository[Plan]
	treatments repository.Repository[Treatment]

	planCache      *Cache[*Plan]
	treatmentCache *Cache[*Treatment]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		plans:          repository.ProvideStore[Plan](p.DB),
		treatments:     repository.ProvideStore[Treatment](p.DB),
		planCache:      NewCache[*Plan]("plan", cacheTTL),
		treatmentCache: NewCache[*Treatment]("treatment", cacheTTL),
	}
}

func found[T any](v *T) bool { return v != nil }

func (s *Service) FindPlan(ctx context.Context, tenantID, planID string) (*Plan, error) {
	if tenantID == "" || planID == "" {
		return nil, nil
	}
	return s.planCache.GetOrLoad(rediskey.BuildPlanKey(tenantID, planID), func() (*Plan, error) {
		plan, err := s.plans.FindOne(ctx, &Plan{TenantID: tenantID, ID: planID})
		if err != nil {
			zap.L().Error("failed to load plan", zap.String("tenant_id", tenantID), zap.String("plan_id", planID), zap.Error(err))
		}
		return plan, err
	}, found[Plan])
}

func (s *Service) FindTreatment(ctx context.Context, tenantID, treatmentID string) (*Treatment, error) {
	if tenantID == "" || treatmentID == "" {
		return nil, nil
	}
	return s.treatmentCache.GetOrLoad(rediskey.BuildTreatmentKey(tenantID, treatmentID), func() (*Treatment, error) {
		t, err := s.treatments.FindOne(ctx, &Treatment{TenantID: tenantID, ID: treatmentID})
		if err != nil {
			zap.L().Error("failed to load treatment", zap.String("tenant_id", tenantID), zap.String("treatment_id", treatmentID), zap.Error(err))
		}
		return t, err
	}, found[Treatment])
}

// FindTreatments resolves display names for analytics. Unknown ids are skipped.
func (s *Service) FindTreatments(ctx context.Context, tenantID string, ids []string) (map[string]*Treatment, error) {
	out := make(map[string]*Treatment, len(ids))
	for _, id := range ids {
		t, err := s.FindTreatment(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out[id] = t
		}
	}
	return out, nil
}
