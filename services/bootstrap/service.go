package bootstrap

import (
	"context"

	"clinic-engagement/services/analytics"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/campaign"
	"clinic-engagement/services/catalog"
	"clinic-engagement/services/delivery"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"
	"clinic-engagement/services/task"
	"clinic-engagement/services/tenant"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the engine owns.
func Models() []any {
	return []any{
		&tenant.Tenant{},
		&catalog.Plan{},
		&catalog.Treatment{},
		&analytics.StaffMember{},
		&ledger.Event{},
		&membership.Membership{},
		&audit.AuditLog{},
		&campaign.Campaign{},
		&delivery.Delivery{},
		&task.Job{},
	}
}

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// Migrate creates or extends the engine tables. It never drops columns.
func (s *Service) Migrate(ctx context.Context) error {
	models := Models()
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		zap.L().Error("[bootstrap] schema sync failed", zap.Error(err))
		return err
	}
	zap.L().Info("[bootstrap] schema in sync", zap.Int("tables", len(models)))
	return nil
}
