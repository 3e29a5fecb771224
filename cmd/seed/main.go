package main

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"clinic-engagement/pkg/config"
	"clinic-engagement/pkg/db"
	"clinic-engagement/pkg/gen"
	"clinic-engagement/pkg/logger"
	"clinic-engagement/services/analytics"
	"clinic-engagement/services/bootstrap"
	"clinic-engagement/services/catalog"
	"clinic-engagement/services/tenant"
)

const demoTenantID = "demo-clinic"

// seed syncs the schema and inserts a demo clinic with a small catalog and
// team. Rows that already exist are left alone, so it can run repeatedly.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		fx.Provide(bootstrap.NewService),
		fx.Invoke(seedDemoClinic),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(ctx)
}

func seedDemoClinic(db *gorm.DB, node *snowflake.Node, schema *bootstrap.Service) error {
	if err := schema.Migrate(context.Background()); err != nil {
		return err
	}

	now := time.Now().UTC()
	member := func(v int64) *int64 { return &v }

	clinic := tenant.Tenant{ID: demoTenantID, Name: "Glow Clinic", Status: tenant.Active, CreatedAt: now, UpdatedAt: now}

	treatments := []catalog.Treatment{
		{TenantID: demoTenantID, ID: "hydrafacial", Name: "HydraFacial", PriceCents: 19900, MemberPriceCents: member(14900)},
		{TenantID: demoTenantID, ID: "chemical-peel", Name: "Chemical Peel", PriceCents: 15000, MemberPriceCents: member(11000)},
		{TenantID: demoTenantID, ID: "botox-20u", Name: "Botox 20u", PriceCents: 28000},
		{TenantID: demoTenantID, ID: "led-therapy", Name: "LED Therapy", PriceCents: 6000, MemberPriceCents: member(0)},
	}

	plans := []catalog.Plan{
		{TenantID: demoTenantID, ID: "glow-basic", Name: "Glow Basic", PriceCents: 4900, IncludedTreatmentIDs: datatypes.JSONSlice[string]{"led-therapy"}},
		{TenantID: demoTenantID, ID: "glow-plus", Name: "Glow Plus", PriceCents: 9900, IncludedTreatmentIDs: datatypes.JSONSlice[string]{"led-therapy", "hydrafacial"}},
	}

	staff := []analytics.StaffMember{
		{ID: node.Generate().String(), TenantID: demoTenantID, Name: "Dr. Maya Chen", Email: "maya@glow.example", Role: "injector"},
		{ID: node.Generate().String(), TenantID: demoTenantID, Name: "Lia Santos", Email: "lia@glow.example", Role: "front_desk"},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		skip := tx.Clauses(clause.OnConflict{DoNothing: true})
		if err := skip.Create(&clinic).Error; err != nil {
			return err
		}
		if err := skip.Create(&treatments).Error; err != nil {
			return err
		}
		if err := skip.Create(&plans).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&analytics.StaffMember{}).Where("tenant_id = ?", demoTenantID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.Create(&staff).Error
	})
	if err != nil {
		zap.L().Error("failed to seed demo clinic", zap.Error(err))
		return err
	}

	zap.L().Info("seeded demo clinic",
		zap.String("tenant_id", demoTenantID),
		zap.Int("treatments", len(treatments)),
		zap.Int("plans", len(plans)),
	)
	return nil
}
