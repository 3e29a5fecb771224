package campaign

import (
	"context"
	"testing"
	"time"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/notifier"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/services/audience"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/delivery"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/tenant"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

type fakeTenants map[string]*tenant.Tenant

func (f fakeTenants) Get(_ context.Context, id string) (*tenant.Tenant, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return nil, errutil.NotFound("tenant not found", nil)
}

type fakeResolver struct {
	profiles []audience.Profile
	calls    []string
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, trigger string, _ time.Time) ([]audience.Profile, error) {
	f.calls = append(f.calls, trigger)
	return f.profiles, nil
}

func newRunner(t *testing.T, profiles []audience.Profile) (*Runner, *Service, *fakeResolver, *ledger.Service, *fakeRecorder) {
	t.Helper()
	svc, clock, rec := newTestService(t, &delivery.Delivery{}, &ledger.Event{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	dispatcher := delivery.NewDispatcher(delivery.DispatcherParams{
		DB:       svc.db,
		Node:     node,
		Registry: notifier.NewStaticRegistry(nil),
		Policy:   policy.Default(),
	})
	events := ledger.NewService(ledger.ServiceParams{DB: svc.db, Node: node})
	resolver := &fakeResolver{profiles: profiles}

	r := &Runner{
		campaigns:  svc,
		tenants:    fakeTenants{"t1": {ID: "t1", Name: "Glow Clinic", Status: tenant.Active}},
		resolver:   resolver,
		dispatcher: dispatcher,
		events:     events,
		audit:      rec,
		now:        clock.Now,
	}
	return r, svc, resolver, events, rec
}

func cartProfiles() []audience.Profile {
	return []audience.Profile{
		{Key: "ana@example.com", Email: "ana@example.com", Name: "Ana", MembershipStatus: "active"},
		{Key: "id:user-7", ExternalUserID: "user-7", Name: "user-7", MembershipStatus: "inactive"},
	}
}

func TestRunAbandonedCartSchedulesNextDay(t *testing.T) {
	runner, svc, resolver, events, rec := newRunner(t, cartProfiles())
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{TenantID: "t1", Name: "Cart reminder", TriggerType: "abandoned_cart_24h", Status: "active"})
	require.NoError(t, err)

	T := runner.now()
	res, err := runner.Run(ctx, RunParams{TenantID: "t1", CampaignID: c.ID, ActorID: "staff-1"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.True(t, res.ExecutedAt.Equal(T))
	require.Equal(t, 2, res.AudienceCount)
	require.Equal(t, 2, res.Delivery.Attempted)
	require.Equal(t, 2, res.Delivery.Sent)
	require.Equal(t, []string{"abandoned_cart_24h"}, resolver.calls)

	require.True(t, res.Campaign.LastRunAt.Equal(T))
	require.True(t, res.Campaign.NextRunAt.Equal(T.Add(24*time.Hour)))
	require.Equal(t, int64(1), res.Campaign.TotalRuns)
	require.Equal(t, int64(2), res.Campaign.TotalAudience)

	var rows []delivery.Delivery
	require.NoError(t, svc.db.Where("run_id = ?", res.RunID).Find(&rows).Error)
	require.Len(t, rows, 2)

	recent, err := events.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	kinds := map[ledger.Kind]int{}
	for _, e := range recent {
		kinds[e.Kind]++
		require.Equal(t, SourceManual, e.Source)
		require.Equal(t, c.ID, e.SubjectID)
	}
	require.Equal(t, map[ledger.Kind]int{ledger.KindCampaignRun: 1, ledger.KindCampaignDelivery: 1}, kinds)

	actions := rec.actions()
	require.Equal(t, audit.ActionCampaignRun, actions[len(actions)-1])
}

func TestRunAppliesAudienceFilter(t *testing.T) {
	runner, svc, _, events, _ := newRunner(t, cartProfiles())
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{TenantID: "t1", Name: "Members", AudienceFilter: `membership_status == "inactive"`, Channel: "email"})
	require.NoError(t, err)

	res, err := runner.Run(ctx, RunParams{TenantID: "t1", CampaignID: c.ID, Source: SourceSystemAutomation})
	require.NoError(t, err)
	require.Equal(t, 1, res.AudienceCount)
	require.Equal(t, 1, res.Delivery.Skipped)
	require.Zero(t, res.Delivery.Sent)
	require.Nil(t, res.Campaign.NextRunAt)

	recent, err := events.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, ledger.KindCampaignRun, recent[0].Kind)
	require.Equal(t, SourceSystemAutomation, recent[0].Source)
}

func TestRunNotFound(t *testing.T) {
	runner, svc, resolver, _, _ := newRunner(t, cartProfiles())
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{TenantID: "t2", Name: "Other clinic"})
	require.NoError(t, err)

	_, err = runner.Run(ctx, RunParams{TenantID: "t2", CampaignID: c.ID})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = runner.Run(ctx, RunParams{TenantID: "t1", CampaignID: "missing"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
	require.Empty(t, resolver.calls)
}

func TestRunDue(t *testing.T) {
	runner, svc, _, _, _ := newRunner(t, cartProfiles())
	ctx := context.Background()

	due, err := svc.Create(ctx, CreateParams{TenantID: "t1", Name: "Inactive", TriggerType: "inactive_30d", Status: "active"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{TenantID: "t1", Name: "Draft", TriggerType: "inactive_30d"})
	require.NoError(t, err)

	results, err := runner.RunDue(ctx, "t1", 10, "", SourceSystemAutomation)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, due.ID, results[0].Campaign.ID)
	require.True(t, results[0].Campaign.NextRunAt.Equal(runner.now().Add(7*24*time.Hour)))

	results, err = runner.RunDue(ctx, "t1", 10, "", SourceSystemAutomation)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRunDueOnlySkipsPausedAndRescheduled(t *testing.T) {
	runner, svc, resolver, events, _ := newRunner(t, cartProfiles())
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{TenantID: "t1", Name: "Inactive", TriggerType: "inactive_30d", Status: "active"})
	require.NoError(t, err)
	_, err = svc.Pause(ctx, "t1", c.ID, "staff-1")
	require.NoError(t, err)

	_, err = runner.Run(ctx, RunParams{TenantID: "t1", CampaignID: c.ID, Source: SourceSystemAutomation, DueOnly: true})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	require.Empty(t, resolver.calls)

	stored, err := svc.Get(ctx, "t1", c.ID)
	require.NoError(t, err)
	require.Zero(t, stored.TotalRuns)
	require.Nil(t, stored.LastRunAt)

	var sent int64
	require.NoError(t, svc.db.Model(&delivery.Delivery{}).Where("campaign_id = ?", c.ID).Count(&sent).Error)
	require.Zero(t, sent)
	recent, err := events.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	require.Empty(t, recent)

	other, err := svc.Create(ctx, CreateParams{TenantID: "t1", Name: "Weekly", TriggerType: "inactive_30d", Status: "active"})
	require.NoError(t, err)
	_, err = runner.Run(ctx, RunParams{TenantID: "t1", CampaignID: other.ID, Source: SourceSystemAutomation, DueOnly: true})
	require.NoError(t, err)
	_, err = runner.Run(ctx, RunParams{TenantID: "t1", CampaignID: other.ID, Source: SourceSystemAutomation, DueOnly: true})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	stored, err = svc.Get(ctx, "t1", other.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.TotalRuns)
}
