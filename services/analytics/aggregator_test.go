package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clinic-engagement/pkg/policy"
	"clinic-engagement/services/catalog"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"
	"clinic-engagement/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEvents []*ledger.Event

func (f fakeEvents) Window(_ context.Context, _ string, w ledger.Window) ([]*ledger.Event, error) {
	out := []*ledger.Event{}
	for _, e := range f {
		if !e.CreatedAt.Before(w.From) && e.CreatedAt.Before(w.To) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeMemberships []*membership.Membership

func (f fakeMemberships) ListSynchronized(context.Context, string) ([]*membership.Membership, error) {
	return f, nil
}

type fakeCounter map[string]int64

func (f fakeCounter) CountByActor(context.Context, string, time.Time, time.Time) (map[string]int64, error) {
	return f, nil
}

type fakeStaff []*StaffMember

func (f fakeStaff) ListStaff(context.Context, string) ([]*StaffMember, error) { return f, nil }

type fakeTreatments map[string]*catalog.Treatment

func (f fakeTreatments) FindTreatments(_ context.Context, _ string, ids []string) (map[string]*catalog.Treatment, error) {
	out := map[string]*catalog.Treatment{}
	for _, id := range ids {
		if t, ok := f[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

var end = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func event(kind ledger.Kind, at time.Time, actor, subject string, amount int64, meta map[string]any) *ledger.Event {
	e := &ledger.Event{Kind: kind, CreatedAt: at, ActorID: actor, SubjectID: subject}
	if amount > 0 {
		e.AmountCents = &amount
	}
	if meta != nil {
		raw, _ := json.Marshal(meta)
		e.Metadata = datatypes.JSON(raw)
	}
	return e
}

func newAggregator(events fakeEvents, opts ...func(*Aggregator)) *Aggregator {
	a := &Aggregator{
		events:      events,
		memberships: fakeMemberships{},
		actions:     fakeCounter{},
		staff:       fakeStaff{},
		treatments:  fakeTreatments{},
		policy:      policy.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func TestSummaryShopPurchase(t *testing.T) {
	a := newAggregator(fakeEvents{
		event(ledger.KindPurchaseSuccess, end.Add(-time.Hour), "", "hydrafacial", 5000, map[string]any{"purchaseType": "shop"}),
	})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 30))
	require.NoError(t, err)
	require.Equal(t, int64(5000), r.Summary.RevenueCents)
	require.Equal(t, RevenueSources{Shop: 5000}, r.RevenueSources)
	require.Equal(t, int64(1), r.Summary.PurchaseSuccess)
	require.Equal(t, int64(5000), r.Summary.DailyProcessingCents)
	require.Equal(t, 30, r.Days)
}

func TestSummaryEmptyWindow(t *testing.T) {
	a := newAggregator(fakeEvents{})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 7))
	require.NoError(t, err)
	require.Equal(t, Summary{}, r.Summary)
	require.Equal(t, RevenueSources{}, r.RevenueSources)
	require.Empty(t, r.Timeseries)
	require.Empty(t, r.TopTreatments)
	require.Empty(t, r.TopStaff)
}

func TestSummaryRevenueSourcesAndDegradedEvents(t *testing.T) {
	at := end.Add(-2 * time.Hour)
	bad := event(ledger.KindPurchaseSuccess, at, "", "peel", 700, nil)
	bad.Metadata = datatypes.JSON(`{"broken"`)

	a := newAggregator(fakeEvents{
		event(ledger.KindPurchaseSuccess, at, "", "plan_glow", 1000, nil),
		event(ledger.KindPurchaseSuccess, at, "", "botox", 2000, map[string]any{"triggerType": "inactive_30d"}),
		event(ledger.KindPurchaseSuccess, at, "", "botox", 3000, map[string]any{"triggerType": "broadcast"}),
		event(ledger.KindPurchaseSuccess, at, "", "filler", 400, map[string]any{"channel": "SMS"}),
		event(ledger.KindRewardRedeem, at, "", "", 0, map[string]any{"valueCents": 250}),
		bad,
	}, func(a *Aggregator) {
		a.memberships = fakeMemberships{
			{Status: membership.StatusActive, MonthlyAmountCents: 4900},
			{Status: membership.StatusPastDue, MonthlyAmountCents: 4900},
		}
	})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 1))
	require.NoError(t, err)
	require.Equal(t, RevenueSources{
		Memberships:        4900,
		RewardsCashBalance: 250,
		NotificationOffers: 2400,
		CustomPlans:        1000,
		Shop:               3000,
	}, r.RevenueSources)
	require.Equal(t, int64(7100), r.Summary.RevenueCents)
	require.Equal(t, int64(700), r.Summary.UnattributedRevenueCents)
	require.Equal(t, int64(1), r.Summary.DegradedEvents)
	require.Equal(t, int64(1), r.Summary.ActiveMemberships)
	require.Equal(t, int64(1), r.Summary.PastDueMemberships)
	require.Equal(t, int64(7100), r.Summary.ClientLTVCents)
}

func TestSummaryFunnelAndTimeseries(t *testing.T) {
	d1 := end.Add(-36 * time.Hour)
	d2 := end.Add(-time.Hour)
	a := newAggregator(fakeEvents{
		event(ledger.KindOfferView, d1, "u1", "botox", 0, map[string]any{"sessionId": "s1"}),
		event(ledger.KindOfferView, d1, "u2", "botox", 0, map[string]any{"sessionId": "s2"}),
		event(ledger.KindOfferView, d2, "u1", "peel", 0, map[string]any{"sessionId": "s1"}),
		event(ledger.KindAddToCart, d2, "u1", "botox", 0, nil),
		event(ledger.KindPurchaseSuccess, d2, "u1", "botox", 3000, nil),
		event(ledger.KindAppOpen, d1, "", "", 0, nil),
	}, func(a *Aggregator) {
		a.treatments = fakeTreatments{"botox": {ID: "botox", Name: "Botox"}}
	})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 3))
	require.NoError(t, err)
	require.Equal(t, 33.33, r.Summary.ConversionRate)
	require.Equal(t, 33.33, r.Summary.AddToCartRate)
	require.Equal(t, int64(2), r.Summary.ActiveUsers)
	require.Equal(t, int64(2), r.Summary.ActiveSessions)
	require.Equal(t, int64(1500), r.Summary.AppUserLTVCents)
	require.Equal(t, int64(6), r.Summary.EventsTotal)

	require.Len(t, r.Timeseries, 2)
	require.Equal(t, "2025-03-08", r.Timeseries[0].Date)
	require.Equal(t, int64(2), r.Timeseries[0].OfferView)
	require.Equal(t, "2025-03-09", r.Timeseries[1].Date)
	require.Equal(t, int64(3000), r.Summary.DailyProcessingCents)

	require.Len(t, r.TopTreatments, 2)
	require.Equal(t, TreatmentStat{TreatmentID: "botox", Name: "Botox", Views: 2, AddsToCart: 1, Purchases: 1, RevenueCents: 3000}, r.TopTreatments[0])
	require.Equal(t, "peel", r.TopTreatments[1].TreatmentID)
}

func TestStaffAttribution(t *testing.T) {
	at := end.Add(-time.Hour)
	var events fakeEvents
	for i := 0; i < 10; i++ {
		events = append(events, event(ledger.KindOfferView, at, "", "botox", 0, nil))
	}
	events = append(events,
		event(ledger.KindPurchaseSuccess, at, "staff-1", "botox", 4000, nil),
		event(ledger.KindCampaignRun, at, "staff-2", "cmp", 0, map[string]any{"sent": 0, "attempted": 50}),
		event(ledger.KindCampaignDelivery, at, "staff-2", "cmp", 0, map[string]any{"sent": 20}),
	)

	a := newAggregator(events, func(a *Aggregator) {
		a.staff = fakeStaff{
			{ID: "staff-1", Name: "Mia"},
			{ID: "staff-2", Email: "leo@clinic.test"},
			{ID: "staff-3"},
		}
		a.actions = fakeCounter{"staff-3": 4, "stranger": 9}
	})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 1))
	require.NoError(t, err)
	require.Len(t, r.TopStaff, 3)

	// conversion 10% within bounds: 70 sends * 4000 avg * 0.10
	require.Equal(t, "staff-2", r.TopStaff[0].StaffID)
	require.Equal(t, "leo@clinic.test", r.TopStaff[0].Name)
	require.Equal(t, int64(70), r.TopStaff[0].CampaignDeliveries)
	require.Equal(t, int64(28000), r.TopStaff[0].CampaignInfluenceCents)
	require.Equal(t, int64(28000), r.TopStaff[0].SalesCents)

	require.Equal(t, "staff-1", r.TopStaff[1].StaffID)
	require.Equal(t, int64(4000), r.TopStaff[1].SalesCents)

	require.Equal(t, "staff-3", r.TopStaff[2].StaffID)
	require.Equal(t, "Team", r.TopStaff[2].Name)
	require.Equal(t, int64(4), r.TopStaff[2].Actions)
	require.Zero(t, r.TopStaff[2].SalesCents)
}

func TestStaffAttributionFallsBackToActivityShare(t *testing.T) {
	at := end.Add(-time.Hour)
	a := newAggregator(fakeEvents{
		event(ledger.KindPurchaseSuccess, at, "", "botox", 1000, nil),
	}, func(a *Aggregator) {
		a.staff = fakeStaff{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
		a.actions = fakeCounter{"a": 3}
	})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 1))
	require.NoError(t, err)
	require.Equal(t, int64(750), r.TopStaff[0].SalesCents)
	require.Equal(t, int64(250), r.TopStaff[1].SalesCents)
}

func TestAttributionRatioIsClamped(t *testing.T) {
	at := end.Add(-time.Hour)
	a := newAggregator(fakeEvents{
		event(ledger.KindOfferView, at, "", "botox", 0, nil),
		event(ledger.KindPurchaseSuccess, at, "", "botox", 1000, nil),
		event(ledger.KindCampaignDelivery, at, "s", "cmp", 0, map[string]any{"sent": 10}),
	}, func(a *Aggregator) {
		a.staff = fakeStaff{{ID: "s", Name: "S"}}
	})

	r, err := a.Summary(context.Background(), "t1", LastDays(end, 1))
	require.NoError(t, err)
	require.Equal(t, float64(100), r.Summary.ConversionRate)
	require.Equal(t, int64(4500), r.TopStaff[0].CampaignInfluenceCents)

	pol := policy.Default()
	pol.AttributionCeiling = 0.2
	a.policy = pol
	r, err = a.Summary(context.Background(), "t1", LastDays(end, 1))
	require.NoError(t, err)
	require.Equal(t, int64(2000), r.TopStaff[0].CampaignInfluenceCents)
}

func TestComparePrevious(t *testing.T) {
	w := LastDays(end, 7)
	a := newAggregator(fakeEvents{
		event(ledger.KindPurchaseSuccess, end.Add(-time.Hour), "", "botox", 1000, nil),
	})

	current, cmp, err := a.Compare(context.Background(), "t1", w, ComparePrevious)
	require.NoError(t, err)
	require.Equal(t, int64(1000), current.Summary.RevenueCents)
	require.True(t, cmp.Enabled)
	require.Equal(t, ComparePrevious, cmp.Mode)
	require.Equal(t, Window{From: w.From.Add(-7 * day), To: w.From}, *cmp.BaselineWindow)
	require.Equal(t, Delta{Current: 1000, Baseline: 0, Delta: 1000, DeltaPercent: 100}, cmp.Deltas["revenueCents"])
	require.Equal(t, Delta{}, cmp.Deltas["appOpen"])
	require.Len(t, cmp.Deltas, 9)
}

func TestCompareYoYAndNone(t *testing.T) {
	w := LastDays(end, 7)
	a := newAggregator(fakeEvents{
		event(ledger.KindAppOpen, end.Add(-time.Hour), "", "", 0, nil),
		event(ledger.KindAppOpen, end.Add(-365*day-time.Hour), "", "", 0, nil),
		event(ledger.KindAppOpen, end.Add(-365*day-2*time.Hour), "", "", 0, nil),
	})

	_, cmp, err := a.Compare(context.Background(), "t1", w, CompareYoY)
	require.NoError(t, err)
	require.Equal(t, Delta{Current: 1, Baseline: 2, Delta: -1, DeltaPercent: -50}, cmp.Deltas["appOpen"])

	_, cmp, err = a.Compare(context.Background(), "t1", w, CompareMode("weekly"))
	require.NoError(t, err)
	require.False(t, cmp.Enabled)
	require.Equal(t, CompareNone, cmp.Mode)
	require.Nil(t, cmp.BaselineWindow)
	require.Empty(t, cmp.Deltas)
}

func TestNewDelta(t *testing.T) {
	require.Equal(t, Delta{}, NewDelta(0, 0))
	require.Equal(t, 100.0, NewDelta(5, 0).DeltaPercent)
	require.Equal(t, 33.33, NewDelta(4, 3).DeltaPercent)
	require.Equal(t, -100.0, NewDelta(0, 7).DeltaPercent)
}

func TestStaffStore(t *testing.T) {
	db := testutil.NewTestDB(t, &StaffMember{})
	require.NoError(t, db.Create([]*StaffMember{
		{ID: "s2", TenantID: "t1", Name: "Leo"},
		{ID: "s1", TenantID: "t1", Name: "Mia"},
		{ID: "s3", TenantID: "t2", Name: "Other"},
	}).Error)

	store := NewStaffStore(StaffStoreParams{DB: db})
	rows, err := store.ListStaff(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "s1", rows[0].ID)
}
