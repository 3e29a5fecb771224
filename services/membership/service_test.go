package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/catalog"
	"clinic-engagement/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeCatalog struct {
	plans      map[string]*catalog.Plan
	treatments map[string]*catalog.Treatment
}

func (f *fakeCatalog) FindPlan(_ context.Context, _ string, planID string) (*catalog.Plan, error) {
	return f.plans[planID], nil
}

func (f *fakeCatalog) FindTreatment(_ context.Context, _ string, treatmentID string) (*catalog.Treatment, error) {
	return f.treatments[treatmentID], nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	svc     *Service
	clock   *testutil.Clock
	catalog *fakeCatalog
	audit   *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &Membership{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	member := int64(3000)
	cat := &fakeCatalog{
		plans: map[string]*catalog.Plan{
			"gold":  {TenantID: "t1", ID: "gold", Name: "Gold", PriceCents: 4900, IncludedTreatmentIDs: []string{"facial"}},
			"basic": {TenantID: "t1", ID: "basic", Name: "", PriceCents: 1900},
		},
		treatments: map[string]*catalog.Treatment{
			"facial": {TenantID: "t1", ID: "facial", Name: "Facial", PriceCents: 8000},
			"peel":   {TenantID: "t1", ID: "peel", Name: "Peel", PriceCents: 5000, MemberPriceCents: &member},
		},
	}
	rec := &fakeRecorder{}
	clock := testutil.NewClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParams{DB: db, Node: node, Catalog: cat, Audit: rec, Policy: policy.Default()})
	svc.now = clock.Now
	return &fixture{svc: svc, clock: clock, catalog: cat, audit: rec}
}

func requirePeriodRules(t *testing.T, m *Membership) {
	t.Helper()
	if m.Status.Entitling() {
		require.NotNil(t, m.CurrentPeriodEnd, m.Status)
		require.NotNil(t, m.NextChargeAt, m.Status)
		require.Nil(t, m.CanceledAt, m.Status)
		return
	}
	require.Nil(t, m.CurrentPeriodEnd, m.Status)
	require.Nil(t, m.NextChargeAt, m.Status)
	require.NotNil(t, m.CanceledAt, m.Status)
}

func strPtr(v string) *string { return &v }

func TestResolveStatusForPayment(t *testing.T) {
	cases := []struct {
		payment PaymentStatus
		current Status
		want    Status
	}{
		{PaymentPaid, StatusPastDue, StatusActive},
		{PaymentFailed, StatusActive, StatusPastDue},
		{PaymentPastDue, StatusActive, StatusPastDue},
		{PaymentCanceled, StatusActive, StatusCanceled},
		{PaymentPending, StatusPaused, StatusPaused},
		{"", StatusInactive, StatusInactive},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ResolveStatusForPayment(c.payment, c.current), string(c.payment))
	}
}

func TestActivateNewMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: " Jane.Doe@Example.com ", PlanID: "gold", ActorID: "staff-1"})
	require.NoError(t, err)

	require.Equal(t, "jane.doe@example.com", m.PatientEmail)
	require.Equal(t, "jane.doe", m.PatientName)
	require.Equal(t, "Gold", m.PlanName)
	require.Equal(t, int64(4900), m.MonthlyAmountCents)
	require.Equal(t, "eur", m.Currency)
	require.Equal(t, StatusActive, m.Status)
	require.Equal(t, PaymentPaid, m.LastPaymentStatus)
	require.True(t, m.StartedAt.Equal(f.clock.Now()))
	require.True(t, m.CurrentPeriodEnd.Equal(f.clock.Now().Add(30*24*time.Hour)))
	require.True(t, m.NextChargeAt.Equal(*m.CurrentPeriodEnd))
	requirePeriodRules(t, m)

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, audit.ActionMembershipActivated, f.audit.entries[0].Action)
	require.Equal(t, "staff-1", f.audit.entries[0].ActorID)
}

func TestActivateExistingKeepsStartedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "basic", Name: "Ana"})
	require.NoError(t, err)
	require.Equal(t, "basic", first.PlanName)

	f.clock.Advance(48 * time.Hour)
	second, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "gold"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.StartedAt.Equal(first.StartedAt))
	require.Equal(t, "Ana", second.PatientName)
	require.True(t, second.CurrentPeriodEnd.Equal(f.clock.Now().Add(30*24*time.Hour)))

	rows, err := f.svc.List(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestActivateWithCanceledPayment(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.Activate(context.Background(), ActivateParams{TenantID: "t1", Email: "b@x.com", PlanID: "gold", PaymentStatus: "canceled"})
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, m.Status)
	require.True(t, m.CanceledAt.Equal(f.clock.Now()))
	requirePeriodRules(t, m)
}

func TestActivateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []ActivateParams{
		{TenantID: "t1", Email: "not-an-email", PlanID: "gold"},
		{TenantID: "t1", Email: "a@x.com"},
		{TenantID: "t1", Email: "a@x.com", PlanID: "platinum"},
		{TenantID: "t1", Email: "a@x.com", PlanID: "gold", PaymentStatus: "refunded"},
	}
	for _, p := range cases {
		_, err := f.svc.Activate(ctx, p)
		require.True(t, errutil.Is(err, errutil.StatusValidationFailed), "%+v", p)
	}

	rows, err := f.svc.List(ctx, "t1", 10)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Empty(t, f.audit.entries)
}

func TestSetStatusKeepsPeriodRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "gold"})
	require.NoError(t, err)

	for _, status := range []string{"paused", "canceled", "past_due", "inactive", "active"} {
		f.clock.Advance(time.Hour)
		m, err := f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: status})
		require.NoError(t, err)
		require.Equal(t, Status(status), m.Status)
		require.True(t, m.UpdatedAt.Equal(f.clock.Now()))
		require.Equal(t, PaymentPaid, m.LastPaymentStatus)
		requirePeriodRules(t, m)
	}

	m, err := f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: "past_due", PaymentStatus: strPtr("failed")})
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, m.LastPaymentStatus)

	require.Len(t, f.audit.entries, 7)
	require.Equal(t, audit.ActionMembershipStatusChanged, f.audit.entries[6].Action)
}

func TestSetStatusKeepsCanceledAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "gold"})
	require.NoError(t, err)

	canceled, err := f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: "canceled"})
	require.NoError(t, err)
	at := *canceled.CanceledAt

	f.clock.Advance(24 * time.Hour)
	inactive, err := f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: "inactive"})
	require.NoError(t, err)
	require.True(t, inactive.CanceledAt.Equal(at))
}

func TestSetStatusErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "missing@x.com", Status: "active"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: "frozen"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: "active", PaymentStatus: strPtr("bounced")})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "gold"})
	require.NoError(t, err)

	// Reprice the plan and break the row behind the service's back.
	f.catalog.plans["gold"].PriceCents = 5900
	f.catalog.plans["gold"].Name = "Gold Plus"
	require.NoError(t, f.svc.db.Model(&Membership{}).Where("patient_email = ?", "a@x.com").
		Updates(map[string]any{"next_charge_at": nil, "last_payment_status": "failed"}).Error)

	f.clock.Advance(time.Hour)
	first, err := f.svc.Get(ctx, "t1", "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "Gold Plus", first.PlanName)
	require.Equal(t, int64(5900), first.MonthlyAmountCents)
	require.Equal(t, StatusPastDue, first.Status)
	require.True(t, first.UpdatedAt.Equal(f.clock.Now()))
	requirePeriodRules(t, first)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Get(ctx, "t1", "a@x.com")
	require.NoError(t, err)
	require.True(t, second.UpdatedAt.Equal(first.UpdatedAt), "second sync must not write")
	require.Equal(t, first.Status, second.Status)
	require.True(t, second.NextChargeAt.Equal(*first.NextChargeAt))
}

func TestSynchronizeCanceledIsSticky(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "gold"})
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, SetStatusParams{TenantID: "t1", Email: "a@x.com", Status: "canceled"})
	require.NoError(t, err)

	// Payment is still "paid" but canceled must not flip back to active.
	m, err := f.svc.Get(ctx, "t1", "a@x.com")
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, m.Status)
	requirePeriodRules(t, m)
}

func TestSynchronizeKeepsStoredValuesWhenPlanIsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: "a@x.com", PlanID: "gold"})
	require.NoError(t, err)
	delete(f.catalog.plans, "gold")

	m, err := f.svc.Get(ctx, "t1", "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "Gold", m.PlanName)
	require.Equal(t, int64(4900), m.MonthlyAmountCents)
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "t1", "nobody@x.com")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestListClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		f.clock.Advance(time.Minute)
		_, err := f.svc.Activate(ctx, ActivateParams{TenantID: "t1", Email: email, PlanID: "gold"})
		require.NoError(t, err)
	}

	rows, err := f.svc.List(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "c@x.com", rows[0].PatientEmail)

	rows, err = f.svc.List(ctx, "t1", 5000)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	synced, err := f.svc.ListSynchronized(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", synced[0].PatientEmail)
}

func TestSummarize(t *testing.T) {
	rows := []*Membership{
		{Status: StatusActive, PlanName: "Gold", MonthlyAmountCents: 4900},
		{Status: StatusActive, PlanName: "Gold", MonthlyAmountCents: 4900},
		{Status: StatusActive, PlanID: "basic", MonthlyAmountCents: 1900},
		{Status: StatusPastDue, PlanName: "Gold", MonthlyAmountCents: 4900},
		{Status: StatusPaused},
		{Status: StatusCanceled},
		{Status: StatusInactive},
		nil,
	}

	sum := Summarize(rows)
	require.Equal(t, 7, sum.Total)
	require.Equal(t, 3, sum.Active)
	require.Equal(t, 1, sum.PastDue)
	require.Equal(t, 1, sum.Paused)
	require.Equal(t, 1, sum.Canceled)
	require.Equal(t, 1, sum.Inactive)
	require.Equal(t, int64(11700), sum.MRRCents)
	require.Equal(t, []PlanCount{{Name: "Gold", ActiveCount: 2}, {Name: "basic", ActiveCount: 1}}, sum.Plans)

	empty := Summarize(nil)
	require.Zero(t, empty.Total)
	require.Empty(t, empty.Plans)
}
