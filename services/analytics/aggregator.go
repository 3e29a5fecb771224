package analytics

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/catalog"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("clinic-engagement/services/analytics")

type EventSource interface {
	Window(ctx context.Context, tenantID string, w ledger.Window) ([]*ledger.Event, error)
}

type MembershipSource interface {
	ListSynchronized(ctx context.Context, tenantID string) ([]*membership.Membership, error)
}

type ActionCounter interface {
	CountByActor(ctx context.Context, tenantID string, from, to time.Time) (map[string]int64, error)
}

type TreatmentSource interface {
	FindTreatments(ctx context.Context, tenantID string, ids []string) (map[string]*catalog.Treatment, error)
}

// Aggregator derives revenue and engagement reports from the event ledger.
type Aggregator struct {
	events      EventSource
	memberships MembershipSource
	actions     ActionCounter
	staff       StaffDirectory
	treatments  TreatmentSource
	policy      policy.Policy
}

type AggregatorParams struct {
	fx.In
	Events      *ledger.Service
	Memberships *membership.Service
	Audit       *audit.Service
	Staff       StaffDirectory
	Catalog     *catalog.Service
	Policy      policy.Policy
}

func NewAggregator(p AggregatorParams) *Aggregator {
	return &Aggregator{
		events:      p.Events,
		memberships: p.Memberships,
		actions:     p.Audit,
		staff:       p.Staff,
		treatments:  p.Catalog,
		policy:      p.Policy,
	}
}

// Summary scans the tenant's events in w once and builds the report. Events
// with unreadable metadata are counted as degraded rather than failing the
// report.
func (a *Aggregator) Summary(ctx context.Context, tenantID string, w Window) (*Report, error) {
	if tenantID == "" {
		return nil, errutil.ValidationFailed("tenant_id is required", nil)
	}
	ctx, span := tracer.Start(ctx, "analytics.summary", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("from", w.From.Format(time.RFC3339)),
		attribute.String("to", w.To.Format(time.RFC3339)),
	))
	defer span.End()

	events, err := a.events.Window(ctx, tenantID, ledger.Window{From: w.From, To: w.To})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	memberships, err := a.memberships.ListSynchronized(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	staff, err := a.listStaff(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	auditCounts, err := a.countActions(ctx, tenantID, w)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	b := newBuilder(staff)
	for _, e := range events {
		b.add(e)
	}
	for actorID, n := range auditCounts {
		if st, ok := b.staff[actorID]; ok {
			st.Actions += n
		}
	}

	report := b.finish(w, membership.Summarize(memberships), a.policy)
	a.nameTreatments(ctx, tenantID, report.TopTreatments)

	span.SetAttributes(
		attribute.Int64("events_total", report.Summary.EventsTotal),
		attribute.Int64("degraded_events", report.Summary.DegradedEvents),
	)
	if report.Summary.DegradedEvents > 0 {
		zap.L().Warn("analytics summary degraded",
			zap.String("tenant_id", tenantID),
			zap.Int64("degraded_events", report.Summary.DegradedEvents),
			zap.Int64("unattributed_revenue_cents", report.Summary.UnattributedRevenueCents))
	}
	return report, nil
}

// Compare builds the report for w and, for prev and yoy, the baseline
// report and per-metric deltas.
func (a *Aggregator) Compare(ctx context.Context, tenantID string, w Window, mode CompareMode) (*Report, *Comparison, error) {
	current, err := a.Summary(ctx, tenantID, w)
	if err != nil {
		return nil, nil, err
	}

	cmp := &Comparison{Mode: ParseCompareMode(string(mode)), CurrentWindow: current.Window, Deltas: map[string]Delta{}}
	baseline, ok := BaselineWindow(w, cmp.Mode)
	if !ok {
		cmp.Mode = CompareNone
		return current, cmp, nil
	}

	prev, err := a.Summary(ctx, tenantID, baseline)
	if err != nil {
		return nil, nil, err
	}
	cmp.Enabled = true
	cmp.BaselineWindow = &prev.Window
	cmp.Deltas = Deltas(current.Summary, prev.Summary)
	return current, cmp, nil
}

// BaselineWindow returns the window a comparison in mode measures against.
func BaselineWindow(w Window, mode CompareMode) (Window, bool) {
	switch mode {
	case ComparePrevious:
		return Window{From: w.From.Add(-w.Len()), To: w.From}, true
	case CompareYoY:
		return Window{From: w.From.Add(-365 * day), To: w.To.Add(-365 * day)}, true
	default:
		return Window{}, false
	}
}

func Deltas(current, baseline Summary) map[string]Delta {
	pick := func(s Summary) map[string]int64 {
		return map[string]int64{
			"dailyProcessingCents": s.DailyProcessingCents,
			"revenueCents":         s.RevenueCents,
			"membershipsMrrCents":  s.MembershipsMRRCents,
			"appUserLtvCents":      s.AppUserLTVCents,
			"clientLtvCents":       s.ClientLTVCents,
			"activeUsers":          s.ActiveUsers,
			"rewardClaim":          s.RewardClaim,
			"appOpen":              s.AppOpen,
			"purchaseSuccess":      s.PurchaseSuccess,
		}
	}
	cur, base := pick(current), pick(baseline)
	out := make(map[string]Delta, len(cur))
	for k, c := range cur {
		out[k] = NewDelta(c, base[k])
	}
	return out
}

func NewDelta(current, baseline int64) Delta {
	d := Delta{Current: current, Baseline: baseline, Delta: current - baseline}
	switch {
	case baseline == 0 && current == 0:
		d.DeltaPercent = 0
	case baseline == 0:
		d.DeltaPercent = 100
	default:
		d.DeltaPercent = round2(float64(d.Delta) / float64(baseline) * 100)
	}
	return d
}

func (a *Aggregator) listStaff(ctx context.Context, tenantID string) ([]*StaffMember, error) {
	if a.staff == nil {
		return nil, nil
	}
	return a.staff.ListStaff(ctx, tenantID)
}

func (a *Aggregator) countActions(ctx context.Context, tenantID string, w Window) (map[string]int64, error) {
	if a.actions == nil {
		return nil, nil
	}
	return a.actions.CountByActor(ctx, tenantID, w.From, w.To)
}

// nameTreatments fills display names from the catalog. Lookup failures leave
// the names empty.
func (a *Aggregator) nameTreatments(ctx context.Context, tenantID string, stats []TreatmentStat) {
	if a.treatments == nil || len(stats) == 0 {
		return
	}
	ids := make([]string, 0, len(stats))
	for _, s := range stats {
		ids = append(ids, s.TreatmentID)
	}
	found, err := a.treatments.FindTreatments(ctx, tenantID, ids)
	if err != nil {
		zap.L().Warn("failed to resolve treatment names", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	for i := range stats {
		if t, ok := found[stats[i].TreatmentID]; ok {
			stats[i].Name = t.Name
		}
	}
}

type builder struct {
	counters   Counters
	sources    RevenueSources
	degraded   int64
	unassigned int64
	staff      map[string]*StaffStat
	treatments map[string]*TreatmentStat
	days       map[string]*DayBucket
	users      map[string]struct{}
	sessions   map[string]struct{}
}

func newBuilder(staff []*StaffMember) *builder {
	b := &builder{
		staff:      make(map[string]*StaffStat, len(staff)),
		treatments: map[string]*TreatmentStat{},
		days:       map[string]*DayBucket{},
		users:      map[string]struct{}{},
		sessions:   map[string]struct{}{},
	}
	for _, s := range staff {
		name := s.Name
		if name == "" {
			name = s.Email
		}
		if name == "" {
			name = "Team"
		}
		b.staff[s.ID] = &StaffStat{StaffID: s.ID, Name: name, Email: s.Email, Role: s.Role}
	}
	return b
}

func (b *builder) add(e *ledger.Event) {
	b.counters.EventsTotal++

	meta, err := e.Meta()
	malformed := err != nil
	if malformed {
		b.degraded++
	}
	amount := e.Amount()

	if e.ActorID != "" {
		b.users[e.ActorID] = struct{}{}
	}
	if sid := meta.SessionID(); sid != "" {
		b.sessions[sid] = struct{}{}
	}

	date := e.CreatedAt.UTC().Format(time.DateOnly)
	bucket, ok := b.days[date]
	if !ok {
		bucket = &DayBucket{Date: date}
		b.days[date] = bucket
	}

	switch e.Kind {
	case ledger.KindAppOpen:
		b.counters.AppOpen++
		bucket.AppOpen++
	case ledger.KindOfferView:
		b.counters.OfferView++
		bucket.OfferView++
	case ledger.KindAddToCart:
		b.counters.AddToCart++
		bucket.AddToCart++
	case ledger.KindPurchaseSuccess:
		b.counters.PurchaseSuccess++
		b.counters.RevenueCents += amount
		bucket.PurchaseSuccess++
		bucket.RevenueCents += amount
		if malformed {
			b.unassigned += amount
			break
		}
		switch classifyPurchase(e.SubjectID, meta) {
		case sourceCustomPlans:
			b.sources.CustomPlans += amount
		case sourceNotificationOffers:
			b.sources.NotificationOffers += amount
		default:
			b.sources.Shop += amount
		}
	case ledger.KindMembershipJoin:
		b.counters.MembershipJoin++
	case ledger.KindRewardClaim:
		b.counters.RewardClaim++
	case ledger.KindRewardRedeem:
		b.counters.RewardRedeem++
		value := amount
		if value == 0 {
			if v, ok := meta.Int("valueCents"); ok && v > 0 {
				value = v
			}
		}
		b.sources.RewardsCashBalance += value
	case ledger.KindCampaignRun:
		b.counters.CampaignRun++
	case ledger.KindCampaignDelivery:
		b.counters.CampaignDelivery++
	}

	if st, ok := b.staff[e.ActorID]; ok {
		st.Actions++
		switch e.Kind {
		case ledger.KindPurchaseSuccess:
			st.DirectRevenueCents += amount
		case ledger.KindCampaignRun, ledger.KindCampaignDelivery:
			st.CampaignDeliveries += campaignSends(e.Kind, meta)
		}
	}

	if e.SubjectID != "" {
		t, ok := b.treatments[e.SubjectID]
		if !ok {
			t = &TreatmentStat{TreatmentID: e.SubjectID}
			b.treatments[e.SubjectID] = t
		}
		switch e.Kind {
		case ledger.KindOfferView:
			t.Views++
		case ledger.KindAddToCart:
			t.AddsToCart++
		case ledger.KindPurchaseSuccess:
			t.Purchases++
			t.RevenueCents += amount
		}
	}
}

func (b *builder) finish(w Window, ms membership.Summary, pol policy.Policy) *Report {
	c := b.counters
	sum := Summary{
		Counters:                 c,
		ActiveUsers:              int64(len(b.users)),
		ActiveSessions:           int64(len(b.sessions)),
		ActiveMemberships:        int64(ms.Active),
		MembershipsMRRCents:      ms.MRRCents,
		PastDueMemberships:       int64(ms.PastDue),
		CanceledMemberships:      int64(ms.Canceled),
		UnattributedRevenueCents: b.unassigned,
		DegradedEvents:           b.degraded,
	}
	if c.OfferView > 0 {
		sum.ConversionRate = round2(float64(c.PurchaseSuccess) / float64(c.OfferView) * 100)
		sum.AddToCartRate = round2(float64(c.AddToCart) / float64(c.OfferView) * 100)
	}

	timeseries := make([]DayBucket, 0, len(b.days))
	for _, d := range b.days {
		timeseries = append(timeseries, *d)
	}
	sort.Slice(timeseries, func(i, j int) bool { return timeseries[i].Date < timeseries[j].Date })
	if n := len(timeseries); n > 0 {
		sum.DailyProcessingCents = timeseries[n-1].RevenueCents
	}
	if sum.ActiveUsers > 0 {
		sum.AppUserLTVCents = divRound(c.RevenueCents, sum.ActiveUsers)
	}
	if sum.ActiveMemberships > 0 {
		sum.ClientLTVCents = divRound(c.RevenueCents, sum.ActiveMemberships)
	}

	sources := b.sources
	sources.Memberships = max(0, ms.MRRCents)

	return &Report{
		Days:           w.Days(),
		Window:         Window{From: w.From.UTC(), To: w.To.UTC()},
		Summary:        sum,
		Memberships:    ms,
		RevenueSources: sources,
		TopTreatments:  b.topTreatments(),
		Timeseries:     timeseries,
		TopStaff:       b.attribute(sum, pol),
	}
}

func (b *builder) topTreatments() []TreatmentStat {
	out := make([]TreatmentStat, 0, len(b.treatments))
	for _, t := range b.treatments {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.Purchases != y.Purchases {
			return x.Purchases > y.Purchases
		}
		if x.RevenueCents != y.RevenueCents {
			return x.RevenueCents > y.RevenueCents
		}
		if x.Views != y.Views {
			return x.Views > y.Views
		}
		return x.TreatmentID < y.TreatmentID
	})
	if len(out) > topTreatmentsLimit {
		out = out[:topTreatmentsLimit]
	}
	return out
}

// attribute credits each staff member with direct revenue plus an estimate of
// what their campaign sends influenced. When nothing can be credited but
// revenue exists, revenue is split by activity.
func (b *builder) attribute(sum Summary, pol policy.Policy) []StaffStat {
	var avgOrder float64
	ratio := pol.AttributionFloor
	if sum.PurchaseSuccess > 0 {
		avgOrder = float64(sum.RevenueCents) / float64(sum.PurchaseSuccess)
		ratio = pol.ClampConversion(sum.ConversionRate / 100)
	}

	var totalSales int64
	for _, st := range b.staff {
		st.CampaignInfluenceCents = max(0, int64(math.Round(float64(st.CampaignDeliveries)*avgOrder*ratio)))
		st.SalesCents = max(0, st.DirectRevenueCents+st.CampaignInfluenceCents)
		totalSales += st.SalesCents
	}

	if len(b.staff) > 0 && totalSales == 0 && sum.RevenueCents > 0 {
		var weights int64
		for _, st := range b.staff {
			weights += max(1, st.Actions)
		}
		for _, st := range b.staff {
			share := float64(max(1, st.Actions)) / float64(weights)
			st.SalesCents = int64(math.Round(share * float64(sum.RevenueCents)))
		}
	}

	out := make([]StaffStat, 0, len(b.staff))
	for _, st := range b.staff {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.SalesCents != y.SalesCents {
			return x.SalesCents > y.SalesCents
		}
		if x.Actions != y.Actions {
			return x.Actions > y.Actions
		}
		return x.StaffID < y.StaffID
	})
	if len(out) > topStaffLimit {
		out = out[:topStaffLimit]
	}
	return out
}

type revenueSource int

const (
	sourceShop revenueSource = iota
	sourceCustomPlans
	sourceNotificationOffers
)

func classifyPurchase(subjectID string, meta ledger.Metadata) revenueSource {
	lower := func(keys ...string) string {
		for _, k := range keys {
			if v := meta.String(k); v != "" {
				return strings.ToLower(v)
			}
		}
		return ""
	}
	purchaseType := lower("purchaseType", "purchase_type")
	source := lower("source", "origin")
	trigger := lower("triggerType")
	channel := lower("channel")

	switch {
	case purchaseType == "custom_plan" || purchaseType == "custom" || purchaseType == "plan",
		strings.HasPrefix(subjectID, "plan_"),
		strings.Contains(subjectID, "custom"):
		return sourceCustomPlans
	case source == "campaign" || source == "offer" || source == "notification",
		trigger != "" && trigger != "broadcast",
		channel == "push" || channel == "email" || channel == "sms":
		return sourceNotificationOffers
	default:
		return sourceShop
	}
}

// campaignSends reads how many messages a campaign event represents. A run
// without a sent count falls back to its attempted count.
func campaignSends(kind ledger.Kind, meta ledger.Metadata) int64 {
	sent, _ := meta.Int("sent")
	if sent <= 0 && kind == ledger.KindCampaignRun {
		sent, _ = meta.Int("attempted")
	}
	return max(0, sent)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func divRound(a, b int64) int64 {
	return int64(math.Round(float64(a) / float64(b)))
}
