package analytics

import "clinic-engagement/services/membership"

const (
	topTreatmentsLimit = 10
	topStaffLimit      = 8
)

type CompareMode string

const (
	CompareNone     CompareMode = "none"
	ComparePrevious CompareMode = "prev"
	CompareYoY      CompareMode = "yoy"
)

// ParseCompareMode maps anything but prev and yoy to none.
func ParseCompareMode(v string) CompareMode {
	switch CompareMode(v) {
	case ComparePrevious, CompareYoY:
		return CompareMode(v)
	default:
		return CompareNone
	}
}

type Counters struct {
	AppOpen          int64 `json:"app_open"`
	OfferView        int64 `json:"offer_view"`
	AddToCart        int64 `json:"add_to_cart"`
	PurchaseSuccess  int64 `json:"purchase_success"`
	MembershipJoin   int64 `json:"membership_join"`
	RewardClaim      int64 `json:"reward_claim"`
	RewardRedeem     int64 `json:"reward_redeem"`
	CampaignRun      int64 `json:"campaign_run"`
	CampaignDelivery int64 `json:"campaign_delivery"`
	EventsTotal      int64 `json:"events_total"`
	RevenueCents     int64 `json:"revenue_cents"`
}

type Summary struct {
	Counters
	ActiveUsers              int64   `json:"active_users"`
	ActiveSessions           int64   `json:"active_sessions"`
	ConversionRate           float64 `json:"conversion_rate"`
	AddToCartRate            float64 `json:"add_to_cart_rate"`
	ActiveMemberships        int64   `json:"active_memberships"`
	MembershipsMRRCents      int64   `json:"memberships_mrr_cents"`
	PastDueMemberships       int64   `json:"past_due_memberships"`
	CanceledMemberships      int64   `json:"canceled_memberships"`
	DailyProcessingCents     int64   `json:"daily_processing_cents"`
	AppUserLTVCents          int64   `json:"app_user_ltv_cents"`
	ClientLTVCents           int64   `json:"client_ltv_cents"`
	UnattributedRevenueCents int64   `json:"unattributed_revenue_cents"`
	DegradedEvents           int64   `json:"degraded_events"`
}

type RevenueSources struct {
	Memberships        int64 `json:"memberships"`
	RewardsCashBalance int64 `json:"rewards_cash_balance"`
	NotificationOffers int64 `json:"notification_offers"`
	CustomPlans        int64 `json:"custom_plans"`
	Shop               int64 `json:"shop"`
}

// DayBucket holds one UTC calendar day of the time series.
type DayBucket struct {
	Date            string `json:"date"`
	AppOpen         int64  `json:"app_open"`
	OfferView       int64  `json:"offer_view"`
	AddToCart       int64  `json:"add_to_cart"`
	PurchaseSuccess int64  `json:"purchase_success"`
	RevenueCents    int64  `json:"revenue_cents"`
}

type TreatmentStat struct {
	TreatmentID  string `json:"treatment_id"`
	Name         string `json:"name,omitempty"`
	Views        int64  `json:"views"`
	AddsToCart   int64  `json:"adds_to_cart"`
	Purchases    int64  `json:"purchases"`
	RevenueCents int64  `json:"revenue_cents"`
}

type StaffStat struct {
	StaffID                string `json:"staff_id"`
	Name                   string `json:"name"`
	Email                  string `json:"email"`
	Role                   string `json:"role"`
	SalesCents             int64  `json:"sales_cents"`
	DirectRevenueCents     int64  `json:"direct_revenue_cents"`
	CampaignInfluenceCents int64  `json:"campaign_influence_cents"`
	CampaignDeliveries     int64  `json:"campaign_deliveries"`
	Actions                int64  `json:"actions"`
}

type Report struct {
	Days           int                `json:"days"`
	Window         Window             `json:"window"`
	Summary        Summary            `json:"summary"`
	Memberships    membership.Summary `json:"memberships"`
	RevenueSources RevenueSources     `json:"revenue_sources"`
	TopTreatments  []TreatmentStat    `json:"top_treatments"`
	Timeseries     []DayBucket        `json:"timeseries"`
	TopStaff       []StaffStat        `json:"top_staff"`
}

type Delta struct {
	Current      int64   `json:"current"`
	Baseline     int64   `json:"baseline"`
	Delta        int64   `json:"delta"`
	DeltaPercent float64 `json:"delta_percent"`
}

type Comparison struct {
	Mode           CompareMode      `json:"mode"`
	Enabled        bool             `json:"enabled"`
	CurrentWindow  Window           `json:"current_window"`
	BaselineWindow *Window          `json:"baseline_window,omitempty"`
	Deltas         map[string]Delta `json:"deltas"`
}
