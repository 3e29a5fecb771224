package audience

import (
	"sort"
	"strings"
	"time"

	"clinic-engagement/pkg/policy"
	"clinic-engagement/pkg/util"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"
)

type Trigger string

const (
	TriggerBroadcast         Trigger = "broadcast"
	TriggerInactive30d       Trigger = "inactive_30d"
	TriggerAbandonedCart24h  Trigger = "abandoned_cart_24h"
	TriggerMembershipPastDue Trigger = "membership_past_due"
	TriggerMembershipWinback Trigger = "membership_canceled_winback"
)

func (t Trigger) String() string { return string(t) }

// Recurring triggers are re-evaluated on a schedule. Broadcasts run once.
func (t Trigger) Recurring() bool { return t != TriggerBroadcast }

func ParseTrigger(v string) (Trigger, bool) {
	t := Trigger(strings.ToLower(strings.TrimSpace(v)))
	switch t {
	case TriggerBroadcast, TriggerInactive30d, TriggerAbandonedCart24h, TriggerMembershipPastDue, TriggerMembershipWinback:
		return t, true
	}
	return "", false
}

const (
	idKeyPrefix    = "id:"
	maxActorKeyLen = 20
)

// Profile is a recipient derived from memberships and ledger events. It is
// never stored.
type Profile struct {
	Key              string     `json:"key"`
	Email            string     `json:"email,omitempty"`
	Name             string     `json:"name,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	ExternalUserID   string     `json:"external_user_id,omitempty"`
	MembershipStatus string     `json:"membership_status"`
	PaymentStatus    string     `json:"payment_status,omitempty"`
	LastAppOpenAt    *time.Time `json:"last_app_open_at,omitempty"`
	LastAddToCartAt  *time.Time `json:"last_add_to_cart_at,omitempty"`
	LastPurchaseAt   *time.Time `json:"last_purchase_at,omitempty"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
}

// Fragments emits one partial profile per membership and per event with a
// recoverable identity. Events after now are ignored.
func Fragments(memberships []*membership.Membership, events []*ledger.Event, now time.Time) []Profile {
	out := make([]Profile, 0, len(memberships)+len(events))

	for _, m := range memberships {
		if m == nil {
			continue
		}
		email := ledger.SanitizeEmail(m.PatientEmail)
		if email == "" {
			continue
		}
		out = append(out, Profile{
			Key:              email,
			Email:            email,
			Name:             preferNonEmpty(ledger.SanitizeName(m.PatientName), localPart(email)),
			ExternalUserID:   email,
			MembershipStatus: string(m.Status),
			PaymentStatus:    string(m.LastPaymentStatus),
		})
	}

	for _, ev := range events {
		if ev == nil || ev.CreatedAt.After(now) {
			continue
		}
		meta, err := ev.Meta()
		if err != nil {
			continue
		}

		email := meta.Email()
		actor := meta.ActorKey()
		key := email
		if key == "" {
			if actor == "" {
				continue
			}
			key = idKeyPrefix + actor
		}

		at := ev.CreatedAt
		p := Profile{
			Key:            key,
			Email:          email,
			Name:           preferNonEmpty(meta.DisplayName(), localPart(email), util.Truncate(actor, maxActorKeyLen)),
			Phone:          meta.Phone(),
			ExternalUserID: preferNonEmpty(meta.ExternalUserID(), actor),
			LastSeenAt:     &at,
		}
		switch ev.Kind {
		case ledger.KindAppOpen:
			p.LastAppOpenAt = &at
		case ledger.KindAddToCart:
			p.LastAddToCartAt = &at
		case ledger.KindPurchaseSuccess:
			p.LastPurchaseAt = &at
		}
		out = append(out, p)
	}

	return out
}

// Merge reduces fragments by key. Text fields keep the first non-empty value
// and timestamps keep the latest. Output is sorted by key.
func Merge(fragments []Profile) []Profile {
	byKey := make(map[string]*Profile, len(fragments))
	for _, f := range fragments {
		if f.Key == "" {
			continue
		}
		cur, ok := byKey[f.Key]
		if !ok {
			p := f
			byKey[f.Key] = &p
			continue
		}
		cur.Email = preferNonEmpty(cur.Email, f.Email)
		cur.Name = preferNonEmpty(cur.Name, f.Name)
		cur.Phone = preferNonEmpty(cur.Phone, f.Phone)
		cur.ExternalUserID = preferNonEmpty(cur.ExternalUserID, f.ExternalUserID)
		cur.MembershipStatus = preferNonEmpty(cur.MembershipStatus, f.MembershipStatus)
		cur.PaymentStatus = preferNonEmpty(cur.PaymentStatus, f.PaymentStatus)
		cur.LastAppOpenAt = latest(cur.LastAppOpenAt, f.LastAppOpenAt)
		cur.LastAddToCartAt = latest(cur.LastAddToCartAt, f.LastAddToCartAt)
		cur.LastPurchaseAt = latest(cur.LastPurchaseAt, f.LastPurchaseAt)
		cur.LastSeenAt = latest(cur.LastSeenAt, f.LastSeenAt)
	}

	out := make([]Profile, 0, len(byKey))
	for _, p := range byKey {
		if p.MembershipStatus == "" {
			p.MembershipStatus = string(membership.StatusInactive)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Select keeps the profiles matched by trigger at now.
func Select(profiles []Profile, trigger Trigger, now time.Time, pol policy.Policy) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if matches(p, trigger, now, pol) {
			out = append(out, p)
		}
	}
	return out
}

func matches(p Profile, trigger Trigger, now time.Time, pol policy.Policy) bool {
	switch trigger {
	case TriggerBroadcast:
		return true
	case TriggerMembershipPastDue:
		return p.MembershipStatus == string(membership.StatusPastDue)
	case TriggerMembershipWinback:
		return p.MembershipStatus == string(membership.StatusCanceled)
	case TriggerInactive30d:
		if p.LastSeenAt == nil {
			return false
		}
		return p.LastAppOpenAt == nil || p.LastAppOpenAt.Before(now.Add(-pol.InactiveWindow))
	case TriggerAbandonedCart24h:
		if p.LastAddToCartAt == nil || p.LastAddToCartAt.Before(now.Add(-pol.AbandonedCartWindow)) {
			return false
		}
		return p.LastPurchaseAt == nil || !p.LastPurchaseAt.After(*p.LastAddToCartAt)
	}
	return false
}

func preferNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b != nil && b.After(*a) {
		return b
	}
	return a
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return ""
}
