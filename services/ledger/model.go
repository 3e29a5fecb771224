package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Kind string

const (
	KindAppOpen          Kind = "app_open"
	KindOfferView        Kind = "offer_view"
	KindAddToCart        Kind = "add_to_cart"
	KindPurchaseSuccess  Kind = "purchase_success"
	KindMembershipJoin   Kind = "membership_join"
	KindRewardClaim      Kind = "reward_claim"
	KindRewardRedeem     Kind = "reward_redeem"
	KindCampaignRun      Kind = "campaign_run"
	KindCampaignDelivery Kind = "campaign_delivery"
)

var kinds = map[Kind]struct{}{
	KindAppOpen:          {},
	KindOfferView:        {},
	KindAddToCart:        {},
	KindPurchaseSuccess:  {},
	KindMembershipJoin:   {},
	KindRewardClaim:      {},
	KindRewardRedeem:     {},
	KindCampaignRun:      {},
	KindCampaignDelivery: {},
}

// ParseKind normalises s and reports whether it names a known event kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := kinds[k]
	return k, ok
}

const (
	maxSubjectLen = 100
	maxSourceLen  = 40
	defaultSource = "unknown"
)

var ErrImmutableEvent = errors.New("ledger: events are append-only")

type Event struct {
	ID          string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	TenantID    string         `gorm:"column:tenant_id;size:64;not null;index:idx_engagement_events_tenant_created,priority:1" json:"tenant_id"`
	ActorID     string         `gorm:"column:actor_id;size:64;index" json:"actor_id,omitempty"`
	Kind        Kind           `gorm:"column:kind;size:40;not null" json:"kind"`
	SubjectID   string         `gorm:"column:subject_id;size:100" json:"subject_id,omitempty"`
	AmountCents *int64         `gorm:"column:amount_cents" json:"amount_cents,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	Source      string         `gorm:"column:source;size:40" json:"source"`
	Hash        string         `gorm:"column:hash;size:64" json:"hash"`
	CreatedAt   time.Time      `gorm:"column:created_at;index:idx_engagement_events_tenant_created,priority:2" json:"created_at"`
}

func (Event) TableName() string { return "engagement_events" }

func (e *Event) BeforeUpdate(*gorm.DB) error { return ErrImmutableEvent }

func (e *Event) BeforeDelete(*gorm.DB) error { return ErrImmutableEvent }

// Amount returns the amount in cents, treating a missing amount as zero.
func (e *Event) Amount() int64 {
	if e.AmountCents == nil {
		return 0
	}
	return *e.AmountCents
}

// Meta decodes the metadata column. Malformed JSON yields an empty map and
// the decode error so callers can degrade the event.
func (e *Event) Meta() (Metadata, error) {
	if len(e.Metadata) == 0 {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal(e.Metadata, &m); err != nil {
		return Metadata{}, err
	}
	if m == nil {
		return Metadata{}, nil
	}
	return m, nil
}

func (e *Event) HashFields() map[string]string {
	amount := ""
	if e.AmountCents != nil {
		amount = fmt.Sprintf("%d", *e.AmountCents)
	}
	return map[string]string{
		"id":           e.ID,
		"tenant_id":    e.TenantID,
		"actor_id":     e.ActorID,
		"kind":         string(e.Kind),
		"subject_id":   e.SubjectID,
		"amount_cents": amount,
		"metadata":     string(e.Metadata),
		"source":       e.Source,
		"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (e *Event) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether the stored hash still matches the row contents.
func (e *Event) Verify() bool {
	return e.Hash != "" && e.Hash == e.GenerateHash()
}

type RecordParams struct {
	TenantID    string   `validate:"required"`
	Kind        string   `validate:"required"`
	ActorID     string   `validate:"omitempty,max=64"`
	SubjectID   string
	AmountCents *int64   `validate:"omitempty,gte=0"`
	Metadata    Metadata
	Source      string
}

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}
