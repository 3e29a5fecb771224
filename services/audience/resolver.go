package audience

import (
	"context"
	"time"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type MembershipSource interface {
	ListSynchronized(ctx context.Context, tenantID string) ([]*membership.Membership, error)
}

type EventSource interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]*ledger.Event, error)
}

type Resolver struct {
	memberships MembershipSource
	events      EventSource
	policy      policy.Policy
}

type ResolverParams struct {
	fx.In
	Memberships *membership.Service
	Events      *ledger.Service
	Policy      policy.Policy
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		memberships: p.Memberships,
		events:      p.Events,
		policy:      p.Policy,
	}
}

// Resolve returns the tenant's recipients for trigger at now, sorted by key.
func (r *Resolver) Resolve(ctx context.Context, tenantID, trigger string, now time.Time) ([]Profile, error) {
	t, ok := ParseTrigger(trigger)
	if !ok {
		return nil, errutil.ValidationFailed("unknown trigger type", nil,
			errutil.WithDetails(errutil.Detail{Field: "trigger_type", Message: trigger}))
	}
	if tenantID == "" {
		return nil, errutil.ValidationFailed("tenant_id is required", nil)
	}

	memberships, err := r.memberships.ListSynchronized(ctx, tenantID)
	if err != nil {
		zap.L().Error("failed to load memberships for segmentation", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	events, err := r.events.Recent(ctx, tenantID, r.policy.SegmentScanLimit)
	if err != nil {
		zap.L().Error("failed to load events for segmentation", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	profiles := Select(Merge(Fragments(memberships, events, now)), t, now, r.policy)
	zap.L().Debug("audience resolved",
		zap.String("tenant_id", tenantID),
		zap.String("trigger", string(t)),
		zap.Int("profiles", len(profiles)))
	return profiles, nil
}

func (r *Resolver) Estimate(ctx context.Context, tenantID, trigger string, now time.Time) (int, error) {
	profiles, err := r.Resolve(ctx, tenantID, trigger, now)
	if err != nil {
		return 0, err
	}
	return len(profiles), nil
}
