package membership

import (
	"context"
	"strings"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/services/catalog"
)

// PriceForTreatment picks the unit price a patient pays. Only an active
// membership unlocks member or included pricing.
func PriceForTreatment(t *catalog.Treatment, m *Membership, plan *catalog.Plan) Pricing {
	if t == nil {
		return Pricing{PriceSource: PriceStandard}
	}

	standard := t.PriceCents
	member := standard
	if t.MemberPriceCents != nil {
		member = *t.MemberPriceCents
	}

	p := Pricing{
		TreatmentID:        t.ID,
		UnitPriceCents:     standard,
		StandardPriceCents: standard,
		MemberPriceCents:   member,
		PriceSource:        PriceStandard,
	}
	if m == nil {
		return p
	}

	p.MembershipStatus = m.Status
	p.MembershipID = m.ID
	if m.Status != StatusActive {
		return p
	}

	if plan != nil && plan.ID == m.PlanID && plan.Includes(t.ID) {
		p.UnitPriceCents = 0
		p.PriceSource = PriceIncluded
		return p
	}
	p.UnitPriceCents = member
	p.PriceSource = PriceMember
	return p
}

// Quote prices a treatment for an optional patient email. An unknown email
// gets standard pricing.
func (s *Service) Quote(ctx context.Context, tenantID, treatmentID, email string) (*Pricing, error) {
	treatmentID = strings.TrimSpace(treatmentID)
	if tenantID == "" || treatmentID == "" {
		return nil, errutil.ValidationFailed("tenant_id and treatment_id are required", nil)
	}

	t, err := s.catalog.FindTreatment(ctx, tenantID, treatmentID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errutil.NotFound("treatment not found", nil)
	}

	var (
		m    *Membership
		plan *catalog.Plan
	)
	if strings.TrimSpace(email) != "" {
		m, err = s.Get(ctx, tenantID, email)
		if err != nil && !errutil.Is(err, errutil.StatusNotFound) {
			return nil, err
		}
		if m != nil {
			plan, err = s.catalog.FindPlan(ctx, tenantID, m.PlanID)
			if err != nil {
				return nil, err
			}
		}
	}

	p := PriceForTreatment(t, m, plan)
	return &p, nil
}
