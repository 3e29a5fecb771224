package membership

import (
	"context"
	"sort"
	"strings"
	"time"

	"clinic-engagement/pkg/db/option"
	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/pkg/repository"
	"clinic-engagement/services/audit"
	"clinic-engagement/services/catalog"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minListLimit = 1
	maxListLimit = 300
)

var validate = validator.New()

// Service owns the membership state machine. Writes for the same
// (tenant, email) are last-write-wins.
type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	memberships repository.Repository[Membership]
	catalog     catalog.Catalog
	audit       audit.Recorder
	policy      policy.Policy
	now         func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Catalog catalog.Catalog
	Audit   audit.Recorder
	Policy  policy.Policy
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		memberships: repository.ProvideStore[Membership](p.DB),
		catalog:     p.Catalog,
		audit:       p.Audit,
		policy:      p.Policy,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ResolveStatusForPayment maps a payment outcome onto a membership status.
func ResolveStatusForPayment(payment PaymentStatus, current Status) Status {
	switch payment {
	case PaymentPaid:
		return StatusActive
	case PaymentFailed, PaymentPastDue:
		return StatusPastDue
	case PaymentCanceled:
		return StatusCanceled
	}
	return current
}

// applyPeriodRules keeps the period and cancellation fields consistent with
// m.Status.
func applyPeriodRules(m *Membership, now time.Time, cycle time.Duration) {
	if m.Status.Entitling() {
		if m.CurrentPeriodEnd == nil {
			end := now.Add(cycle)
			m.CurrentPeriodEnd = &end
		}
		if m.NextChargeAt == nil {
			next := *m.CurrentPeriodEnd
			m.NextChargeAt = &next
		}
		m.CanceledAt = nil
		return
	}

	m.CurrentPeriodEnd = nil
	m.NextChargeAt = nil
	if m.CanceledAt == nil {
		at := now
		m.CanceledAt = &at
	}
}

func (s *Service) Activate(ctx context.Context, p ActivateParams) (*Membership, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.PlanID = strings.TrimSpace(p.PlanID)
	p.Name = strings.TrimSpace(p.Name)
	if err := validate.Struct(p); err != nil {
		return nil, errutil.FromValidation(err)
	}

	payment := PaymentPaid
	if strings.TrimSpace(p.PaymentStatus) != "" {
		ps, ok := ParsePaymentStatus(p.PaymentStatus)
		if !ok {
			return nil, errutil.ValidationFailed("unknown payment status", nil,
				errutil.WithDetails(errutil.Detail{Field: "payment_status", Message: p.PaymentStatus}))
		}
		payment = ps
	}

	plan, err := s.catalog.FindPlan(ctx, p.TenantID, p.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errutil.ValidationFailed("unknown membership plan", nil,
			errutil.WithDetails(errutil.Detail{Field: "plan_id", Message: p.PlanID}))
	}

	now := s.now()
	status := ResolveStatusForPayment(payment, StatusActive)

	var out *Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.memberships.WithTrx(tx)
		existing, err := repo.FindOne(ctx, &Membership{TenantID: p.TenantID, PatientEmail: p.Email}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		m := existing
		if m == nil {
			m = &Membership{
				ID:           s.node.Generate().String(),
				TenantID:     p.TenantID,
				PatientEmail: p.Email,
				StartedAt:    now,
				CreatedAt:    now,
			}
		}

		m.PatientName = firstNonEmpty(p.Name, m.PatientName, localPart(p.Email))
		m.PlanID = plan.ID
		m.PlanName = firstNonEmpty(plan.Name, plan.ID, defaultPlanName)
		m.MonthlyAmountCents = plan.PriceCents
		m.Currency = s.policy.Currency
		m.Status = status
		m.LastPaymentStatus = payment
		m.UpdatedAt = now

		if status.Entitling() {
			end := now.Add(s.policy.BillingCycle)
			next := end
			m.CurrentPeriodEnd = &end
			m.NextChargeAt = &next
			m.CanceledAt = nil
		} else {
			at := now
			m.CurrentPeriodEnd = nil
			m.NextChargeAt = nil
			m.CanceledAt = &at
		}

		out = m
		if existing == nil {
			return repo.Create(ctx, m)
		}
		return repo.Update(ctx, m.ID, m.columns())
	})
	if err != nil {
		zap.L().Error("failed to activate membership",
			zap.String("tenant_id", p.TenantID),
			zap.String("plan_id", p.PlanID),
			zap.Error(err))
		return nil, err
	}

	s.record(ctx, audit.Entry{
		TenantID:   p.TenantID,
		ActorID:    p.ActorID,
		Action:     audit.ActionMembershipActivated,
		EntityType: "membership",
		EntityID:   out.ID,
		Metadata: map[string]any{
			"plan_id":        out.PlanID,
			"status":         out.Status,
			"payment_status": out.LastPaymentStatus,
		},
	})

	return out, nil
}

func (s *Service) SetStatus(ctx context.Context, p SetStatusParams) (*Membership, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if err := validate.Struct(p); err != nil {
		return nil, errutil.FromValidation(err)
	}

	status, ok := ParseStatus(p.Status)
	if !ok {
		return nil, errutil.ValidationFailed("unknown membership status", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: p.Status}))
	}

	var payment PaymentStatus
	if p.PaymentStatus != nil {
		ps, ok := ParsePaymentStatus(*p.PaymentStatus)
		if !ok {
			return nil, errutil.ValidationFailed("unknown payment status", nil,
				errutil.WithDetails(errutil.Detail{Field: "payment_status", Message: *p.PaymentStatus}))
		}
		payment = ps
	}

	now := s.now()
	var (
		out      *Membership
		previous Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.memberships.WithTrx(tx)
		m, err := repo.FindOne(ctx, &Membership{TenantID: p.TenantID, PatientEmail: p.Email}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if m == nil {
			return errutil.NotFound("membership not found", nil)
		}

		previous = m.Status
		m.Status = status
		if payment != "" {
			m.LastPaymentStatus = payment
		} else if m.LastPaymentStatus == "" {
			m.LastPaymentStatus = PaymentPending
		}
		applyPeriodRules(m, now, s.policy.BillingCycle)
		m.UpdatedAt = now

		out = m
		return repo.Update(ctx, m.ID, m.columns())
	})
	if err != nil {
		if !errutil.Is(err, errutil.StatusNotFound) {
			zap.L().Error("failed to update membership status",
				zap.String("tenant_id", p.TenantID),
				zap.String("status", string(status)),
				zap.Error(err))
		}
		return nil, err
	}

	s.record(ctx, audit.Entry{
		TenantID:   p.TenantID,
		ActorID:    p.ActorID,
		Action:     audit.ActionMembershipStatusChanged,
		EntityType: "membership",
		EntityID:   out.ID,
		Metadata: map[string]any{
			"from":           previous,
			"to":             out.Status,
			"payment_status": out.LastPaymentStatus,
		},
	})

	return out, nil
}

// Synchronize reconciles a stored row with the catalog and the period rules.
// Nothing is written when the row is already consistent.
func (s *Service) Synchronize(ctx context.Context, m *Membership) (*Membership, error) {
	if m == nil {
		return nil, nil
	}

	plan, err := s.catalog.FindPlan(ctx, m.TenantID, m.PlanID)
	if err != nil {
		return nil, err
	}

	next := *m
	if plan != nil {
		next.PlanName = firstNonEmpty(plan.Name, m.PlanName, m.PlanID, defaultPlanName)
		next.MonthlyAmountCents = plan.PriceCents
	} else {
		next.PlanName = firstNonEmpty(m.PlanName, m.PlanID, defaultPlanName)
	}

	current, ok := ParseStatus(string(m.Status))
	if !ok {
		current = StatusInactive
	}
	payment, ok := ParsePaymentStatus(string(m.LastPaymentStatus))
	if !ok {
		payment = PaymentPending
	}
	next.Status = current
	if current != StatusCanceled && current != StatusInactive {
		next.Status = ResolveStatusForPayment(payment, current)
	}

	now := s.now()
	applyPeriodRules(&next, now, s.policy.BillingCycle)

	if !changed(m, &next) {
		return m, nil
	}

	next.UpdatedAt = now
	if err := s.memberships.Update(ctx, next.ID, next.columns()); err != nil {
		zap.L().Error("failed to synchronize membership",
			zap.String("tenant_id", m.TenantID),
			zap.String("membership_id", m.ID),
			zap.Error(err))
		return nil, err
	}
	return &next, nil
}

func (s *Service) Get(ctx context.Context, tenantID, email string) (*Membership, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" || email == "" {
		return nil, errutil.ValidationFailed("tenant_id and email are required", nil)
	}

	m, err := s.memberships.FindOne(ctx, &Membership{TenantID: tenantID, PatientEmail: email})
	if err != nil {
		zap.L().Error("failed to load membership", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	if m == nil {
		return nil, errutil.NotFound("membership not found", nil)
	}
	return s.Synchronize(ctx, m)
}

// ListSynchronized returns every membership of the tenant after
// reconciliation, ordered by email.
func (s *Service) ListSynchronized(ctx context.Context, tenantID string) ([]*Membership, error) {
	rows, err := s.memberships.Find(ctx, &Membership{TenantID: tenantID}, option.WithOrder("patient_email ASC"))
	if err != nil {
		zap.L().Error("failed to list memberships", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	out := make([]*Membership, 0, len(rows))
	for _, row := range rows {
		m, err := s.Synchronize(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*Membership, error) {
	if limit < minListLimit {
		limit = minListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.memberships.Find(ctx, &Membership{TenantID: tenantID},
		option.WithOrder("updated_at DESC", "id DESC"),
		option.WithLimit(limit),
	)
}

// Summarize counts rows per status. MRR and plan counts only include
// active memberships.
func Summarize(rows []*Membership) Summary {
	sum := Summary{Plans: []PlanCount{}}
	plans := map[string]int{}

	for _, m := range rows {
		if m == nil {
			continue
		}
		sum.Total++
		switch m.Status {
		case StatusActive:
			sum.Active++
			sum.MRRCents += m.MonthlyAmountCents
			plans[firstNonEmpty(m.PlanName, m.PlanID, defaultPlanName)]++
		case StatusPastDue:
			sum.PastDue++
		case StatusPaused:
			sum.Paused++
		case StatusCanceled:
			sum.Canceled++
		default:
			sum.Inactive++
		}
	}

	for name, count := range plans {
		sum.Plans = append(sum.Plans, PlanCount{Name: name, ActiveCount: count})
	}
	sort.Slice(sum.Plans, func(i, j int) bool {
		if sum.Plans[i].ActiveCount != sum.Plans[j].ActiveCount {
			return sum.Plans[i].ActiveCount > sum.Plans[j].ActiveCount
		}
		return sum.Plans[i].Name < sum.Plans[j].Name
	})
	return sum
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, e); err != nil {
		zap.L().Warn("membership audit entry dropped", zap.String("action", e.Action), zap.Error(err))
	}
}

func changed(a, b *Membership) bool {
	return a.PlanName != b.PlanName ||
		a.MonthlyAmountCents != b.MonthlyAmountCents ||
		a.Status != b.Status ||
		!sameTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) ||
		!sameTime(a.NextChargeAt, b.NextChargeAt) ||
		!sameTime(a.CanceledAt, b.CanceledAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
