package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"clinic-engagement/pkg/db/option"
	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/repository"
	"clinic-engagement/pkg/util"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxRecentLimit = 50000

var validate = validator.New()

type Service struct {
	node   *snowflake.Node
	events repository.Repository[Event]
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:   p.Node,
		events: repository.ProvideStore[Event](p.DB),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one event. Nothing is written when validation fails.
func (s *Service) Record(ctx context.Context, p RecordParams) (string, error) {
	if err := validate.Struct(p); err != nil {
		return "", errutil.FromValidation(err)
	}

	kind, ok := ParseKind(p.Kind)
	if !ok {
		return "", errutil.ValidationFailed("unknown event kind", nil, errutil.WithDetails(errutil.Detail{Field: "kind", Message: p.Kind}))
	}

	meta := p.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", errutil.ValidationFailed("metadata is not serialisable", err)
	}

	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = defaultSource
	}

	ev := &Event{
		ID:          s.node.Generate().String(),
		TenantID:    p.TenantID,
		ActorID:     strings.TrimSpace(p.ActorID),
		Kind:        kind,
		SubjectID:   util.Truncate(strings.TrimSpace(p.SubjectID), maxSubjectLen),
		AmountCents: p.AmountCents,
		Metadata:    datatypes.JSON(raw),
		Source:      util.Truncate(source, maxSourceLen),
		CreatedAt:   s.now(),
	}
	ev.Hash = ev.GenerateHash()

	if err := s.events.Create(ctx, ev); err != nil {
		zap.L().Error("failed to record event",
			zap.String("tenant_id", p.TenantID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return "", err
	}

	return ev.ID, nil
}

// Window returns the tenant's events in [from, to) oldest first.
func (s *Service) Window(ctx context.Context, tenantID string, w Window) ([]*Event, error) {
	if tenantID == "" {
		return nil, errutil.ValidationFailed("tenant_id is required", nil)
	}
	if !w.From.Before(w.To) {
		return []*Event{}, nil
	}

	events, err := s.events.Find(ctx, &Event{TenantID: tenantID},
		option.WithTimeRange("created_at", w.From.UTC(), w.To.UTC()),
		option.WithOrder("created_at ASC", "id ASC"),
	)
	if err != nil {
		zap.L().Error("failed to load event window", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return events, nil
}

// Recent returns up to limit events newest first.
func (s *Service) Recent(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	if tenantID == "" {
		return nil, errutil.ValidationFailed("tenant_id is required", nil)
	}
	if limit <= 0 || limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	events, err := s.events.Find(ctx, &Event{TenantID: tenantID},
		option.WithOrder("created_at DESC", "id DESC"),
		option.WithLimit(limit),
	)
	if err != nil {
		zap.L().Error("failed to load recent events", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return events, nil
}

