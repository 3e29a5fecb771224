package audit

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
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	logs repository.Repository[AuditLog]
	now  func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		logs: repository.ProvideStore[AuditLog](p.DB),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	if e.TenantID == "" {
		return errutil.ValidationFailed("tenant_id is required", nil)
	}

	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}

	log := &AuditLog{
		ID:         s.node.Generate().String(),
		TenantID:   e.TenantID,
		ActorID:    e.ActorID,
		Action:     sanitize(e.Action, "unknown", maxActionLen),
		EntityType: sanitize(e.EntityType, "unknown", maxEntityTypeLen),
		EntityID:   sanitize(e.EntityID, "", maxEntityIDLen),
		Metadata:   datatypes.JSON(raw),
		CreatedAt:  s.now(),
	}
	if err := s.logs.Create(ctx, log); err != nil {
		zap.L().Error("failed to write audit log",
			zap.String("tenant_id", e.TenantID),
			zap.String("action", log.Action),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) Recent(ctx context.Context, tenantID string, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.logs.Find(ctx, &AuditLog{TenantID: tenantID},
		option.WithOrder("created_at DESC", "id DESC"),
		option.WithLimit(limit),
	)
}

// CountByActor counts the tenant's audit rows in [from, to) per actor.
// Rows without an actor are ignored.
func (s *Service) CountByActor(ctx context.Context, tenantID string, from, to time.Time) (map[string]int64, error) {
	type row struct {
		ActorID string
		Total   int64
	}

	var rows []row
	err := s.db.WithContext(ctx).Model(&AuditLog{}).
		Select("actor_id, COUNT(*) AS total").
		Where("tenant_id = ? AND actor_id <> ''", tenantID).
		Scopes(option.WithTimeRange("created_at", from.UTC(), to.UTC())).
		Group("actor_id").
		Scan(&rows).Error
	if err != nil {
		zap.L().Error("failed to count audit rows", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ActorID] = r.Total
	}
	return out, nil
}

func sanitize(v, fallback string, max int) string {
	v = strings.TrimSpace(v)
	if v == "" {
		v = fallback
	}
	return util.Truncate(v, max)
}
