package httpapi

import (
	"context"
	"net/http"
	"time"

	"clinic-engagement/pkg/config"
	"clinic-engagement/pkg/db/pagination"
	"clinic-engagement/pkg/health"
	"clinic-engagement/pkg/middleware"
	"clinic-engagement/services/analytics"
	"clinic-engagement/services/audience"
	"clinic-engagement/services/campaign"
	"clinic-engagement/services/delivery"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

const (
	actorHeader      = "X-Actor-ID"
	automationHeader = "X-Automation-Secret"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, NewRouter),
)

type EventRecorder interface {
	Record(ctx context.Context, p ledger.RecordParams) (string, error)
}

type MembershipService interface {
	Activate(ctx context.Context, p membership.ActivateParams) (*membership.Membership, error)
	SetStatus(ctx context.Context, p membership.SetStatusParams) (*membership.Membership, error)
	Get(ctx context.Context, tenantID, email string) (*membership.Membership, error)
	List(ctx context.Context, tenantID string, limit int) ([]*membership.Membership, error)
	ListSynchronized(ctx context.Context, tenantID string) ([]*membership.Membership, error)
	Quote(ctx context.Context, tenantID, treatmentID, email string) (*membership.Pricing, error)
}

type AudienceResolver interface {
	Resolve(ctx context.Context, tenantID, trigger string, now time.Time) ([]audience.Profile, error)
}

type CampaignService interface {
	Create(ctx context.Context, p campaign.CreateParams) (*campaign.Campaign, error)
	Update(ctx context.Context, p campaign.UpdateParams) (*campaign.Campaign, error)
	Get(ctx context.Context, tenantID, campaignID string) (*campaign.Campaign, error)
	List(ctx context.Context, tenantID string, limit int) ([]*campaign.Campaign, error)
	Pause(ctx context.Context, tenantID, campaignID, actorID string) (*campaign.Campaign, error)
	Resume(ctx context.Context, tenantID, campaignID, actorID string) (*campaign.Campaign, error)
}

type CampaignRunner interface {
	Run(ctx context.Context, p campaign.RunParams) (*campaign.RunResult, error)
	RunDue(ctx context.Context, tenantID string, limit int, actorID, source string) ([]campaign.RunResult, error)
}

type DeliveryLister interface {
	ListDeliveries(ctx context.Context, tenantID, campaignID string, p pagination.Pagination) ([]*delivery.Delivery, *pagination.PageInfo, error)
}

type Reporter interface {
	Compare(ctx context.Context, tenantID string, w analytics.Window, mode analytics.CompareMode) (*analytics.Report, *analytics.Comparison, error)
}

// Handler translates HTTP requests into engine calls. It holds no business
// rules of its own.
type Handler struct {
	events      EventRecorder
	memberships MembershipService
	audiences   AudienceResolver
	campaigns   CampaignService
	runner      CampaignRunner
	deliveries  DeliveryLister
	reports     Reporter

	automationSecret string
	dueLimit         int
	now              func() time.Time
}

type HandlerParams struct {
	fx.In
	Config      *config.Config
	Events      *ledger.Service
	Memberships *membership.Service
	Audiences   *audience.Resolver
	Campaigns   *campaign.Service
	Runner      *campaign.Runner
	Deliveries  *delivery.Dispatcher
	Reports     *analytics.Aggregator
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		events:           p.Events,
		memberships:      p.Memberships,
		audiences:        p.Audiences,
		campaigns:        p.Campaigns,
		runner:           p.Runner,
		deliveries:       p.Deliveries,
		reports:          p.Reports,
		automationSecret: p.Config.Automation.Secret,
		dueLimit:         p.Config.Automation.DueLimit,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

type RouterParams struct {
	fx.In
	Handler *Handler
	Health  health.HealthService `optional:"true"`
}

// NewRouter builds the gin engine served by pkg/server.
func NewRouter(p RouterParams) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	if p.Health != nil {
		r.GET("/healthz", p.Health.Liveness)
		r.GET("/readyz", p.Health.Readiness)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	p.Handler.Register(r)
	return r
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/system/campaigns/run-due", h.requireAutomationSecret, h.runDueSystem)

	t := v1.Group("/tenants/:tenant_id")
	t.POST("/events", h.recordEvent)

	t.POST("/memberships", h.activateMembership)
	t.GET("/memberships", h.listMemberships)
	t.GET("/memberships/:email", h.getMembership)
	t.PUT("/memberships/:email/status", h.setMembershipStatus)

	t.GET("/treatments/:treatment_id/price", h.quoteTreatment)
	t.GET("/audiences/:trigger", h.resolveAudience)

	t.POST("/campaigns", h.createCampaign)
	t.GET("/campaigns", h.listCampaigns)
	t.POST("/campaigns/run-due", h.runDueTenant)
	t.GET("/campaigns/:id", h.getCampaign)
	t.PATCH("/campaigns/:id", h.updateCampaign)
	t.POST("/campaigns/:id/pause", h.pauseCampaign)
	t.POST("/campaigns/:id/resume", h.resumeCampaign)
	t.POST("/campaigns/:id/run", h.runCampaign)
	t.GET("/campaigns/:id/deliveries", h.listDeliveries)

	t.GET("/analytics/summary", h.analyticsSummary)
}

func actor(c *gin.Context) string {
	return c.GetHeader(actorHeader)
}
