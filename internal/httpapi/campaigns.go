package httpapi

import (
	"crypto/subtle"
	"net/http"

	"clinic-engagement/pkg/db/pagination"
	"clinic-engagement/pkg/errutil"
	"clinic-engagement/services/analytics"
	"clinic-engagement/services/campaign"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createCampaignRequest struct {
	Name           string `json:"name" binding:"required"`
	TriggerType    string `json:"trigger_type"`
	Channel        string `json:"channel"`
	Status         string `json:"status"`
	TemplateTitle  string `json:"template_title"`
	TemplateBody   string `json:"template_body"`
	PointsBonus    int64  `json:"points_bonus"`
	AudienceFilter string `json:"audience_filter"`
}

type updateCampaignRequest struct {
	Name           *string `json:"name"`
	TriggerType    *string `json:"trigger_type"`
	Channel        *string `json:"channel"`
	TemplateTitle  *string `json:"template_title"`
	TemplateBody   *string `json:"template_body"`
	PointsBonus    *int64  `json:"points_bonus"`
	AudienceFilter *string `json:"audience_filter"`
}

type runResponse struct {
	*campaign.RunResult
	Warning string `json:"warning,omitempty"`
}

type summaryQuery struct {
	Days    string `form:"days"`
	From    string `form:"from"`
	To      string `form:"to"`
	Compare string `form:"compare"`
}

func (h *Handler) createCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.campaigns.Create(c.Request.Context(), campaign.CreateParams{
		TenantID:       c.Param("tenant_id"),
		Name:           req.Name,
		TriggerType:    req.TriggerType,
		Channel:        req.Channel,
		Status:         req.Status,
		TemplateTitle:  req.TemplateTitle,
		TemplateBody:   req.TemplateBody,
		PointsBonus:    req.PointsBonus,
		AudienceFilter: req.AudienceFilter,
		ActorID:        actor(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) updateCampaign(c *gin.Context) {
	var req updateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.campaigns.Update(c.Request.Context(), campaign.UpdateParams{
		TenantID:       c.Param("tenant_id"),
		CampaignID:     c.Param("id"),
		Name:           req.Name,
		TriggerType:    req.TriggerType,
		Channel:        req.Channel,
		TemplateTitle:  req.TemplateTitle,
		TemplateBody:   req.TemplateBody,
		PointsBonus:    req.PointsBonus,
		AudienceFilter: req.AudienceFilter,
		ActorID:        actor(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getCampaign(c *gin.Context) {
	out, err := h.campaigns.Get(c.Request.Context(), c.Param("tenant_id"), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listCampaigns(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	rows, err := h.campaigns.List(c.Request.Context(), c.Param("tenant_id"), q.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": rows})
}

func (h *Handler) pauseCampaign(c *gin.Context) {
	out, err := h.campaigns.Pause(c.Request.Context(), c.Param("tenant_id"), c.Param("id"), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) resumeCampaign(c *gin.Context) {
	out, err := h.campaigns.Resume(c.Request.Context(), c.Param("tenant_id"), c.Param("id"), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// runCampaign answers 200 whenever the run was recorded. Delivery rows that
// could not be stored are reported as a warning.
func (h *Handler) runCampaign(c *gin.Context) {
	res, err := h.runner.Run(c.Request.Context(), campaign.RunParams{
		TenantID:   c.Param("tenant_id"),
		CampaignID: c.Param("id"),
		ActorID:    actor(c),
		Source:     campaign.SourceManual,
	})
	if res == nil {
		_ = c.Error(err)
		return
	}
	out := runResponse{RunResult: res}
	if err != nil {
		out.Warning = err.Error()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listDeliveries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	rows, info, err := h.deliveries.ListDeliveries(c.Request.Context(), c.Param("tenant_id"), c.Param("id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": rows, "page_info": info})
}

func (h *Handler) runDueTenant(c *gin.Context) {
	h.runDue(c, c.Param("tenant_id"), actor(c), campaign.SourceManual)
}

func (h *Handler) runDueSystem(c *gin.Context) {
	h.runDue(c, "", "", campaign.SourceSystemAutomation)
}

func (h *Handler) runDue(c *gin.Context, tenantID, actorID, source string) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	limit := q.Limit
	if limit <= 0 {
		limit = h.dueLimit
	}

	results, err := h.runner.RunDue(c.Request.Context(), tenantID, limit, actorID, source)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executed": len(results), "results": results})
}

// requireAutomationSecret guards system routes with the shared automation
// secret. The comparison is constant time.
func (h *Handler) requireAutomationSecret(c *gin.Context) {
	if h.automationSecret == "" {
		_ = c.Error(errutil.ServiceUnavailable("automation is not configured", nil))
		c.Abort()
		return
	}
	given := c.GetHeader(automationHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.automationSecret)) != 1 {
		zap.L().Warn("rejected automation request", zap.String("client_ip", c.ClientIP()))
		_ = c.Error(errutil.Unauthorized("invalid automation secret", nil))
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) analyticsSummary(c *gin.Context) {
	var q summaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	w, err := analytics.ParseWindow(q.Days, q.From, q.To, h.now())
	if err != nil {
		_ = c.Error(err)
		return
	}

	report, cmp, err := h.reports.Compare(c.Request.Context(), c.Param("tenant_id"), w, analytics.ParseCompareMode(q.Compare))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "comparison": cmp})
}
