package httpapi

import (
	"net/http"
	"strings"

	"clinic-engagement/pkg/errutil"
	"clinic-engagement/services/ledger"
	"clinic-engagement/services/membership"

	"github.com/gin-gonic/gin"
)

type recordEventRequest struct {
	Kind        string          `json:"kind" binding:"required"`
	SubjectID   string          `json:"subject_id"`
	AmountCents *int64          `json:"amount_cents"`
	Metadata    ledger.Metadata `json:"metadata"`
	Source      string          `json:"source"`
}

type activateMembershipRequest struct {
	Email         string `json:"email" binding:"required"`
	Name          string `json:"name"`
	PlanID        string `json:"plan_id" binding:"required"`
	PaymentStatus string `json:"payment_status"`
}

type setStatusRequest struct {
	Status        string  `json:"status" binding:"required"`
	PaymentStatus *string `json:"payment_status"`
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (h *Handler) recordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	id, err := h.events.Record(c.Request.Context(), ledger.RecordParams{
		TenantID:    c.Param("tenant_id"),
		Kind:        req.Kind,
		ActorID:     actor(c),
		SubjectID:   req.SubjectID,
		AmountCents: req.AmountCents,
		Metadata:    req.Metadata,
		Source:      req.Source,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) activateMembership(c *gin.Context) {
	var req activateMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	m, err := h.memberships.Activate(c.Request.Context(), membership.ActivateParams{
		TenantID:      c.Param("tenant_id"),
		Email:         req.Email,
		Name:          req.Name,
		PlanID:        req.PlanID,
		PaymentStatus: req.PaymentStatus,
		ActorID:       actor(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) setMembershipStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	m, err := h.memberships.SetStatus(c.Request.Context(), membership.SetStatusParams{
		TenantID:      c.Param("tenant_id"),
		Email:         c.Param("email"),
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		ActorID:       actor(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) getMembership(c *gin.Context) {
	m, err := h.memberships.Get(c.Request.Context(), c.Param("tenant_id"), c.Param("email"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) listMemberships(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	ctx := c.Request.Context()
	tenantID := c.Param("tenant_id")

	rows, err := h.memberships.List(ctx, tenantID, q.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	all, err := h.memberships.ListSynchronized(ctx, tenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"memberships": rows,
		"summary":     membership.Summarize(all),
	})
}

func (h *Handler) quoteTreatment(c *gin.Context) {
	p, err := h.memberships.Quote(c.Request.Context(),
		c.Param("tenant_id"),
		c.Param("treatment_id"),
		strings.TrimSpace(c.Query("email")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) resolveAudience(c *gin.Context) {
	trigger := c.Param("trigger")
	profiles, err := h.audiences.Resolve(c.Request.Context(), c.Param("tenant_id"), trigger, h.now())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trigger":    trigger,
		"count":      len(profiles),
		"recipients": profiles,
	})
}
