package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/middleware"
	"github.com/gin-gonic/gin"
)

type changeEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type changeUsernameRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

type entitlementResponse struct {
	Tier          entitlement.Tier   `json:"tier"`
	SubscribedTo  entitlement.Tier   `json:"subscribedTier"`
	Status        entitlement.Status `json:"status,omitempty"`
	HasAccess     bool               `json:"hasAccess"`
	AccessUntil   *time.Time         `json:"accessUntil,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Features      []string           `json:"features"`
	Limits        map[string]int     `json:"limits"`
	PolicyVersion string             `json:"policyVersion"`
}

func (h *Handler) account(c *gin.Context) {
	id, _ := middleware.Identity(c)
	acct, err := h.engine.Account(c.Request.Context(), id.UserID)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *Handler) entitlement(c *gin.Context) {
	id, _ := middleware.Identity(c)
	res, err := h.engine.Entitlement(c.Request.Context(), id.UserID)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.entitlementBody(res))
}

func (h *Handler) entitlementBody(res linkAuth.Entitlement) entitlementResponse {
	table := h.engine.EntitlementTable()
	return entitlementResponse{
		Tier:          res.EffectiveTier,
		SubscribedTo:  res.RawTier,
		Status:        res.Status,
		HasAccess:     res.HasAccess,
		AccessUntil:   res.AccessUntil,
		Reason:        res.Reason,
		Features:      table.Features(res.EffectiveTier),
		Limits:        table.Limits(res.EffectiveTier),
		PolicyVersion: table.Version(),
	}
}

func (h *Handler) changeEmail(c *gin.Context) {
	var req changeEmailRequest
	if !h.bind(c, &req) {
		return
	}
	id, _ := middleware.Identity(c)
	acct, err := h.engine.ChangeEmail(c.Request.Context(), id.UserID, req.Email)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *Handler) changeUsername(c *gin.Context) {
	var req changeUsernameRequest
	if !h.bind(c, &req) {
		return
	}
	id, _ := middleware.Identity(c)
	acct, err := h.engine.ChangeUsername(c.Request.Context(), id.UserID, req.Username)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// cancelSubscription cancels the paid plan at the end of the current
// billing period.
func (h *Handler) cancelSubscription(c *gin.Context) {
	id, _ := middleware.Identity(c)
	res, err := h.engine.ApplyBillingUpdate(c.Request.Context(), id.UserID, linkAuth.BillingUpdate{
		Kind: entitlement.UpdateCancel,
	})
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.entitlementBody(res))
}

// authorizeAPI answers the gateway's forward-auth subrequest once
// RequireAuth and APIQuota have admitted the call.
func (h *Handler) authorizeAPI(c *gin.Context) {
	id, _ := middleware.Identity(c)
	c.Header("X-User-ID", id.UserID)
	c.Header("X-User-Tier", id.Tier)
	c.Status(http.StatusNoContent)
}
