package httpapi

import (
	"net/http"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/middleware"
	"github.com/gin-gonic/gin"
)

type twoFactorRequest struct {
	Method    string `json:"method" validate:"omitempty,max=16"`
	Code      string `json:"code" validate:"omitempty,max=32"`
	SessionID string `json:"sessionId" validate:"omitempty,max=128"`
}

// twoFactor dispatches POST /2fa?action=... Setup, enable, disable and
// regenerate act on the authenticated account; verify and resend act on a
// pending login challenge and need no access token.
func (h *Handler) twoFactor(c *gin.Context) {
	var req twoFactorRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}

	switch action := c.Query("action"); action {
	case "verify":
		h.verifyTwoFactor(c, req)
	case "resend":
		h.resendTwoFactor(c, req)
	case "setup", "enable", "disable", "regenerate":
		id, err := middleware.Authenticate(c, h.engine)
		if err != nil {
			middleware.WriteError(c, err)
			return
		}
		switch action {
		case "setup":
			h.setupTwoFactor(c, id, req)
		case "enable":
			h.enableTwoFactor(c, id, req)
		case "disable":
			h.disableTwoFactor(c, id)
		default:
			h.regenerateBackupCodes(c, id, req)
		}
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "unknown action",
			"code":  linkAuth.KindInvalidInput,
		})
	}
}

func (h *Handler) setupTwoFactor(c *gin.Context, id *linkAuth.Identity, req twoFactorRequest) {
	method, err := linkAuth.ParseTwoFactorMethod(req.Method)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	setup, err := h.engine.SetupTwoFactor(c.Request.Context(), id.UserID, method)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

func (h *Handler) enableTwoFactor(c *gin.Context, id *linkAuth.Identity, req twoFactorRequest) {
	method, err := linkAuth.ParseTwoFactorMethod(req.Method)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	if err := h.engine.EnableTwoFactor(c.Request.Context(), id.UserID, method, req.Code, req.SessionID); err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "method": method})
}

func (h *Handler) disableTwoFactor(c *gin.Context, id *linkAuth.Identity) {
	if err := h.engine.DisableTwoFactor(c.Request.Context(), id.UserID); err != nil {
		middleware.WriteError(c, err)
		return
	}
	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (h *Handler) regenerateBackupCodes(c *gin.Context, id *linkAuth.Identity, req twoFactorRequest) {
	codes, err := h.engine.RegenerateBackupCodes(c.Request.Context(), id.UserID, req.Code)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backupCodes": codes})
}

func (h *Handler) verifyTwoFactor(c *gin.Context, req twoFactorRequest) {
	res, err := h.engine.VerifyTwoFactor(c.Request.Context(), req.SessionID, req.Code)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	h.setTokenCookies(c, res.Tokens)
	c.JSON(http.StatusOK, authResponse{User: res.User, Tokens: res.Tokens, Method: res.Method})
}

func (h *Handler) resendTwoFactor(c *gin.Context, req twoFactorRequest) {
	if err := h.engine.ResendTwoFactorCode(c.Request.Context(), req.SessionID); err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}
