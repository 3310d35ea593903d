package httpapi

import (
	"net/http"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/middleware"
	"github.com/gin-gonic/gin"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"omitempty,max=512"`
}

type authResponse struct {
	User   *linkAuth.Account   `json:"user,omitempty"`
	Tokens *linkAuth.TokenPair `json:"tokens"`
	Method string              `json:"method,omitempty"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.engine.Signup(c.Request.Context(), linkAuth.SignupRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	h.setTokenCookies(c, res.Tokens)
	c.JSON(http.StatusCreated, authResponse{User: res.User, Tokens: res.Tokens})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.engine.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	if res.TwoFactorRequired {
		c.JSON(http.StatusAccepted, res)
		return
	}
	h.setTokenCookies(c, res.Tokens)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) refresh(c *gin.Context) {
	token, ok := h.refreshToken(c)
	if !ok {
		return
	}

	pair, err := h.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		if linkAuth.KindOf(err) == linkAuth.KindUnauthenticated {
			h.clearTokenCookies(c)
		}
		middleware.WriteError(c, err)
		return
	}

	h.setTokenCookies(c, pair)
	c.JSON(http.StatusOK, authResponse{Tokens: pair})
}

func (h *Handler) logout(c *gin.Context) {
	token, ok := h.refreshToken(c)
	if !ok {
		return
	}
	if err := h.engine.Logout(c.Request.Context(), token); err != nil {
		middleware.WriteError(c, err)
		return
	}
	h.clearTokenCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) logoutAll(c *gin.Context) {
	id, _ := middleware.Identity(c)
	if err := h.engine.LogoutAll(c.Request.Context(), id.UserID); err != nil {
		middleware.WriteError(c, err)
		return
	}
	h.clearTokenCookies(c)
	c.Status(http.StatusNoContent)
}

// refreshToken reads the token from an optional JSON body, falling back to
// the refresh cookie. An empty result is not an error here.
func (h *Handler) refreshToken(c *gin.Context) (string, bool) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if !h.bind(c, &req) {
			return "", false
		}
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	cookie, _ := c.Cookie(middleware.RefreshCookie)
	return cookie, true
}
