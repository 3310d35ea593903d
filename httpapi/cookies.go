package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/middleware"
	"github.com/gin-gonic/gin"
)

// setTokenCookies mirrors pair into HttpOnly, SameSite=Strict cookies that
// expire with the tokens they carry.
func (h *Handler) setTokenCookies(c *gin.Context, pair *linkAuth.TokenPair) {
	if pair == nil {
		return
	}
	now := h.opts.Now()
	h.setCookie(c, middleware.AccessCookie, pair.AccessToken, maxAge(pair.AccessExpiresAt, now))
	h.setCookie(c, middleware.RefreshCookie, pair.RefreshToken, maxAge(pair.RefreshExpiresAt, now))
}

func (h *Handler) clearTokenCookies(c *gin.Context) {
	h.setCookie(c, middleware.AccessCookie, "", -1)
	h.setCookie(c, middleware.RefreshCookie, "", -1)
}

func (h *Handler) setCookie(c *gin.Context, name, value string, age int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, age, "/", h.opts.CookieDomain, h.opts.CookieSecure, true)
}

// maxAge rounds down to whole seconds. A token that is already expired
// gets a deleting cookie.
func maxAge(expires, now time.Time) int {
	secs := int(expires.Sub(now) / time.Second)
	if secs <= 0 {
		return -1
	}
	return secs
}
