// Package httpapi serves the linkauth engine over HTTP with gin.
package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/middleware"
	"github.com/MrEthical07/linkAuth/permission"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Options configures a Handler.
type Options struct {
	// CookieDomain is left empty for host-only cookies.
	CookieDomain string
	// CookieSecure marks token cookies Secure. Disable only for plain-HTTP
	// local development.
	CookieSecure bool
	// Now computes cookie Max-Age from token expiries. Defaults to
	// time.Now.
	Now func() time.Time
}

type Handler struct {
	engine   *linkAuth.Engine
	validate *validator.Validate
	opts     Options
}

func New(engine *linkAuth.Engine, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{engine: engine, validate: newValidator(), opts: opts}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	auth := middleware.RequireAuth(h.engine)

	r.POST("/signup", h.signup)
	r.POST("/login", h.login)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", h.logout)
	r.POST("/logout/all", auth, h.logoutAll)
	r.POST("/2fa", h.twoFactor)

	me := r.Group("/me", auth)
	me.GET("", h.account)
	me.GET("/entitlement", h.entitlement)
	me.PUT("/email", h.changeEmail)
	me.PUT("/username", h.changeUsername)
	me.POST("/subscription/cancel", middleware.RequirePermission(permission.BillingManage), h.cancelSubscription)

	// forward-auth endpoint for the public API gateway
	r.GET("/api/authorize", auth, middleware.APIQuota(h.engine), h.authorizeAPI)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the JSON body into req and validates it. On failure it
// writes the response and returns false.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid JSON payload",
			"code":  linkAuth.KindInvalidInput,
		})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		fields := map[string]string{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  linkAuth.ErrInvalidInput.Error(),
			"code":   linkAuth.KindInvalidInput,
			"fields": fields,
		})
		return false
	}
	return true
}
