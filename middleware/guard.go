package middleware

import (
	"strings"

	"github.com/MrEthical07/linkAuth"
	"github.com/gin-gonic/gin"
)

// Cookie names shared with the httpapi handlers.
const (
	AccessCookie  = "linkauth_access"
	RefreshCookie = "linkauth_refresh"
)

const identityKey = "linkauth.identity"

// Identity returns the identity stored by RequireAuth.
func Identity(c *gin.Context) (*linkAuth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*linkAuth.Identity)
	return id, ok && id != nil
}

// RequireAuth validates the access token from the Authorization header,
// falling back to the access cookie. Validation is local to the token; the
// identity is stored on the gin context and on the request context.
func RequireAuth(engine *linkAuth.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := Authenticate(c, engine); err != nil {
			WriteError(c, err)
			return
		}
		c.Next()
	}
}

// Authenticate performs the RequireAuth checks inline for handlers that
// serve both anonymous and authenticated actions. It does not abort c.
func Authenticate(c *gin.Context, engine *linkAuth.Engine) (*linkAuth.Identity, error) {
	if id, ok := Identity(c); ok {
		return id, nil
	}
	if engine == nil {
		return nil, linkAuth.ErrEngineNotReady
	}

	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		if cookie, err := c.Cookie(AccessCookie); err == nil && cookie != "" {
			token, ok = cookie, true
		}
	}
	if !ok {
		return nil, linkAuth.ErrTokenInvalid
	}

	id, err := engine.ValidateAccess(c.Request.Context(), token)
	if err != nil {
		return nil, err
	}

	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(linkAuth.WithIdentity(c.Request.Context(), id))
	return id, nil
}

// RequirePermission rejects tokens that do not carry perm. It must run
// after RequireAuth.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			WriteError(c, linkAuth.ErrTokenInvalid)
			return
		}
		if !id.HasPermission(perm) {
			WriteError(c, linkAuth.ErrPermissionDenied)
			return
		}
		c.Next()
	}
}

// RequireFeature re-resolves the caller's entitlement and rejects the
// request unless the plan grants feature. The tier claim in the token is
// never trusted for this decision.
func RequireFeature(engine *linkAuth.Engine, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			WriteError(c, linkAuth.ErrTokenInvalid)
			return
		}
		if _, err := engine.RequireFeature(c.Request.Context(), id.UserID, feature); err != nil {
			WriteError(c, err)
			return
		}
		c.Next()
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
