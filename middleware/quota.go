package middleware

import (
	"net/http"
	"strconv"

	"github.com/MrEthical07/linkAuth"
	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the public API key id on metered routes.
const APIKeyHeader = "X-API-Key"

// APIQuota meters public API calls per key and per account. It must run
// after RequireAuth. Requests without a key are rejected.
func APIQuota(engine *linkAuth.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			WriteError(c, linkAuth.ErrTokenInvalid)
			return
		}
		keyID := c.GetHeader(APIKeyHeader)
		if keyID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
				Error: "missing " + APIKeyHeader + " header",
				Code:  string(linkAuth.KindInvalidInput),
			})
			return
		}

		d, err := engine.ThrottleAPI(c.Request.Context(), keyID, id.UserID)
		if err != nil {
			WriteError(c, err)
			return
		}
		if d.Remaining >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		c.Next()
	}
}
