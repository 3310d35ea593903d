package middleware

import (
	"github.com/MrEthical07/linkAuth"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteError aborts c with the status, public message and Retry-After
// header that err maps to.
func WriteError(c *gin.Context, err error) {
	kind := linkAuth.KindOf(err)
	if retry, ok := linkAuth.RetryAfterHeader(err); ok {
		c.Header("Retry-After", retry)
	}
	if kind == linkAuth.KindInternal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(linkAuth.HTTPStatus(kind), errorBody{
		Error: linkAuth.PublicMessage(err),
		Code:  string(kind),
	})
}
