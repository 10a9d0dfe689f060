package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/apperror"
	"qrattendance/internal/response"
)

const identityKey = "identity"

// Bearer enforces HS256 bearer JWTs and stores the caller's Identity.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			response.Abort(c, apperror.ErrUnauthorized)
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		id, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			response.Abort(c, apperror.ErrUnauthorized)
			return
		}
		c.Set(identityKey, id)
		c.Set("user_id", id.SubjectID)
		c.Next()
	}
}

// FromContext returns the Identity set by Bearer.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// SetIdentity is used by tests and trusted internal routes.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
	c.Set("user_id", id.SubjectID)
}
