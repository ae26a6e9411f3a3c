package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
)

const ctxActor = "subzone_actor"

// Authenticate parses an optional Bearer token. A valid token attaches its
// actor to the context; a present but invalid token is rejected with 401.
// Requests without a token continue unauthenticated.
func Authenticate(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
				"code":  "unauthenticated",
			})
			return
		}
		actor, err := v.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
				"code":  "unauthenticated",
			})
			return
		}
		c.Set(ctxActor, actor)
		c.Next()
	}
}

// RequireActor rejects requests that Authenticate left anonymous.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorFromCtx(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"code":  "unauthenticated",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose actor lacks admin capability.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFromCtx(c)
		if actor == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"code":  "unauthenticated",
			})
			return
		}
		if !actor.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin capability required",
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}

// ActorFromCtx returns the actor set by Authenticate, or nil.
func ActorFromCtx(c *gin.Context) *model.Actor {
	v, _ := c.Get(ctxActor)
	actor, _ := v.(*model.Actor)
	return actor
}
