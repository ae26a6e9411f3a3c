package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/SubzoneRegistry/internal/identity"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ratelimit"
)

// RateLimiter returns a Gin middleware that enforces l per caller.
// Authenticated callers are keyed by user id, anonymous ones by client IP,
// so it must run after identity.Authenticate.
func RateLimiter(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(rateKey(c)) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

func rateKey(c *gin.Context) string {
	if actor := identity.ActorFromCtx(c); actor != nil {
		return "user:" + actor.ID
	}
	return "ip:" + c.ClientIP()
}
