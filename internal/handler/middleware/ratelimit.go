package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"biliticket/callqueue/pkg/response"
)

// RateLimit applies a process-wide token bucket to the API surface. This is
// transport back-pressure only; admission control itself happens in the queue.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			response.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
