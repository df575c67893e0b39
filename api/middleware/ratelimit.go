package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware enforces a token-bucket limit per client IP. Used on
// the credential endpoints so local throttling kicks in before the auth
// service starts answering 429. Each middleware instance owns its buckets.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var limiterStore sync.Map // map[string]*rate.Limiter

	getLimiter := func(key string) *rate.Limiter {
		v, ok := limiterStore.Load(key)
		if ok {
			return v.(*rate.Limiter)
		}
		lim := rate.NewLimiter(rate.Limit(rps), burst)
		actual, _ := limiterStore.LoadOrStore(key, lim)
		return actual.(*rate.Limiter)
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}

		lim := getLimiter("ip:" + ip)
		if !lim.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many attempts. Please wait a moment and try again."})
			return
		}
		c.Next()
	}
}
