package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware logs one line per request with structured fields,
// including the caller identity header when the route resolved one.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		caller := c.GetHeader("X-User-ID")
		if caller == "" {
			caller = c.GetHeader("X-Admin-ID")
		}
		log.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"caller", caller,
			"latency", time.Since(start),
		)
	}
}

// bucket pairs a limiter with its last use so idle entries can be dropped.
type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimitMiddleware enforces a per-IP token bucket. Buckets idle for an
// hour are evicted so the map does not grow with every client ever seen.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	const idleTTL = time.Hour
	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	lastSweep := time.Now()
	return func(c *gin.Context) {
		ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > idleTTL {
			for k, b := range buckets {
				if now.Sub(b.seen) > idleTTL {
					delete(buckets, k)
				}
			}
			lastSweep = now
		}
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.seen = now
		mu.Unlock()

		if !b.lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
