package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitorLimiters tracks one token bucket per caller. Authenticated requests
// are keyed by actor ID so a station behind NAT is not throttled as one
// client; everything else falls back to the source IP.
type visitorLimiters struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rps      rate.Limit
	burst    int
}

func newVisitorLimiters(rps, burst int) *visitorLimiters {
	return &visitorLimiters{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (v *visitorLimiters) allow(key string) bool {
	v.mu.Lock()
	b, ok := v.buckets[key]
	if !ok {
		b = rate.NewLimiter(v.rps, v.burst)
		v.buckets[key] = b
	}
	v.lastSeen[key] = time.Now()
	v.mu.Unlock()
	return b.Allow()
}

func (v *visitorLimiters) evictStale(olderThan time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, seen := range v.lastSeen {
		if time.Since(seen) > olderThan {
			delete(v.buckets, key)
			delete(v.lastSeen, key)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing per-caller token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	v := newVisitorLimiters(rps, burst)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			v.evictStale(10 * time.Minute)
		}
	}()

	return func(c *gin.Context) {
		key := c.GetHeader(actorHeader)
		if key == "" {
			key = c.ClientIP()
		}

		if !v.allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
