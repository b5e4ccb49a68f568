package middlewares

import (
	"net/http"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/moyoez/localvault/tool"
)

const (
	// DefaultAttemptsPerMinute bounds password attempts per client IP.
	DefaultAttemptsPerMinute = 5
	limiterIdleTTL           = 10 * time.Minute
)

// IPLimiter hands out one token bucket per client IP. Idle buckets expire from the cache.
type IPLimiter struct {
	mu    sync.Mutex
	cache *ttlworker.Cache[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

// NewIPLimiter allows perMinute events per IP with a burst of the same size.
func NewIPLimiter(perMinute int) *IPLimiter {
	if perMinute <= 0 {
		perMinute = DefaultAttemptsPerMinute
	}
	return &IPLimiter{
		cache: ttlworker.NewCache[string, *rate.Limiter](limiterIdleTTL),
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: perMinute,
	}
}

// Allow consumes one event for ip.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	lim := l.cache.Get(ip)
	if lim == nil {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Set refreshes the entry's expiry on every attempt
	l.cache.Set(ip, lim)
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimit rejects requests over the per-IP budget with 429.
func (l *IPLimiter) RateLimit(c *gin.Context) {
	if !l.Allow(c.ClientIP()) {
		tool.DefaultLogger.Warnf("[RateLimit] %s %s from %s rejected", c.Request.Method, c.Request.URL.Path, c.ClientIP())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, tool.FastReturnError("Too many requests, try again later."))
		return
	}
	c.Next()
}
