package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/patch"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	WhitelistedIPs    []string      `yaml:"whitelisted_ips"`
}

// DefaultRateLimitConfig returns default rate limiting configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
		WhitelistedIPs:    []string{"127.0.0.1", "::1"},
	}
}

// RateLimiter throttles generic API callers per client address. Maintenance
// and orchestrator callbacks are never throttled: dropping their callbacks
// would strand in-flight transitions.
type RateLimiter struct {
	config   *RateLimitConfig
	logger   logger.Interface
	limiters map[string]*clientLimiter
	mu       sync.Mutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop
func NewRateLimiter(config *RateLimitConfig, log logger.Interface) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	rl := &RateLimiter{
		config:   config,
		logger:   log.WithField("component", "ratelimit"),
		limiters: make(map[string]*clientLimiter),
	}
	go rl.cleanupLoop()
	return rl
}

// RateLimit returns the throttling middleware. Runs after Auth so the caller
// identity is known.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := GetCaller(c)
		if caller == patch.CallerMaintenance || caller == patch.CallerOrchestrator {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if rl.isWhitelisted(ip) {
			c.Next()
			return
		}

		limiter := rl.limiterFor(ip)
		if !limiter.Allow() {
			rl.logger.WithFields(map[string]interface{}{
				"client_ip": ip,
				"method":    c.Request.Method,
				"path":      c.Request.URL.Path,
			}).Warn("Rate limit exceeded")

			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerMinute))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate Limit Exceeded",
				"message":     "Too many requests, please slow down",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
		c.Next()
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok := rl.limiters[ip]; ok {
		cl.lastSeen = time.Now()
		return cl.limiter
	}
	limiter := rate.NewLimiter(
		rate.Every(time.Minute/time.Duration(rl.config.RequestsPerMinute)),
		rl.config.BurstSize,
	)
	rl.limiters[ip] = &clientLimiter{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	for _, w := range rl.config.WhitelistedIPs {
		if ip == w {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.config.CleanupInterval)
		for ip, cl := range rl.limiters {
			if cl.lastSeen.Before(cutoff) {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}
