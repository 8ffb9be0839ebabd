package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/surajmurari02/ocr-card/pkg/logger"
)

type clientWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window counter per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	rate    int           // requests per window
	window  time.Duration // time window
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientWindow),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// Allow counts one request for key. When the limit is hit it reports how
// long until the client's window resets.
func (l *RateLimiter) Allow(key string) (remaining int, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.clients[key]
	if !exists || now.Sub(w.start) >= l.window {
		if len(l.clients) > 10000 {
			l.pruneLocked(now)
		}
		w = &clientWindow{start: now}
		l.clients[key] = w
	}

	if w.count >= l.rate {
		return 0, w.start.Add(l.window).Sub(now), false
	}
	w.count++
	return l.rate - w.count, 0, true
}

func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, w := range l.clients {
		if now.Sub(w.start) >= l.window {
			delete(l.clients, key)
		}
	}
}

// RateLimit middleware limits requests per IP. Exempt paths are never counted.
func RateLimit(rate int, window time.Duration, exempt ...string) gin.HandlerFunc {
	limiter := NewRateLimiter(rate, window)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		remaining, retryAfter, ok := limiter.Allow(clientIP)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "client_ip", clientIP)

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
