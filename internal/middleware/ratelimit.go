package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ClientKey buckets by client address.
func ClientKey(c *gin.Context) string { return c.ClientIP() }

// UserClientKey buckets by the :param user id and client address, so one
// client starting sessions for many users is limited per user.
func UserClientKey(param string) KeyFunc {
	return func(c *gin.Context) string {
		return c.Param(param) + "|" + c.ClientIP()
	}
}

// FixedWindowLimiter allows limit calls per key per window.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

func NewFixedWindowLimiter(limit int, period time.Duration) *FixedWindowLimiter {
	return newFixedWindowLimiter(limit, period, time.Now)
}

func newFixedWindowLimiter(limit int, period time.Duration, now func() time.Time) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     now,
		stop:    make(chan struct{}),
	}
	if period > 0 {
		go l.sweep()
	}
	return l
}

func (l *FixedWindowLimiter) sweep() {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := l.now()
		for key, w := range l.windows {
			if now.After(w.resetAt) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

// Stop ends the background sweep. The limiter keeps working afterwards.
func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow counts one call for key. When the call is refused, retryAfter is the
// time left in the current window.
func (l *FixedWindowLimiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[key]
	if !exists || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.period)}
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

func RateLimit(l *FixedWindowLimiter, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientKey
	}
	return func(c *gin.Context) {
		ok, retryAfter := l.Allow(key(c))
		if !ok {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
