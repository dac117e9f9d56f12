package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"mt5relay/internal/monitor"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// throttle hands out one token bucket per client IP. The map is flushed
// wholesale on an interval instead of tracking per-entry age; stale
// buckets just refill on their next request.
type throttle struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

func newThrottle(rps rate.Limit, burst int) *throttle {
	t := &throttle{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
	go t.flushLoop(10 * time.Minute)
	return t
}

func (t *throttle) flushLoop(every time.Duration) {
	for range time.Tick(every) {
		t.mu.Lock()
		t.buckets = make(map[string]*rate.Limiter)
		t.mu.Unlock()
	}
}

func (t *throttle) allow(ip string) bool {
	t.mu.Lock()
	b, ok := t.buckets[ip]
	if !ok {
		b = rate.NewLimiter(t.rps, t.burst)
		t.buckets[ip] = b
	}
	t.mu.Unlock()
	return b.Allow()
}

// RateLimit rejects clients that exceed rps sustained requests per
// second (with the given burst headroom) with 429 and the ko envelope.
func RateLimit(rps rate.Limit, burst int) gin.HandlerFunc {
	t := newThrottle(rps, burst)
	return func(c *gin.Context) {
		if ip := c.ClientIP(); !t.allow(ip) {
			log.Printf("[api] rate limit hit from %s", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				gin.H{"status": "ko", "message": "too many requests"})
			return
		}
		c.Next()
	}
}

// RequestID tags every request with an id, honoring one supplied by the
// caller so the trading UI can correlate its own logs with ours.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// CORS allows the UI (served from another origin during development) to
// talk to the relay. The panel is a trusted local tool, so the policy
// is wide open.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Timeout bounds a request's handling time. The handler runs on its own
// goroutine so a stuck agent call cannot pin the connection forever;
// panics inside it are re-reported as 500s.
func Timeout(limit time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), limit)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case p := <-panicked:
			log.Printf("[api] panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, p)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"status": "ko", "message": "internal error"})
		case <-ctx.Done():
			log.Printf("[api] timeout on %s %s after %s", c.Request.Method, c.Request.URL.Path, limit)
			c.AbortWithStatusJSON(http.StatusRequestTimeout,
				gin.H{"status": "ko", "message": "request timed out"})
		}
	}
}

// RequestLogger writes one access-log line per request and feeds the
// method/status counter.
func RequestLogger(metrics *monitor.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		metrics.RecordAPIRequest(method, status)
		log.Printf("[api] %s %s %s %d %s %s",
			c.GetString("RequestID"), method, path, status, time.Since(start), c.ClientIP())
	}
}
