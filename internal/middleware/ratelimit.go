package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10000
	clientIdleTTL     = 10 * time.Minute
)

// RateLimitMiddleware applies a global token bucket and a stricter bucket
// per client IP.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	global  *rate.Limiter

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		global:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		clients: make(map[string]*clientLimiter),
	}
}

// Handler wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if !rl.global.Allow() || !rl.clientLimiter(ip).Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("path", r.URL.Path),
				zap.String("ip", ip),
			)
			rl.metrics.RecordRateLimitHit(r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientLimiter returns or creates the limiter for ip. Each client gets a
// quarter of the global rate, and at least one request of burst.
func (rl *RateLimitMiddleware) clientLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if c, ok := rl.clients[ip]; ok {
		c.lastSeen = time.Now()
		return c.limiter
	}

	if len(rl.clients) >= maxTrackedClients {
		rl.evictIdle(clientIdleTTL)
	}

	burst := rl.cfg.Burst / 4
	if burst < 1 {
		burst = 1
	}
	c := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(rl.cfg.RPS/4), burst),
		lastSeen: time.Now(),
	}
	rl.clients[ip] = c
	return c.limiter
}

// evictIdle forgets clients idle for longer than maxIdle. Callers hold rl.mu.
func (rl *RateLimitMiddleware) evictIdle(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
