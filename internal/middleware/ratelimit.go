package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Bucket int

const (
	BucketGeneral Bucket = iota
	BucketAuth
	BucketIngest
	BucketExempt
)

// Classify maps a request path to its rate limit bucket. The event stream is
// long lived and counted once per connection elsewhere, so it is exempt.
func Classify(path string) Bucket {
	p := strings.ToLower(path)
	switch {
	case p == "/health", p == "/metrics", strings.HasPrefix(p, "/api/v1/events"):
		return BucketExempt
	case strings.HasPrefix(p, "/api/v1/auth"):
		return BucketAuth
	case strings.HasPrefix(p, "/api/v1/push"),
		strings.HasPrefix(p, "/api/v1/webhook-alert"),
		strings.HasPrefix(p, "/api/v1/ingest"):
		return BucketIngest
	default:
		return BucketGeneral
	}
}

type clientLimiter struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	ingest   *rate.Limiter
	lastSeen time.Time
}

type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	ingestRPM  int
	trustProxy bool
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

// NewRateLimitMiddleware builds per-IP token buckets. A non-positive rate
// disables limiting for that bucket. Forwarding headers are only honored
// when trustProxy is set.
func NewRateLimitMiddleware(generalRPM, authRPM, ingestRPM int, trustProxy bool) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		ingestRPM:  ingestRPM,
		trustProxy: trustProxy,
		clients:    map[string]*clientLimiter{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := Classify(r.URL.Path)
		if bucket == BucketExempt {
			next.ServeHTTP(w, r)
			return
		}

		limiter := m.getLimiter(m.clientIP(r))

		var target *rate.Limiter
		switch bucket {
		case BucketAuth:
			target = limiter.auth
		case BucketIngest:
			target = limiter.ingest
		default:
			target = limiter.general
		}

		if target != nil && !target.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = time.Now()
		m.gcLocked()
		return limiter
	}

	created := &clientLimiter{
		general:  newLimiter(m.generalRPM),
		auth:     newLimiter(m.authRPM),
		ingest:   newLimiter(m.ingestRPM),
		lastSeen: time.Now(),
	}
	m.clients[clientIP] = created
	m.gcLocked()

	return created
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

func (m *RateLimitMiddleware) clientIP(r *http.Request) string {
	if m.trustProxy {
		return extractClientIP(r)
	}
	return remoteHost(r)
}

func extractClientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}

