package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/groexpert13/sheet/internal/logging"
)

// Middleware wraps an HTTP handler with per-client rate limiting.
type Middleware struct {
	limiter *Limiter
	logger  *logging.Logger
	// OnLimited runs for every refused request.
	OnLimited func(r *http.Request)
}

// NewMiddleware creates a new rate limiting middleware. A nil limiter
// disables it.
func NewMiddleware(limiter *Limiter, logger *logging.Logger) *Middleware {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Middleware{limiter: limiter, logger: logger}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		allowed, remaining := m.limiter.Allow(r.Context(), key)
		m.addRateLimitHeaders(w, remaining)
		if !allowed {
			m.logger.Infof("rate limit exceeded: client=%s path=%s", key, r.URL.Path)
			if m.OnLimited != nil {
				m.OnLimited(r)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(m.untilToken(remaining).Seconds())+1))
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by address. RemoteAddr has already been
// rewritten by chi's RealIP middleware when a proxy header is present.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, remaining float64) {
	limit := m.limiter.capacity
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(remaining)))
	if remaining < limit {
		full := time.Duration((limit - remaining) / m.limiter.refillRate * float64(time.Second))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(full).Unix(), 10))
	}
}

func (m *Middleware) untilToken(remaining float64) time.Duration {
	if remaining >= 1 {
		return 0
	}
	return time.Duration((1 - remaining) / m.limiter.refillRate * float64(time.Second))
}
