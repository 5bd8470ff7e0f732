package transport

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sbp-dev/blackboard/internal/rpc"
	"golang.org/x/time/rate"
)

// KeyStore holds the set of accepted API keys behind an atomic
// pointer so a key rotation (e.g. from WatchAPIKeyFile) can swap the
// whole set in place without the auth middleware ever locking.
type KeyStore struct {
	keys atomic.Pointer[[]string]
}

// NewKeyStore constructs a KeyStore holding initial.
func NewKeyStore(initial []string) *KeyStore {
	s := &KeyStore{}
	s.Set(initial)
	return s
}

// Set replaces the accepted key set.
func (s *KeyStore) Set(keys []string) {
	cp := append([]string(nil), keys...)
	s.keys.Store(&cp)
}

func (s *KeyStore) enabled() bool {
	keys := s.keys.Load()
	return keys != nil && len(*keys) > 0
}

func (s *KeyStore) valid(presented string) bool {
	keys := s.keys.Load()
	if keys == nil {
		return false
	}
	for _, k := range *keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

// AuthConfig gates the auth middleware. A nil or empty KeyStore
// disables authorization entirely.
type AuthConfig struct {
	Keys *KeyStore
}

func (c AuthConfig) enabled() bool {
	return c.Keys != nil && c.Keys.enabled()
}

func (c AuthConfig) valid(presented string) bool {
	return c.Keys != nil && c.Keys.valid(presented)
}

// authMiddleware enforces Authorization: Bearer <key> on every request
// except GET /health (and its /healthz alias) and OPTIONS *. Reads cfg.Keys fresh on every
// request, so a key rotation applied to the underlying KeyStore takes
// effect immediately without rebuilding the handler chain.
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && (r.URL.Path == "/health" || r.URL.Path == "/healthz") {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		presented := strings.TrimPrefix(header, "Bearer ")
		if presented == header || !cfg.valid(presented) {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(rpc.ErrorResponse(nil, rpc.NewError(rpc.CodeUnauthorized, "unauthorized", nil)))
}

// RateLimitConfig gates the rate-limit middleware: a token bucket per
// caller, refilled linearly at RequestsPerMinute/60 tokens/sec.
type RateLimitConfig struct {
	RequestsPerMinute int
}

func (c RateLimitConfig) enabled() bool {
	return c.RequestsPerMinute > 0
}

// limiterSet is a per-caller token bucket registry, grounded on
// golang.org/x/time/rate's standard per-key limiter map idiom.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter), cfg: cfg}
}

func (s *limiterSet) forKey(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		perSecond := float64(s.cfg.RequestsPerMinute) / 60.0
		l = rate.NewLimiter(rate.Limit(perSecond), s.cfg.RequestsPerMinute)
		s.limiters[key] = l
	}
	return l
}

// rateLimitMiddleware rejects with HTTP 429 and JSON-RPC -32004 when
// the caller's bucket is empty, keyed by Sbp-Agent-Id (fallback:
// source IP).
func rateLimitMiddleware(cfg RateLimitConfig, next http.Handler) http.Handler {
	if !cfg.enabled() {
		return next
	}
	set := newLimiterSet(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		limiter := set.forKey(key)
		if !limiter.Allow() {
			retryAfterMs := int64(1000.0 / (float64(cfg.RequestsPerMinute) / 60.0))
			writeRateLimited(w, retryAfterMs)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if agent := r.Header.Get("Sbp-Agent-Id"); agent != "" {
		return agent
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimited(w http.ResponseWriter, retryAfterMs int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rpc.ErrorResponse(nil, rpc.NewError(rpc.CodeRateLimited, "rate limit exceeded", map[string]int64{"retry_after_ms": retryAfterMs})))
}
