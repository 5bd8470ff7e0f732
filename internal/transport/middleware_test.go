package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	h := authMiddleware(AuthConfig{}, okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sbp", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	h := authMiddleware(AuthConfig{Keys: NewKeyStore([]string{"secret"})}, okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sbp", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	h := authMiddleware(AuthConfig{Keys: NewKeyStore([]string{"secret"})}, okHandler())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sbp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_AllowsHealthUnconditionally(t *testing.T) {
	h := authMiddleware(AuthConfig{Keys: NewKeyStore([]string{"secret"})}, okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_KeyRotationTakesEffect(t *testing.T) {
	store := NewKeyStore([]string{"old-secret"})
	h := authMiddleware(AuthConfig{Keys: store}, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/sbp", nil)
	req.Header.Set("Authorization", "Bearer new-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	store.Set([]string{"new-secret"})

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	assert.Equal(t, http.StatusOK, rr2.Code)
}

func TestRateLimitMiddleware_RejectsOverBudget(t *testing.T) {
	h := rateLimitMiddleware(RateLimitConfig{RequestsPerMinute: 1}, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/sbp", nil)
	req.Header.Set("Sbp-Agent-Id", "agent-1")

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, req)
	assert.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	assert.Equal(t, http.StatusTooManyRequests, rr2.Code)
}

func TestRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	h := rateLimitMiddleware(RateLimitConfig{}, okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sbp", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddleware_SeparatesCallersByAgentID(t *testing.T) {
	h := rateLimitMiddleware(RateLimitConfig{RequestsPerMinute: 1}, okHandler())

	req1 := httptest.NewRequest(http.MethodPost, "/sbp", nil)
	req1.Header.Set("Sbp-Agent-Id", "agent-1")
	req2 := httptest.NewRequest(http.MethodPost, "/sbp", nil)
	req2.Header.Set("Sbp-Agent-Id", "agent-2")

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, req1)
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	assert.Equal(t, http.StatusOK, rr1.Code)
	assert.Equal(t, http.StatusOK, rr2.Code)
}
