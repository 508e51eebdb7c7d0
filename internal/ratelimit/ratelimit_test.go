package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(Config{RedisClient: client, DefaultLimit: 10, DefaultWindow: time.Minute, BurstLimit: 2})
	return limiter, mr
}

func TestFindRuleMatchesServicePrefix(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	rule := limiter.findRule("/orders/123")
	if rule.Pattern != "/orders" {
		t.Fatalf("expected /orders rule, got %q", rule.Pattern)
	}
}

func TestFindRuleFallsBackToDefaultForUnknownPrefix(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	rule := limiter.findRule("/unknown")
	if rule.Pattern != "*" {
		t.Fatalf("expected wildcard default rule, got %q", rule.Pattern)
	}
	if rule.Limit != 10 {
		t.Fatalf("expected default limit 10, got %d", rule.Limit)
	}
}

func TestCheckRateLimitAllowsWithinBurst(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	rule := Rule{Pattern: "/orders", Limit: 2, Window: time.Minute, BurstSize: 0}

	for i := 0; i < 2; i++ {
		allowed, _, _, err := limiter.checkRateLimit("ip:1.2.3.4", rule)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should have been allowed", i)
		}
	}
}

func TestCheckRateLimitRejectsOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	rule := Rule{Pattern: "/orders", Limit: 1, Window: time.Minute, BurstSize: 0}

	var lastAllowed bool
	for i := 0; i < 5; i++ {
		allowed, _, _, err := limiter.checkRateLimit("ip:5.6.7.8", rule)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastAllowed = allowed
	}
	if lastAllowed {
		t.Fatal("expected the request stream to eventually be rejected")
	}
}

func TestMiddlewareSetsRateLimitHeadersAndAllows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t)

	r := gin.New()
	r.Use(Middleware(limiter))
	r.GET("/orders/1", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("expected X-RateLimit-Limit header to be set")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t)
	limiter.AddRule("orders", Rule{Pattern: "/orders", Limit: 1, Window: time.Minute, BurstSize: 0})

	r := gin.New()
	r.Use(Middleware(limiter))
	r.GET("/orders/1", func(c *gin.Context) { c.Status(http.StatusOK) })

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected eventual 429, got %d", lastCode)
	}
}
