package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisHealthCheckerPassesAgainstLiveRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisHealthChecker(client)
	if err := checker.CheckHealth(context.Background()); err != nil {
		t.Fatalf("expected healthy redis, got error: %v", err)
	}
}

func TestRedisHealthCheckerFailsWithNilClient(t *testing.T) {
	checker := NewRedisHealthChecker(nil)
	if err := checker.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected error for nil redis client")
	}
}

func TestHTTPServiceHealthCheckerPassesOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPServiceHealthChecker("downstream", srv.URL)
	if err := checker.CheckHealth(context.Background()); err != nil {
		t.Fatalf("expected healthy downstream service, got error: %v", err)
	}
}

func TestHTTPServiceHealthCheckerRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker := NewHTTPServiceHealthChecker("downstream", srv.URL).SetRetries(2).SetTimeout(time.Second)
	if err := checker.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected error for a persistently failing downstream service")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3 calls, got %d", got)
	}
}
