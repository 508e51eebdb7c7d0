package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHealthChecker checks Redis connectivity and basic operations
type RedisHealthChecker struct {
	client redis.Cmdable
}

// NewRedisHealthChecker creates a new Redis health checker
func NewRedisHealthChecker(client redis.Cmdable) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

// CheckHealth performs Redis health check
func (rhc *RedisHealthChecker) CheckHealth(ctx context.Context) error {
	if rhc.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	// Ping Redis
	pong, err := rhc.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	if pong != "PONG" {
		return fmt.Errorf("unexpected redis ping response: %s", pong)
	}

	// Test basic set/get operations
	testKey := fmt.Sprintf("health_check_%d", time.Now().Unix())
	testValue := "ok"

	// Set a test value
	if err := rhc.client.Set(ctx, testKey, testValue, time.Minute).Err(); err != nil {
		return fmt.Errorf("redis set operation failed: %w", err)
	}

	// Get the test value
	retrievedValue, err := rhc.client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis get operation failed: %w", err)
	}

	if retrievedValue != testValue {
		return fmt.Errorf("redis value mismatch: expected %s, got %s", testValue, retrievedValue)
	}

	// Clean up test key
	rhc.client.Del(ctx, testKey)

	return nil
}

// HTTPServiceHealthChecker checks external HTTP service health
type HTTPServiceHealthChecker struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
	retries int
}

// NewHTTPServiceHealthChecker creates a new HTTP service health checker
func NewHTTPServiceHealthChecker(name, url string) *HTTPServiceHealthChecker {
	return &HTTPServiceHealthChecker{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		timeout: 5 * time.Second,
		retries: 2,
	}
}

// SetTimeout sets the HTTP request timeout
func (hsc *HTTPServiceHealthChecker) SetTimeout(timeout time.Duration) *HTTPServiceHealthChecker {
	hsc.timeout = timeout
	hsc.client.Timeout = timeout
	return hsc
}

// SetRetries sets the number of retry attempts
func (hsc *HTTPServiceHealthChecker) SetRetries(retries int) *HTTPServiceHealthChecker {
	hsc.retries = retries
	return hsc
}

// CheckHealth performs HTTP service health check
func (hsc *HTTPServiceHealthChecker) CheckHealth(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt <= hsc.retries; attempt++ {
		if attempt > 0 {
			// Brief delay between retries
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", hsc.url, nil)
		if err != nil {
			lastErr = fmt.Errorf("failed to create request for %s: %w", hsc.name, err)
			continue
		}

		req.Header.Set("User-Agent", "API-Gateway-Health-Checker/1.0")
		req.Header.Set("X-Health-Check", "true")

		resp, err := hsc.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s health check request failed: %w", hsc.name, err)
			continue
		}

		resp.Body.Close()

		// Consider 2xx and 3xx as healthy responses
		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return nil
		}

		lastErr = fmt.Errorf("%s health check returned status %d", hsc.name, resp.StatusCode)
	}

	return lastErr
}

