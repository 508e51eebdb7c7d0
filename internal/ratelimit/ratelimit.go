package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/fleetgate/api-gateway/internal/envelope"
)

// Config holds the Redis client and default limits applied when no rule
// matches a request path.
type Config struct {
	RedisClient     *redis.Client
	DefaultLimit    int
	DefaultWindow   time.Duration
	BurstLimit      int
	CleanupInterval time.Duration
}

// Rule defines a sliding-window limit for requests whose path carries a
// given prefix.
type Rule struct {
	Pattern    string
	Limit      int
	Window     time.Duration
	BurstSize  int
}

// Limiter enforces per-client sliding-window rate limits backed by Redis,
// keyed on the client's IP address.
type Limiter struct {
	config Config
	rules  map[string]Rule
	ctx    context.Context
}

// New constructs a Limiter with default rules for the gateway's four
// routed service prefixes.
func New(config Config) *Limiter {
	l := &Limiter{
		config: config,
		rules:  make(map[string]Rule),
		ctx:    context.Background(),
	}

	l.AddRule("products", Rule{Pattern: "/products", Limit: 100, Window: time.Minute, BurstSize: 20})
	l.AddRule("orders", Rule{Pattern: "/orders", Limit: 100, Window: time.Minute, BurstSize: 20})
	l.AddRule("cart", Rule{Pattern: "/cart", Limit: 100, Window: time.Minute, BurstSize: 20})
	l.AddRule("users", Rule{Pattern: "/users", Limit: 100, Window: time.Minute, BurstSize: 20})

	return l
}

// AddRule registers or replaces a named rate-limit rule.
func (l *Limiter) AddRule(name string, rule Rule) {
	l.rules[name] = rule
}

// Middleware returns a Gin middleware enforcing the configured rules.
func Middleware(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := getClientID(c)
		rule := l.findRule(c.Request.URL.Path)

		allowed, remaining, resetAt, err := l.checkRateLimit(clientID, rule)
		if err != nil {
			// Fail open: a Redis outage should not take the gateway down.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			resp := envelope.Failure(envelope.CodeServiceError, "rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}

		c.Next()
	}
}

// getClientID derives the rate-limit bucket key from the caller's IP
// address. The gateway strips inbound Authorization headers and never
// authenticates end users, so IP is the only identity it has.
func getClientID(c *gin.Context) string {
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

func (l *Limiter) findRule(path string) Rule {
	for _, rule := range l.rules {
		if matchesPattern(path, rule.Pattern) {
			return rule
		}
	}
	return Rule{Pattern: "*", Limit: l.config.DefaultLimit, Window: l.config.DefaultWindow, BurstSize: l.config.BurstLimit}
}

func matchesPattern(path, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return strings.HasPrefix(path, pattern)
}

// checkRateLimit implements a weighted sliding window over two fixed
// buckets (current and previous), approximating a true sliding window
// without per-request sorted-set bookkeeping.
func (l *Limiter) checkRateLimit(clientID string, rule Rule) (allowed bool, remaining int, resetAt time.Time, err error) {
	now := time.Now()
	windowSeconds := int64(rule.Window.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	currentWindow := now.Unix() / windowSeconds
	previousWindow := currentWindow - 1

	currentKey := fmt.Sprintf("rate_limit:%s:%d", clientID, currentWindow)
	previousKey := fmt.Sprintf("rate_limit:%s:%d", clientID, previousWindow)

	pipe := l.config.RedisClient.TxPipeline()
	incrCmd := pipe.Incr(l.ctx, currentKey)
	pipe.Expire(l.ctx, currentKey, rule.Window*2)
	prevCmd := pipe.Get(l.ctx, previousKey)

	if _, execErr := pipe.Exec(l.ctx); execErr != nil && execErr != redis.Nil {
		return false, 0, time.Time{}, execErr
	}

	currentCount := incrCmd.Val()

	var previousCount int64
	if v, getErr := prevCmd.Int64(); getErr == nil {
		previousCount = v
	}

	elapsedIntoWindow := now.Unix() % windowSeconds
	timeIntoWindow := float64(elapsedIntoWindow) / float64(windowSeconds)
	weightedCount := float64(previousCount)*(1.0-timeIntoWindow) + float64(currentCount)

	limit := rule.Limit + rule.BurstSize
	resetAt = time.Unix((currentWindow+1)*windowSeconds, 0)

	if int(weightedCount) > limit {
		return false, 0, resetAt, nil
	}

	remaining = limit - int(weightedCount)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, resetAt, nil
}

// CleanupExpiredKeys is a no-op: Redis TTLs on each bucket key already
// reclaim expired state.
func (l *Limiter) CleanupExpiredKeys() {}
