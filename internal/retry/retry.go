// Package retry implements the gateway's RetryPolicy: classifying a
// failed attempt as retryable and computing the backoff delay before
// the next one.
package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/url"
	"time"
)

// Config holds the retry budget and backoff parameters. Zero value is
// not usable; construct via DefaultConfig or a profile constructor.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryableStatuses []int
}

// DefaultConfig is the gateway's out-of-the-box retry budget: 3
// retries, 1s base delay, 5s cap, retrying the classic 5xx set.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   5 * time.Second,
		RetryableStatuses: []int{
			500, // Internal Server Error
			502, // Bad Gateway
			503, // Service Unavailable
			504, // Gateway Timeout
		},
	}
}

// AggressiveConfig retries more often and faster, useful for backends
// known to be flaky under load.
func AggressiveConfig() *Config {
	return &Config{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		RetryableStatuses: []int{
			429, // Too Many Requests
			500,
			502,
			503,
			504,
		},
	}
}

// ConservativeConfig retries less and waits longer between attempts,
// for backends where repeated hits are expensive.
func ConservativeConfig() *Config {
	return &Config{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   6 * time.Second,
		RetryableStatuses: []int{
			502,
			503,
			504,
		},
	}
}

// ConfigForProfile resolves a named profile (as read from the
// RETRY_PROFILE environment variable) to a Config, falling back to
// DefaultConfig for an unrecognized or empty name.
func ConfigForProfile(profile string) *Config {
	switch profile {
	case "aggressive":
		return AggressiveConfig()
	case "conservative":
		return ConservativeConfig()
	default:
		return DefaultConfig()
	}
}

// StatusError wraps a backend HTTP status code so Policy.ShouldRetry
// can classify it without reaching into an *http.Response.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded with status %d", e.Status)
}

// Policy is the gateway's RetryPolicy: stateless once constructed, and
// safe to share across concurrent requests.
type Policy struct {
	config *Config
}

// NewPolicy builds a Policy from the given config, falling back to
// DefaultConfig if cfg is nil.
func NewPolicy(cfg *Config) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Policy{config: cfg}
}

// Config returns a copy of the policy's configuration.
func (p *Policy) Config() Config {
	cfg := *p.config
	cfg.RetryableStatuses = append([]int(nil), p.config.RetryableStatuses...)
	return cfg
}

// ShouldRetry reports whether attempt (1-indexed) should be retried for
// err. It is true only for a transport timeout or an HTTP error whose
// status is in the configured retryable set, and only while
// attempt < maxRetries.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.config.MaxRetries {
		return false
	}
	return isTimeout(err) || p.isRetryableStatus(err)
}

func (p *Policy) isRetryableStatus(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, s := range p.config.RetryableStatuses {
		if statusErr.Status == s {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

// Delay returns the backoff to sleep before the next attempt:
// min(maxDelay, baseDelay*2^attempt) plus a uniform jitter in [0, 10)ms.
// The jitter ceiling is deliberately small — it exists to de-synchronize
// concurrent retriers, not to smooth load.
func (p *Policy) Delay(attempt int) time.Duration {
	backoff := time.Duration(float64(p.config.BaseDelay) * math.Pow(2, float64(attempt)))
	if backoff > p.config.MaxDelay {
		backoff = p.config.MaxDelay
	}
	jitter := time.Duration(rand.Intn(10)) * time.Millisecond
	return backoff + jitter
}
