package config

import (
	"time"

	"github.com/fleetgate/api-gateway/internal/retry"
)

// HealthCheckFailStrategy chooses what the LivenessController does once
// the registry-health-failure budget is exhausted.
type HealthCheckFailStrategy string

const (
	StrategyTryAgain HealthCheckFailStrategy = "try-again"
	StrategyShutdown HealthCheckFailStrategy = "shutdown"
)

// RetryOptions mirrors retry.Config but in the plain-int/ms shape the
// environment and gateway constructor options use.
type RetryOptions struct {
	MaxRetries        int
	BaseDelayMs       int
	MaxDelayMs        int
	RetryableStatuses []int
}

func (r RetryOptions) toRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:        r.MaxRetries,
		BaseDelay:         time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(r.MaxDelayMs) * time.Millisecond,
		RetryableStatuses: r.RetryableStatuses,
	}
}

// GatewayConfig holds every option the gateway constructor recognizes,
// per SPEC_FULL §8. Precedence for any given option is: explicit
// constructor option > environment variable > hardcoded default. Since
// this gateway is wired strictly from the environment (no embedding
// caller passes constructor options in this binary), LoadConfigFromEnv
// already implements that precedence by only ever falling through to
// env-var-or-default.
type GatewayConfig struct {
	Port int

	RegistryURL        string
	RegistrationKey    string
	RegistryHealthPath string

	LoadBalancerStrategy string

	RequestTimeout      time.Duration
	TotalRequestTimeout time.Duration

	HealthChecks            bool
	HealthCheckInterval     time.Duration
	HealthCheckFailStrategy HealthCheckFailStrategy

	Retry RetryOptions

	RedisAddr string

	DependencyHealthName string
	DependencyHealthURL  string

	LogLevel     string
	Environment  string
	AppVersion   string
	SentryDSN    string
	OTLPEndpoint string
}

// RetryConfig builds the retry.Config this gateway config implies.
func (c GatewayConfig) RetryConfig() *retry.Config {
	return c.Retry.toRetryConfig()
}

// LoadConfigFromEnv builds a GatewayConfig purely from the process
// environment, applying the documented defaults for anything unset.
func LoadConfigFromEnv() GatewayConfig {
	profile := getEnv("RETRY_PROFILE", "")
	base := retry.ConfigForProfile(profile)

	return GatewayConfig{
		Port: getEnvAsInt("PORT", 3001),

		RegistryURL:        getEnv("REGISTRY_URL", "http://localhost:3002"),
		RegistrationKey:    getEnv("SERVICE_REGISTRATION_KEY", ""),
		RegistryHealthPath: getEnv("REGISTRY_HEALTH_PATH", "/health"),

		LoadBalancerStrategy: getEnv("LOAD_BALANCER_STRATEGY", "random"),

		RequestTimeout:      time.Duration(getEnvAsInt("REQUEST_TIMEOUT_MS", 5000)) * time.Millisecond,
		TotalRequestTimeout: time.Duration(getEnvAsInt("TOTAL_REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,

		HealthChecks:            getEnv("HEALTH_CHECKS_ENABLED", "true") != "false",
		HealthCheckInterval:     time.Duration(getEnvAsInt("HEALTH_CHECK_INTERVAL_MS", 10000)) * time.Millisecond,
		HealthCheckFailStrategy: HealthCheckFailStrategy(getEnv("HEALTH_CHECK_FAIL_STRATEGY", string(StrategyTryAgain))),

		Retry: RetryOptions{
			MaxRetries:        getEnvAsInt("RETRY_MAX_RETRIES", base.MaxRetries),
			BaseDelayMs:       getEnvAsInt("RETRY_BASE_DELAY_MS", int(base.BaseDelay.Milliseconds())),
			MaxDelayMs:        getEnvAsInt("RETRY_MAX_DELAY_MS", int(base.MaxDelay.Milliseconds())),
			RetryableStatuses: base.RetryableStatuses,
		},

		RedisAddr: getEnv("GATEWAY_REDIS_ADDR", ""),

		DependencyHealthName: getEnv("DEPENDENCY_HEALTH_NAME", "downstream"),
		DependencyHealthURL:  getEnv("DEPENDENCY_HEALTH_URL", ""),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		AppVersion:   getEnv("APP_VERSION", "1.0.0"),
		SentryDSN:    getEnv("SENTRY_DSN", ""),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318/v1/traces"),
	}
}
