// Package lifecycle implements the gateway's LivenessController: the
// GatewayStatus FSM, the periodic registry health-check loop, and
// re-registration/shutdown on repeated failure.
package lifecycle

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fleetgate/api-gateway/internal/config"
	"github.com/fleetgate/api-gateway/internal/metrics"
	"github.com/fleetgate/api-gateway/internal/registry"
	"github.com/fleetgate/api-gateway/internal/retry"
)

// GatewayStatus is the gateway's single enumerated liveness state.
// Requests may be proxied only while status is Active.
type GatewayStatus int

const (
	StatusStarting GatewayStatus = iota
	StatusActive
	StatusHealthCheckFail
	StatusReregistering
	StatusShuttingDown
)

func (s GatewayStatus) String() string {
	switch s {
	case StatusStarting:
		return "STARTING"
	case StatusActive:
		return "ACTIVE"
	case StatusHealthCheckFail:
		return "HEALTH_CHECK_FAIL"
	case StatusReregistering:
		return "REREGISTERING"
	case StatusShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// HealthChecker defines the interface ambient dependency health checks
// (Redis, backing HTTP services) implement for CreateHealthHandler.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

const maxHealthProbeRetries = 3

// Controller drives the GatewayStatus FSM described in SPEC_FULL §6.6:
// it registers with the service registry, then runs a background
// health-probe loop that can transition the gateway through
// HEALTH_CHECK_FAIL or REREGISTERING and ultimately to SHUTTING_DOWN.
type Controller struct {
	mu     sync.RWMutex
	status GatewayStatus

	registry *registry.Client
	retry    *retry.Policy

	port                int
	healthChecks        bool
	healthCheckInterval time.Duration
	failStrategy        config.HealthCheckFailStrategy

	server          *http.Server
	shutdownTimeout time.Duration

	dependencyCheckers map[string]HealthChecker

	startTime       time.Time
	lastHealthCheck time.Time

	probeTimer    *time.Timer
	stopProbe     chan struct{}
	terminated    chan struct{}
	terminateOnce sync.Once

	onStatusChange func(old, new GatewayStatus)

	log *logrus.Entry
}

// New builds a Controller. server is the gateway's HTTP server, shut
// down gracefully once a termination signal fires.
func New(cfg config.GatewayConfig, reg *registry.Client, retryPolicy *retry.Policy, server *http.Server, log *logrus.Logger) *Controller {
	return &Controller{
		status:              StatusStarting,
		registry:            reg,
		retry:               retryPolicy,
		port:                cfg.Port,
		healthChecks:        cfg.HealthChecks,
		healthCheckInterval: cfg.HealthCheckInterval,
		failStrategy:        cfg.HealthCheckFailStrategy,
		server:              server,
		shutdownTimeout:     30 * time.Second,
		dependencyCheckers:  make(map[string]HealthChecker),
		startTime:           time.Now(),
		stopProbe:           make(chan struct{}),
		terminated:          make(chan struct{}),
		log:                 log.WithField("component", "lifecycle"),
	}
}

// AddHealthChecker registers an ambient dependency health check
// (Redis, etc.) surfaced through GetHealthStatus / CreateHealthHandler.
// It does not participate in the GatewayStatus FSM.
func (c *Controller) AddHealthChecker(name string, checker HealthChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependencyCheckers[name] = checker
}

// OnStatusChange registers a callback invoked on every FSM transition.
func (c *Controller) OnStatusChange(cb func(old, new GatewayStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChange = cb
}

// Status returns the current GatewayStatus.
func (c *Controller) Status() GatewayStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Terminated returns a channel closed once the controller latches
// SHUTTING_DOWN and emits its termination signal. cmd/gateway selects on
// this alongside OS signals to trigger the same graceful Shutdown path.
func (c *Controller) Terminated() <-chan struct{} {
	return c.terminated
}

func (c *Controller) setStatus(newStatus GatewayStatus) {
	c.mu.Lock()
	old := c.status
	c.status = newStatus
	cb := c.onStatusChange
	c.mu.Unlock()

	if old != newStatus {
		c.log.WithFields(logrus.Fields{"from": old.String(), "to": newStatus.String()}).Info("gateway status transition")
		if cb != nil {
			cb(old, newStatus)
		}
	}
}

// Start registers the gateway with the registry and, on success,
// begins the background health-probe loop. A missing registration key
// is fatal and returned to the caller to exit the process; any other
// registration failure is retried with the configured retry policy
// until it succeeds or the caller cancels ctx.
func (c *Controller) Start(ctx context.Context) error {
	attempt := 0
	for {
		_, err := c.registry.Register(ctx, c.port)
		if err == nil {
			break
		}
		if err == registry.ErrMissingRegistrationKey {
			return err
		}
		c.log.WithError(err).Warn("registration attempt failed, retrying")
		delay := c.retry.Delay(attempt)
		attempt++
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.setStatus(StatusActive)

	if c.healthChecks {
		c.scheduleProbe(c.healthCheckInterval)
	}
	return nil
}

func (c *Controller) scheduleProbe(after time.Duration) {
	c.mu.Lock()
	if c.probeTimer != nil {
		c.probeTimer.Stop()
	}
	c.probeTimer = time.AfterFunc(after, c.runProbe)
	c.mu.Unlock()
}

// runProbe executes a single registry health probe and drives the FSM
// transition implied by its outcome. Only one probe task is ever
// scheduled at a time — this function either reschedules itself or
// terminates the loop by latching SHUTTING_DOWN.
func (c *Controller) runProbe() {
	select {
	case <-c.stopProbe:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	status, err := c.registry.Health(ctx)
	cancel()

	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()

	switch {
	case err == registry.ErrUnauthorized:
		c.handleUnauthorized()
	case err != nil || status == "DOWN":
		c.handleProbeFailure()
	default: // status == "UP"
		c.setStatus(StatusActive)
		c.scheduleProbe(c.healthCheckInterval)
	}
}

// handleProbeFailure implements the HEALTH_CHECK_FAIL branch: retry the
// probe up to maxHealthProbeRetries times with RetryPolicy delays
// before either shutting down or rescheduling per failStrategy.
func (c *Controller) handleProbeFailure() {
	c.setStatus(StatusHealthCheckFail)

	for attempt := 0; attempt < maxHealthProbeRetries; attempt++ {
		select {
		case <-c.stopProbe:
			return
		case <-time.After(c.retry.Delay(attempt)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		status, err := c.registry.Health(ctx)
		cancel()

		if err == registry.ErrUnauthorized {
			c.handleUnauthorized()
			return
		}
		if err == nil && status == "UP" {
			c.setStatus(StatusActive)
			c.scheduleProbe(c.healthCheckInterval)
			return
		}
	}

	if c.failStrategy == config.StrategyShutdown {
		c.terminate()
		return
	}
	// try-again: stay in HEALTH_CHECK_FAIL, reschedule the regular probe.
	c.scheduleProbe(c.healthCheckInterval)
}

// handleUnauthorized implements the REREGISTERING branch: bounded
// re-registration attempts with exponential backoff, per §9's
// resolution of the source's unbounded-retry bug.
func (c *Controller) handleUnauthorized() {
	c.setStatus(StatusReregistering)

	maxRetries := c.retry.Config().MaxRetries
	for attempt := 0; attempt < maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.registry.Register(ctx, c.port)
		cancel()

		if err == nil {
			c.setStatus(StatusActive)
			c.scheduleProbe(c.healthCheckInterval)
			return
		}

		select {
		case <-c.stopProbe:
			return
		case <-time.After(c.retry.Delay(attempt)):
		}
	}

	c.terminate()
}

// terminate latches SHUTTING_DOWN before emitting the termination
// signal, per the invariant that SHUTTING_DOWN must be terminal and
// latched before anything observes the signal.
func (c *Controller) terminate() {
	c.setStatus(StatusShuttingDown)
	c.terminateOnce.Do(func() {
		close(c.terminated)
	})
}

// Shutdown drains in-flight requests and stops the gateway's HTTP
// server. It cancels any pending probe timer first so the process can
// exit promptly.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.setStatus(StatusShuttingDown)

	close(c.stopProbe)
	c.mu.Lock()
	if c.probeTimer != nil {
		c.probeTimer.Stop()
	}
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, c.shutdownTimeout)
	defer cancel()

	if c.server != nil {
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// GetHealthStatus runs every registered ambient dependency checker and
// reports gateway status alongside the results.
func (c *Controller) GetHealthStatus(ctx context.Context) map[string]interface{} {
	c.mu.RLock()
	status := c.status
	uptime := time.Since(c.startTime)
	lastCheck := c.lastHealthCheck
	checkers := make(map[string]HealthChecker, len(c.dependencyCheckers))
	for name, checker := range c.dependencyCheckers {
		checkers[name] = checker
	}
	c.mu.RUnlock()

	result := map[string]interface{}{
		"status": status.String(),
		"uptime": uptime.String(),
	}
	if !lastCheck.IsZero() {
		result["last_health_check"] = lastCheck.Format(time.RFC3339)
	}

	checks := make(map[string]interface{}, len(checkers))
	overallHealthy := true
	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := checker.CheckHealth(checkCtx)
		cancel()
		if err != nil {
			checks[name] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
			overallHealthy = false
			metrics.UpdateServiceHealth(name, false)
		} else {
			checks[name] = map[string]interface{}{"status": "healthy"}
			metrics.UpdateServiceHealth(name, true)
		}
	}
	result["dependencies"] = checks
	result["overall_healthy"] = overallHealthy
	return result
}

// CreateHealthHandler returns the detailed /health/detailed handler.
func (c *Controller) CreateHealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
		defer cancel()

		health := c.GetHealthStatus(reqCtx)
		httpStatus := http.StatusOK
		if c.Status() != StatusActive {
			httpStatus = http.StatusServiceUnavailable
		}
		ctx.JSON(httpStatus, health)
	}
}

// CreateReadinessHandler returns the /health/ready handler: ready iff
// the gateway is ACTIVE and may proxy requests.
func (c *Controller) CreateReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := c.Status()
		ready := status == StatusActive
		httpStatus := http.StatusOK
		if !ready {
			httpStatus = http.StatusServiceUnavailable
		}
		ctx.JSON(httpStatus, gin.H{"ready": ready, "status": status.String()})
	}
}

// CreateLivenessHandler returns the /health/live handler: alive unless
// the process has begun shutting down.
func (c *Controller) CreateLivenessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := c.Status()
		alive := status != StatusShuttingDown
		httpStatus := http.StatusOK
		if !alive {
			httpStatus = http.StatusServiceUnavailable
		}
		ctx.JSON(httpStatus, gin.H{"alive": alive, "status": status.String()})
	}
}
