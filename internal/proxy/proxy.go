// Package proxy implements the gateway's ProxyEngine: the per-request
// resolve → select → forward-with-retry → shape pipeline that sits
// between RouteDispatcher and the downstream services.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fleetgate/api-gateway/internal/envelope"
	"github.com/fleetgate/api-gateway/internal/headers"
	"github.com/fleetgate/api-gateway/internal/lifecycle"
	"github.com/fleetgate/api-gateway/internal/loadbalancer"
	"github.com/fleetgate/api-gateway/internal/metrics"
	"github.com/fleetgate/api-gateway/internal/registry"
	"github.com/fleetgate/api-gateway/internal/retry"
)

// StatusProvider is the slice of LivenessController the engine needs:
// the current GatewayStatus to gate requests on.
type StatusProvider interface {
	Status() lifecycle.GatewayStatus
}

// ServiceResolver is the slice of RegistryClient the engine needs.
type ServiceResolver interface {
	GetServices(ctx context.Context, serviceType string) ([]registry.Instance, error)
}

// InstanceSelector is the slice of LoadBalancer the engine needs.
type InstanceSelector interface {
	SelectInstance(serviceType string, instances []registry.Instance) (registry.Instance, error)
}

// Engine is the gateway's ProxyEngine.
type Engine struct {
	status   StatusProvider
	resolver ServiceResolver
	selector InstanceSelector
	retry    *retry.Policy
	client   *http.Client

	requestTimeout time.Duration
	totalTimeout   time.Duration

	log *logrus.Entry
}

// Config configures an Engine. Client overrides the outbound HTTP
// client; left nil, a pooled client with sane defaults is built. Tests
// use this to point at an httptest.NewTLSServer's trusted client
// without disturbing the fixed-HTTPS target URL scheme.
type Config struct {
	RequestTimeout time.Duration
	TotalTimeout   time.Duration
	Client         *http.Client
}

// New builds an Engine.
func New(status StatusProvider, resolver ServiceResolver, selector InstanceSelector, retryPolicy *retry.Policy, cfg Config, log *logrus.Logger) *Engine {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 5 * time.Second
	}
	totalTimeout := cfg.TotalTimeout
	if totalTimeout == 0 {
		totalTimeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Engine{
		status:         status,
		resolver:       resolver,
		selector:       selector,
		retry:          retryPolicy,
		client:         client,
		requestTimeout: requestTimeout,
		totalTimeout:   totalTimeout,
		log:            log.WithField("component", "proxy"),
	}
}

var statusGate = map[lifecycle.GatewayStatus]struct {
	code    string
	message string
}{
	lifecycle.StatusStarting:        {envelope.CodeGatewayStarting, "Gateway is starting. Please try again shortly"},
	lifecycle.StatusHealthCheckFail: {envelope.CodeHealthCheckFail, "Registry health check is failing. Please try again shortly"},
	lifecycle.StatusReregistering:   {envelope.CodeReregistering, "Gateway is attempting to re-register with the registry"},
	lifecycle.StatusShuttingDown:    {envelope.CodeShuttingDown, "Gateway is shutting down"},
}

// Handle runs the full resolve → select → forward-with-retry → shape
// pipeline for a request targeting serviceName, with tailPath being
// everything after the service prefix (no leading slash).
func (e *Engine) Handle(w http.ResponseWriter, r *http.Request, serviceName, tailPath string) {
	ctx := r.Context()

	// 1. Gate on status.
	if gs := e.status.Status(); gs != lifecycle.StatusActive {
		gate, ok := statusGate[gs]
		if !ok {
			gate = statusGate[lifecycle.StatusStarting]
		}
		writeEnvelope(w, 503, envelope.Failure(gate.code, gate.message))
		return
	}

	// 2. Resolve.
	instances, err := e.resolver.GetServices(ctx, serviceName)
	if err != nil {
		e.emitError(w, err)
		return
	}
	if len(instances) == 0 {
		writeEnvelope(w, 502, envelope.Failure(envelope.CodeServiceError, fmt.Sprintf("no healthy instances available for %s", serviceName)))
		return
	}

	// 3. Select.
	instance, err := e.selector.SelectInstance(serviceName, instances)
	if err != nil {
		e.emitError(w, envelope.NewUnknown(err))
		return
	}
	targetURL := fmt.Sprintf("https://%s:%d/%s", instance.Host, instance.Port, tailPath)

	// 4. Forward with retry.
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			e.emitError(w, envelope.NewUnknown(fmt.Errorf("reading request body: %w", err)))
			return
		}
		r.Body.Close()
	}
	filteredReqHeaders := headers.FilterRequest(r.Header)

	startTime := time.Now()
	attempt := 0
	for {
		resp, respBody, attemptErr := e.attempt(ctx, r.Method, targetURL, filteredReqHeaders, body, serviceName, attempt)
		if attemptErr == nil {
			e.emitSuccess(w, resp, respBody, serviceName, time.Since(startTime))
			return
		}

		if !e.retry.ShouldRetry(attemptErr, attempt) {
			metrics.RecordProxyRequest(serviceName, shapeStatus(attemptErr), time.Since(startTime))
			e.emitError(w, attemptErr)
			return
		}

		if time.Since(startTime) >= e.totalTimeout {
			timeoutErr := envelope.NewGatewayLocal(504, envelope.CodeGatewayTimeout, "gateway timed out waiting for a successful backend response")
			metrics.RecordProxyRequest(serviceName, 504, time.Since(startTime))
			e.emitError(w, timeoutErr)
			return
		}

		attempt++
		metrics.RecordProxyRetry(serviceName)
		delay := e.retry.Delay(attempt)
		select {
		case <-ctx.Done():
			e.emitError(w, envelope.NewTransportError(ctx.Err()))
			return
		case <-time.After(delay):
		}
	}
}

// attempt issues a single outbound request and classifies the result.
// A non-nil error is always an *envelope.Shaped or *retry.StatusError
// suitable for ShouldRetry/Shape.
func (e *Engine) attempt(ctx context.Context, method, targetURL string, reqHeaders http.Header, body []byte, serviceName string, attemptNum int) (*http.Response, []byte, error) {
	tracer := otel.Tracer("api-gateway/proxy")
	ctx, span := tracer.Start(ctx, "proxy.attempt", oteltrace.WithAttributes(
		attribute.String("proxy.target_service", serviceName),
		attribute.Int("proxy.attempt", attemptNum),
		attribute.String("proxy.target_url", targetURL),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, targetURL, bodyReader)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, envelope.NewNeverIssuedError(fmt.Errorf("building backend request: %w", err))
	}
	req.Header = reqHeaders.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, envelope.NewTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, envelope.NewTransportError(fmt.Errorf("reading backend response: %w", err))
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if isBackendFailure(resp.StatusCode) {
		code, message, errString := parseBackendEnvelope(payload)
		span.SetStatus(codes.Error, fmt.Sprintf("backend status %d", resp.StatusCode))
		backendErr := envelope.NewBackendError(resp.StatusCode, code, message, errString, resp.Header)
		// StatusError drives ShouldRetry's classification; the caller
		// shapes the richer *envelope.Shaped when it decides to stop.
		wrapped := &retryableBackendError{status: &retry.StatusError{Status: resp.StatusCode}, shaped: backendErr}
		return resp, payload, wrapped
	}

	span.SetStatus(codes.Ok, "")
	return resp, payload, nil
}

// retryableBackendError lets ShouldRetry classify on the backend's
// HTTP status via errors.As(*retry.StatusError) while still carrying
// the fully shaped error for the final emit.
type retryableBackendError struct {
	status *retry.StatusError
	shaped *envelope.Shaped
}

func (e *retryableBackendError) Error() string { return e.shaped.Error() }
func (e *retryableBackendError) Unwrap() error { return e.status }

// isBackendFailure reports whether a backend HTTP response should be
// routed through the error shaper rather than passed through as a
// success. Any non-2xx status is a failure; whether it is *retryable*
// is a separate question answered by RetryPolicy against the backend's
// status code.
func isBackendFailure(status int) bool {
	return status < 200 || status >= 300
}

func parseBackendEnvelope(payload []byte) (code, message, errString string) {
	var env envelope.Response
	if err := json.Unmarshal(payload, &env); err == nil && env.Error != nil {
		return env.Error.Code, env.Error.Message, ""
	}
	var fallback struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &fallback); err == nil {
		errString = fallback.Error
	}
	return "", "", errString
}

// emitSuccess unwraps the backend's envelope and re-wraps it under a
// fresh timestamp, per spec.md §4.5's "Note on response semantics".
func (e *Engine) emitSuccess(w http.ResponseWriter, resp *http.Response, payload []byte, serviceName string, duration time.Duration) {
	filtered := headers.FilterResponse(resp.Header)
	for key, values := range filtered {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	var backendEnv envelope.Response
	var data interface{} = json.RawMessage(payload)
	if err := json.Unmarshal(payload, &backendEnv); err == nil {
		data = backendEnv.Data
	}

	metrics.RecordProxyRequest(serviceName, resp.StatusCode, duration)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	json.NewEncoder(w).Encode(envelope.Success(data))
}

// emitError shapes err per §4.5.4 and writes the envelope.
func (e *Engine) emitError(w http.ResponseWriter, err error) {
	if wrapped, ok := err.(*retryableBackendError); ok {
		err = wrapped.shaped
	}
	status, code, message, header := envelope.Shape(err)
	for key, values := range headers.FilterResponse(header) {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	e.log.WithFields(logrus.Fields{"status": status, "code": code}).Warn("proxy request failed")
	writeEnvelope(w, status, envelope.Failure(code, message))
}

func shapeStatus(err error) int {
	if wrapped, ok := err.(*retryableBackendError); ok {
		err = wrapped.shaped
	}
	status, _, _, _ := envelope.Shape(err)
	return status
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// LoadBalancerAdapter adapts *loadbalancer.LoadBalancer to InstanceSelector;
// both already share the exact method signature, so this exists purely
// to document the dependency at the call site in cmd/gateway/main.go.
type LoadBalancerAdapter = loadbalancer.LoadBalancer
