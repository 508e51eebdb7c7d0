package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetgate/api-gateway/internal/envelope"
	"github.com/fleetgate/api-gateway/internal/lifecycle"
	"github.com/fleetgate/api-gateway/internal/registry"
	"github.com/fleetgate/api-gateway/internal/retry"
)

type fakeStatus struct{ status lifecycle.GatewayStatus }

func (f fakeStatus) Status() lifecycle.GatewayStatus { return f.status }

type fakeResolver struct {
	instances []registry.Instance
	err       error
}

func (f fakeResolver) GetServices(ctx context.Context, serviceType string) ([]registry.Instance, error) {
	return f.instances, f.err
}

type firstInstanceSelector struct{}

func (firstInstanceSelector) SelectInstance(serviceType string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, context.DeadlineExceeded
	}
	return instances[0], nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func instanceFor(t *testing.T, srv *httptest.Server) registry.Instance {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return registry.Instance{ID: "inst-1", Host: u.Hostname(), Port: port, Healthy: true}
}

func fastRetryPolicy() *retry.Policy {
	return retry.NewPolicy(&retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, RetryableStatuses: []int{500, 502, 503, 504}})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope.Response {
	t.Helper()
	var env envelope.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response envelope: %v, body=%s", err, rec.Body.String())
	}
	return env
}

func TestHandleSuccessUnwrapsAndRewrapsEnvelope(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets/7" {
			t.Errorf("expected tail path forwarded verbatim, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"timestamp": 111,
			"data":      map[string]string{"id": "7", "name": "widget"},
		})
	}))
	defer backend.Close()

	engine := New(fakeStatus{status: lifecycle.StatusActive}, fakeResolver{instances: []registry.Instance{instanceFor(t, backend)}}, firstInstanceSelector{}, fastRetryPolicy(), Config{Client: backend.Client()}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/products/widgets/7", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "products", "widgets/7")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}
	data, ok := env.Data.(map[string]interface{})
	if !ok || data["name"] != "widget" {
		t.Fatalf("expected backend data unwrapped, got %+v", env.Data)
	}
}

func TestHandleRetriesThenSucceeds(t *testing.T) {
	var calls int32
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": map[string]string{"code": "SERVICE_ERROR", "message": "still warming up"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": "ready"})
	}))
	defer backend.Close()

	engine := New(fakeStatus{status: lifecycle.StatusActive}, fakeResolver{instances: []registry.Instance{instanceFor(t, backend)}}, firstInstanceSelector{}, fastRetryPolicy(), Config{Client: backend.Client()}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/orders/5", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "orders", "5")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestHandleNonRetryableBackendErrorReturnsImmediately(t *testing.T) {
	var calls int32
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": map[string]string{"code": "VALIDATION_ERROR", "message": "bad input"}})
	}))
	defer backend.Close()

	engine := New(fakeStatus{status: lifecycle.StatusActive}, fakeResolver{instances: []registry.Instance{instanceFor(t, backend)}}, firstInstanceSelector{}, fastRetryPolicy(), Config{Client: backend.Client()}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/cart/1", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "cart", "1")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 passed straight through, got %d", rec.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt for a non-retryable status, got %d", calls)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected backend error code propagated, got %+v", env.Error)
	}
}

func TestHandleGatesOnNonActiveStatus(t *testing.T) {
	engine := New(fakeStatus{status: lifecycle.StatusReregistering}, fakeResolver{}, firstInstanceSelector{}, fastRetryPolicy(), Config{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "users", "1")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while not ACTIVE, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != envelope.CodeReregistering {
		t.Fatalf("expected REREGISTERING error code, got %+v", env.Error)
	}
}

func TestHandleNoInstancesIsGatewayError(t *testing.T) {
	engine := New(fakeStatus{status: lifecycle.StatusActive}, fakeResolver{instances: nil}, firstInstanceSelector{}, fastRetryPolicy(), Config{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "products", "1")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for empty instance list, got %d", rec.Code)
	}
}

func TestHandleTotalTimeoutWinsOverAttemptBudget(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": map[string]string{"code": "SERVICE_ERROR"}})
	}))
	defer backend.Close()

	slowRetry := retry.NewPolicy(&retry.Config{MaxRetries: 100, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, RetryableStatuses: []int{503}})
	engine := New(fakeStatus{status: lifecycle.StatusActive}, fakeResolver{instances: []registry.Instance{instanceFor(t, backend)}}, firstInstanceSelector{}, slowRetry, Config{TotalTimeout: 30 * time.Millisecond, Client: backend.Client()}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "orders", "1")

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on total timeout exhaustion, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != envelope.CodeGatewayTimeout {
		t.Fatalf("expected GATEWAY_TIMEOUT code, got %+v", env.Error)
	}
}

func TestHandleTransportFailureShapesAsGatewayError(t *testing.T) {
	engine := New(fakeStatus{status: lifecycle.StatusActive}, fakeResolver{instances: []registry.Instance{{ID: "dead", Host: "127.0.0.1", Port: 1}}}, firstInstanceSelector{}, fastRetryPolicy(), Config{RequestTimeout: 20 * time.Millisecond}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	rec := httptest.NewRecorder()
	engine.Handle(rec, req, "users", "1")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for a transport-level failure, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != envelope.CodeGatewayError {
		t.Fatalf("expected GATEWAY_ERROR code, got %+v", env.Error)
	}
}
