package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fleetgate/api-gateway/internal/envelope"
)

type recordingHandler struct {
	serviceName string
	tailPath    string
}

func (h *recordingHandler) Handle(w http.ResponseWriter, r *http.Request, serviceName, tailPath string) {
	h.serviceName = serviceName
	h.tailPath = tailPath
	w.WriteHeader(http.StatusOK)
}

func newTestRouter(h ProxyHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, h)
	return r
}

func TestRegisterDispatchesKnownServiceWithTailPath(t *testing.T) {
	h := &recordingHandler{}
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/products/widgets/7", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if h.serviceName != "products" {
		t.Fatalf("expected service 'products', got %q", h.serviceName)
	}
	if h.tailPath != "widgets/7" {
		t.Fatalf("expected tail path 'widgets/7', got %q", h.tailPath)
	}
}

func TestRegisterDispatchesEveryKnownService(t *testing.T) {
	for _, service := range knownServices {
		h := &recordingHandler{}
		r := newTestRouter(h)

		req := httptest.NewRequest(http.MethodPost, "/"+service+"/x", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if h.serviceName != service {
			t.Fatalf("expected service %q to dispatch, got %q", service, h.serviceName)
		}
	}
}

func TestUnknownPrefixReturns404WithServiceNoExist(t *testing.T) {
	h := &recordingHandler{}
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/nothing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var env envelope.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if env.Error == nil || env.Error.Code != envelope.CodeServiceNoExist {
		t.Fatalf("expected SERVICE_NO_EXIST, got %+v", env.Error)
	}
}
