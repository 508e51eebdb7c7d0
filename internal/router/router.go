// Package router implements the gateway's RouteDispatcher: a catch-all
// route per known service name, forwarding everything else to
// ProxyEngine.Handle.
package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fleetgate/api-gateway/internal/envelope"
)

// ProxyHandler is the slice of ProxyEngine the dispatcher needs.
type ProxyHandler interface {
	Handle(w http.ResponseWriter, r *http.Request, serviceName, tailPath string)
}

// knownServices is the fixed, compile-time set of routed service
// names. Adding a service requires a rebuild, per spec.md §4.7.
var knownServices = []string{"products", "orders", "cart", "users"}

// Register attaches one catch-all route per known service, plus a
// NoRoute handler for unrecognized prefixes, to r.
func Register(r *gin.Engine, engine ProxyHandler) {
	for _, service := range knownServices {
		service := service
		r.Any("/"+service+"/*path", func(c *gin.Context) {
			tailPath := strings.TrimPrefix(c.Param("path"), "/")
			engine.Handle(c.Writer, c.Request, service, tailPath)
		})
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope.Failure(envelope.CodeServiceNoExist, "no such service"))
	})
}
