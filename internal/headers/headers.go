// Package headers implements the gateway's HeaderFilter: two pure
// functions that strip hop-by-hop and sensitive headers crossing the
// proxy boundary. Go's native http.Header is already a case-preserving,
// case-insensitive-lookup multimap, so no custom container is needed
// here — it satisfies the header-map requirement natively.
package headers

import (
	"net/http"
	"strings"
)

var requestDropped = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"transfer-encoding": true,
	"authorization":     true,
}

// hopByHop per RFC 7230 §6.1: scoped to a single transport connection,
// must not cross a proxy.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

const internalPrefix = "x-internal-"

// FilterRequest returns a copy of h with host, connection,
// content-length, transfer-encoding, and authorization removed before
// forwarding to a backend.
func FilterRequest(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if requestDropped[strings.ToLower(key)] {
			continue
		}
		out[key] = values
	}
	return out
}

// FilterResponse returns a copy of h with hop-by-hop headers and any
// x-internal-* header removed before forwarding to the client.
func FilterResponse(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		lower := strings.ToLower(key)
		if hopByHop[lower] || strings.HasPrefix(lower, internalPrefix) {
			continue
		}
		out[key] = values
	}
	return out
}
