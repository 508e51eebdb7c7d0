// Package envelope implements the gateway's wire-level response shape and
// the error classification that feeds it.
package envelope

import "time"

// Error codes emitted to clients. Backend-originated codes are propagated
// verbatim and are not enumerated here.
const (
	CodeServiceNoExist   = "SERVICE_NO_EXIST"
	CodeGatewayStarting  = "GATEWAY_STARTING"
	CodeHealthCheckFail  = "REGISTRY_HEALTH_CHECK_FAIL"
	CodeReregistering    = "ATTEMPTING_REREGISTRATION"
	CodeShuttingDown     = "SHUTTING_DOWN"
	CodeGatewayTimeout   = "GATEWAY_TIMEOUT"
	CodeGatewayError     = "GATEWAY_ERROR"
	CodeServiceError     = "SERVICE_ERROR"
	CodeUnknownError     = "UNKNOWN_ERROR"
	defaultBackendErrMsg = "Unknown error occured"
)

// APIError is the `error` member of an envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Response is the ApiResponse envelope every gateway reply conforms to.
type Response struct {
	Success   bool        `json:"success"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
}

// NowMillis returns the current time as epoch milliseconds, the
// envelope's timestamp unit.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Success builds a success envelope carrying data unwrapped from a
// backend response.
func Success(data interface{}) Response {
	return Response{Success: true, Timestamp: NowMillis(), Data: data}
}

// Failure builds a failure envelope for the given code/message.
func Failure(code, message string) Response {
	return Response{
		Success:   false,
		Timestamp: NowMillis(),
		Error:     &APIError{Code: code, Message: message},
	}
}

// Kind tags the origin of a Shaped error so the proxy pipeline can decide
// whether it is retryable without a type switch on the underlying cause.
type Kind int

const (
	// KindTransport is a network-level failure after the request was
	// sent: connection refused, reset, or a timeout waiting on a
	// response.
	KindTransport Kind = iota
	// KindNeverIssued is a failure building the outbound request itself
	// (URL build, DNS) — the request was never put on the wire.
	KindNeverIssued
	// KindBackendResponse means the backend answered with an HTTP
	// response carrying a 4xx/5xx status.
	KindBackendResponse
	// KindGatewayLocal is raised directly by the gateway (503/504/404)
	// and already carries its own status/code/message.
	KindGatewayLocal
	// KindUnknown covers anything that doesn't fit the above.
	KindUnknown
)

// Shaped is the tagged-variant error type the proxy pipeline classifies
// every failure into before handing it to the shaper.
type Shaped struct {
	Kind Kind

	// Status is the HTTP status to emit. Populated by Shape.
	Status int
	// Code is the envelope error.code. Populated by Shape.
	Code string
	// Message is the envelope error.message. Populated by Shape.
	Message string
	// Data carries through for gateway-local errors that want to attach
	// a payload (currently unused but kept for forward compatibility
	// with §4.5.4's "data carried through" clause).
	Data interface{}

	// Header, when non-nil, holds response headers from a backend HTTP
	// response that should be filtered and forwarded to the client.
	Header map[string][]string

	// BackendStatus is the backend's HTTP status code, set only for
	// KindBackendResponse.
	BackendStatus int
	// BackendCode/BackendMessage are parsed out of the backend's own
	// envelope, when present.
	BackendCode    string
	BackendMessage string
	// BackendErrString is a fallback when the backend body isn't a
	// recognizable envelope but still carries an `error` string field.
	BackendErrString string

	// Cause is the underlying Go error, if any.
	Cause error
}

func (s *Shaped) Error() string {
	if s.Message != "" {
		return s.Message
	}
	if s.Cause != nil {
		return s.Cause.Error()
	}
	return s.Code
}

func (s *Shaped) Unwrap() error { return s.Cause }

// NewTransportError wraps a network-level failure (no usable response).
func NewTransportError(cause error) *Shaped {
	return &Shaped{Kind: KindTransport, Cause: cause}
}

// NewNeverIssuedError wraps a failure to even build the outbound request
// (URL build, DNS) — the request never reached the wire.
func NewNeverIssuedError(cause error) *Shaped {
	return &Shaped{Kind: KindNeverIssued, Cause: cause}
}

// NewBackendError wraps a backend HTTP response that could not be
// parsed as a retry success, carrying whatever envelope fields could be
// extracted for the shaper.
func NewBackendError(status int, code, message, errString string, header map[string][]string) *Shaped {
	return &Shaped{
		Kind:             KindBackendResponse,
		BackendStatus:    status,
		BackendCode:      code,
		BackendMessage:   message,
		BackendErrString: errString,
		Header:           header,
	}
}

// NewGatewayLocal raises an error the gateway itself originates (503 not
// ACTIVE, 504 total timeout, 404 unknown service, ...).
func NewGatewayLocal(status int, code, message string) *Shaped {
	return &Shaped{Kind: KindGatewayLocal, Status: status, Code: code, Message: message}
}

// NewUnknown wraps anything that doesn't fit the other variants.
func NewUnknown(cause error) *Shaped {
	return &Shaped{Kind: KindUnknown, Cause: cause}
}

// Shape classifies err into {status, code, message} per the gateway's
// error-shaping table. It always succeeds: anything it cannot recognize
// becomes a 500 UNKNOWN_ERROR.
func Shape(err error) (status int, code string, message string, header map[string][]string) {
	s, ok := err.(*Shaped)
	if !ok {
		return 500, CodeUnknownError, err.Error(), nil
	}

	switch s.Kind {
	case KindGatewayLocal:
		return s.Status, s.Code, s.Message, nil

	case KindBackendResponse:
		c := s.BackendCode
		if c == "" {
			c = CodeServiceError
		}
		m := s.BackendMessage
		if m == "" {
			m = s.BackendErrString
		}
		if m == "" {
			m = defaultBackendErrMsg
		}
		return s.BackendStatus, c, m, s.Header

	case KindTransport:
		msg := CodeGatewayError
		if s.Cause != nil {
			msg = s.Cause.Error()
		}
		if s.Message != "" {
			return 502, CodeGatewayError, s.Message, nil
		}
		return 502, CodeGatewayError, msg, nil

	case KindNeverIssued:
		msg := CodeGatewayError
		if s.Cause != nil {
			msg = s.Cause.Error()
		}
		if s.Message != "" {
			return 500, CodeGatewayError, s.Message, nil
		}
		return 500, CodeGatewayError, msg, nil

	default:
		msg := "unknown error"
		if s.Cause != nil {
			msg = s.Cause.Error()
		} else if s.Message != "" {
			msg = s.Message
		}
		return 500, CodeUnknownError, msg, nil
	}
}
