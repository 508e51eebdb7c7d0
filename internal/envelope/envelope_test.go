package envelope

import "testing"

func TestShapeGatewayLocal(t *testing.T) {
	err := NewGatewayLocal(503, CodeGatewayStarting, "Gateway is starting. Please try again shortly")
	status, code, msg, header := Shape(err)
	if status != 503 || code != CodeGatewayStarting || header != nil {
		t.Fatalf("unexpected shape: %d %s %s %v", status, code, msg, header)
	}
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestShapeBackendResponseWithEnvelope(t *testing.T) {
	err := NewBackendError(400, "VALIDATION_ERROR", "Invalid input", "", nil)
	status, code, msg, _ := Shape(err)
	if status != 400 || code != "VALIDATION_ERROR" || msg != "Invalid input" {
		t.Fatalf("unexpected shape: %d %s %s", status, code, msg)
	}
}

func TestShapeBackendResponseNoEnvelope(t *testing.T) {
	err := NewBackendError(500, "", "", "", nil)
	status, code, msg, _ := Shape(err)
	if status != 500 || code != CodeServiceError || msg != defaultBackendErrMsg {
		t.Fatalf("unexpected shape: %d %s %s", status, code, msg)
	}
}

func TestShapeTransport(t *testing.T) {
	err := NewTransportError(errString("connection refused"))
	status, code, _, _ := Shape(err)
	if status != 502 || code != CodeGatewayError {
		t.Fatalf("unexpected shape: %d %s", status, code)
	}
}

func TestShapeNeverIssued(t *testing.T) {
	err := NewNeverIssuedError(errString("invalid control character in URL"))
	status, code, _, _ := Shape(err)
	if status != 500 || code != CodeGatewayError {
		t.Fatalf("unexpected shape: %d %s", status, code)
	}
}

func TestShapeUnknown(t *testing.T) {
	status, code, _, _ := Shape(errString("boom"))
	if status != 500 || code != CodeUnknownError {
		t.Fatalf("unexpected shape: %d %s", status, code)
	}
}

func TestSuccessFailureEnvelopeShape(t *testing.T) {
	ok := Success(map[string]string{"message": "ok"})
	if !ok.Success || ok.Error != nil || ok.Timestamp == 0 {
		t.Fatalf("success envelope malformed: %+v", ok)
	}

	bad := Failure(CodeServiceNoExist, "")
	if bad.Success || bad.Error == nil || bad.Error.Code != CodeServiceNoExist {
		t.Fatalf("failure envelope malformed: %+v", bad)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
