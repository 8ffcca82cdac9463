package rpcerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestDefaultMessages(t *testing.T) {
	tests := []struct {
		err  *Error
		code Code
		msg  string
	}{
		{ParseError(nil), CodeParseError, "Parse error"},
		{InvalidRequest(nil), CodeInvalidRequest, "Invalid Request"},
		{MethodNotFound("x", nil), CodeMethodNotFound, "Method not found"},
		{InvalidParams("Missing arguments: b"), CodeInvalidParams, "Invalid params"},
		{InternalError(nil), CodeInternalError, "Internal error"},
		{ServerError(errors.New("boom")), CodeServerError, "Server error"},
		{Timeout(nil), CodeTimeout, "Timeout"},
		{Unauthorized(nil), CodeUnauthorized, "Unauthorized"},
		{Forbidden(nil), CodeForbidden, "Forbidden"},
		{ExternalServiceUnavailable(nil), CodeExternalServiceUnavailable, "External service unavailable"},
		{ValidationError(nil), CodeValidationError, "Validation error"},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("code = %d, want %d", tt.err.Code, tt.code)
		}
		if tt.err.Message != tt.msg {
			t.Errorf("message = %q, want %q", tt.err.Message, tt.msg)
		}
	}
}

func TestMethodNotFoundPayload(t *testing.T) {
	e := MethodNotFound("method", nil)
	b, err := json.Marshal(e.Payload())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"code":-32601,"error":{"method":"method","declared_methods":[]},"message":"Method not found"}`
	if string(b) != want {
		t.Fatalf("payload = %s, want %s", b, want)
	}
}

func TestServerErrorKeepsOnlyText(t *testing.T) {
	e := ServerError(fmt.Errorf("open db: %w", errors.New("refused")))
	if e.Data != "open db: refused" {
		t.Fatalf("data = %v", e.Data)
	}
}

func TestIsAndWrap(t *testing.T) {
	wrapped := fmt.Errorf("call: %w", InvalidParams("Unexpected arguments: c"))
	if !errors.Is(wrapped, ErrInvalidParams) {
		t.Fatal("expect errors.Is to match by code")
	}
	if errors.Is(wrapped, ErrParse) {
		t.Fatal("different codes must not match")
	}
	if got := Wrap(wrapped); got.Code != CodeInvalidParams {
		t.Fatalf("Wrap kept code %d", got.Code)
	}
	if got := Wrap(errors.New("plain")); got.Code != CodeServerError || got.Data != "plain" {
		t.Fatalf("Wrap(plain) = %+v", got)
	}
}

func TestFromPayload(t *testing.T) {
	e := FromPayload(map[string]any{"code": json.Number("2000"), "message": "Validation error", "data": "some data"})
	if e.Code != CodeValidationError || e.Data != "some data" {
		t.Fatalf("got %+v", e)
	}

	e = FromPayload(map[string]any{"code": float64(-32602), "error": "Missing arguments: b"})
	if e.Message != "Invalid params" || e.Data != "Missing arguments: b" {
		t.Fatalf("got %+v", e)
	}

	e = FromPayload(map[string]any{"code": json.Number("42"), "message": "teapot"})
	if e.Code != 42 || e.Message != "teapot" {
		t.Fatalf("unknown code not preserved: %+v", e)
	}
	if errors.Is(e, ErrServer) {
		t.Fatal("unknown code must not look like a server error")
	}

	e = FromPayload(map[string]any{"message": "no code"})
	if e.Code != CodeServerError {
		t.Fatalf("missing code should be a server error, got %+v", e)
	}
}
