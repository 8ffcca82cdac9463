// Package rpcerr defines the error taxonomy shared by the call manager, the
// client and every transport.
//
// Each kind has a stable numeric code and a default message. A taxonomy error
// travels through the pipeline unchanged and ends up in Response.error; any
// other failure is wrapped into ServerError at the manager boundary.
package rpcerr

import (
	"errors"
	"fmt"

	"jarpc/internal/jsonnum"
)

// Code is the stable numeric identifier of an error kind.
type Code int

const (
	CodeParseError                 Code = -32700
	CodeInvalidRequest             Code = -32600
	CodeMethodNotFound             Code = -32601
	CodeInvalidParams              Code = -32602
	CodeInternalError              Code = -32603
	CodeServerError                Code = -32000
	CodeTimeout                    Code = 1000
	CodeUnauthorized               Code = 1001
	CodeForbidden                  Code = 1003
	CodeExternalServiceUnavailable Code = 1004
	CodeValidationError            Code = 2000
	CodeUnknownError               Code = 9999
)

var defaultMessages = map[Code]string{
	CodeParseError:                 "Parse error",
	CodeInvalidRequest:             "Invalid Request",
	CodeMethodNotFound:             "Method not found",
	CodeInvalidParams:              "Invalid params",
	CodeInternalError:              "Internal error",
	CodeServerError:                "Server error",
	CodeTimeout:                    "Timeout",
	CodeUnauthorized:               "Unauthorized",
	CodeForbidden:                  "Forbidden",
	CodeExternalServiceUnavailable: "External service unavailable",
	CodeValidationError:            "Validation error",
	CodeUnknownError:               "Unknown error",
}

// Known reports whether c belongs to the taxonomy.
func Known(c Code) bool {
	_, ok := defaultMessages[c]
	return ok
}

// DefaultMessage returns the taxonomy message for c, or "Unknown error".
func DefaultMessage(c Code) string {
	if m, ok := defaultMessages[c]; ok {
		return m
	}
	return defaultMessages[CodeUnknownError]
}

// Error is a taxonomy error. Data carries kind-specific detail and is
// serialized under the "error" key of the error payload.
type Error struct {
	Code    Code
	Message string
	Data    any
}

func (e *Error) Error() string {
	if e.Data == nil {
		return fmt.Sprintf("jarpc: %s (%d)", e.Message, e.Code)
	}
	return fmt.Sprintf("jarpc: %s (%d): %v", e.Message, e.Code, e.Data)
}

// Is matches any taxonomy error carrying the same code, so the sentinel
// values below can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Payload converts the error into the structured wire form.
func (e *Error) Payload() map[string]any {
	p := map[string]any{
		"code":    int(e.Code),
		"message": e.Message,
	}
	if e.Data != nil {
		p["error"] = e.Data
	}
	return p
}

// Sentinels for errors.Is checks.
var (
	ErrParse                      = &Error{Code: CodeParseError}
	ErrInvalidRequest             = &Error{Code: CodeInvalidRequest}
	ErrMethodNotFound             = &Error{Code: CodeMethodNotFound}
	ErrInvalidParams              = &Error{Code: CodeInvalidParams}
	ErrInternal                   = &Error{Code: CodeInternalError}
	ErrServer                     = &Error{Code: CodeServerError}
	ErrTimeout                    = &Error{Code: CodeTimeout}
	ErrUnauthorized               = &Error{Code: CodeUnauthorized}
	ErrForbidden                  = &Error{Code: CodeForbidden}
	ErrExternalServiceUnavailable = &Error{Code: CodeExternalServiceUnavailable}
	ErrValidation                 = &Error{Code: CodeValidationError}
	ErrUnknown                    = &Error{Code: CodeUnknownError}
)

// New builds a taxonomy error with the default message for code.
func New(code Code, data any) *Error {
	return &Error{Code: code, Message: DefaultMessage(code), Data: data}
}

// MethodNotFoundDetail is the detail attached to MethodNotFound.
type MethodNotFoundDetail struct {
	Method          string   `json:"method"`
	DeclaredMethods []string `json:"declared_methods"`
}

func ParseError(data any) *Error     { return New(CodeParseError, data) }
func InvalidRequest(data any) *Error { return New(CodeInvalidRequest, data) }
func InternalError(data any) *Error  { return New(CodeInternalError, data) }
func Timeout(data any) *Error        { return New(CodeTimeout, data) }
func Unauthorized(data any) *Error   { return New(CodeUnauthorized, data) }
func Forbidden(data any) *Error      { return New(CodeForbidden, data) }
func ValidationError(data any) *Error {
	return New(CodeValidationError, data)
}
func ExternalServiceUnavailable(data any) *Error {
	return New(CodeExternalServiceUnavailable, data)
}

// MethodNotFound reports an unknown method together with the names that are
// declared. The caller is expected to pass declared already sorted.
func MethodNotFound(method string, declared []string) *Error {
	if declared == nil {
		declared = []string{}
	}
	return New(CodeMethodNotFound, MethodNotFoundDetail{Method: method, DeclaredMethods: declared})
}

// InvalidParams carries a free-text explanation such as "Missing arguments: b".
func InvalidParams(explanation string) *Error {
	return New(CodeInvalidParams, explanation)
}

// ServerError wraps an arbitrary failure. Only the failure's text is kept.
func ServerError(err error) *Error {
	if err == nil {
		return New(CodeServerError, nil)
	}
	return New(CodeServerError, err.Error())
}

// UnknownError is used for codes a peer sent that are not in the taxonomy.
// The peer's code is preserved.
func UnknownError(code Code, message string, data any) *Error {
	if message == "" {
		message = DefaultMessage(CodeUnknownError)
	}
	return &Error{Code: code, Message: message, Data: data}
}

// As extracts a taxonomy error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap returns err unchanged when it already is a taxonomy error and a
// ServerError otherwise.
func Wrap(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	return ServerError(err)
}

// FromPayload rebuilds an error decoded from a peer's response. Detail is
// accepted under either "error" or "data".
func FromPayload(p map[string]any) *Error {
	code, ok := codeOf(p["code"])
	if !ok {
		return New(CodeServerError, "Invalid response")
	}
	message, _ := p["message"].(string)
	data, has := p["error"]
	if !has {
		data = p["data"]
	}
	if !Known(code) {
		return UnknownError(code, message, data)
	}
	if message == "" {
		message = DefaultMessage(code)
	}
	return &Error{Code: code, Message: message, Data: data}
}

func codeOf(v any) (Code, bool) {
	i, ok := jsonnum.Integral(v)
	return Code(i), ok
}
