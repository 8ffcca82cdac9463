package message

import (
	"jarpc/codec"
	"jarpc/internal/jsonnum"
	"jarpc/rpcerr"
)

// Response answers one request. Exactly one of Result and Error is
// meaningful: a nil Error means success, even when Result is nil.
type Response struct {
	RequestID any
	Result    any
	Error     *rpcerr.Error
}

// Success reports whether the response carries a result.
func (r *Response) Success() bool {
	return r.Error == nil
}

func (r *Response) wire() map[string]any {
	m := make(map[string]any, 2)
	if r.RequestID != nil {
		m["request_id"] = jsonnum.Normalize(r.RequestID)
	}
	if r.Error != nil {
		m["error"] = r.Error.Payload()
	} else {
		m["result"] = r.Result
	}
	return m
}

// EncodeResponse serializes r with c. The request_id key is omitted when the
// request id is unknown.
func EncodeResponse(c codec.Codec, r *Response) ([]byte, error) {
	return c.Encode(r.wire())
}

// DecodeResponse parses a peer's response. A body that is not an object, or
// that carries both or neither of result and error, is reported as
// ServerError "Invalid response". Error codes outside the taxonomy come back
// as UnknownError with the peer's code intact.
func DecodeResponse(c codec.Codec, raw []byte) (*Response, error) {
	var data any
	if err := c.Decode(raw, &data); err != nil {
		return nil, rpcerr.ServerError(err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, invalidResponse()
	}
	result, hasResult := m["result"]
	payload, hasError := m["error"]
	if hasResult == hasError {
		return nil, invalidResponse()
	}

	resp := &Response{}
	switch id := m["request_id"].(type) {
	case nil, string:
		resp.RequestID = id
	default:
		if !jsonnum.Is(id) {
			return nil, invalidResponse()
		}
		resp.RequestID = jsonnum.Normalize(id)
	}

	if hasError {
		p, ok := payload.(map[string]any)
		if !ok {
			return nil, invalidResponse()
		}
		resp.Error = rpcerr.FromPayload(p)
		resp.Error.Data = jsonnum.Normalize(resp.Error.Data)
		return resp, nil
	}
	resp.Result = jsonnum.Normalize(result)
	return resp, nil
}

func invalidResponse() *rpcerr.Error {
	return rpcerr.New(rpcerr.CodeServerError, "Invalid response")
}
