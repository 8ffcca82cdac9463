// Package message defines the request and response envelopes exchanged
// between callers and the call manager.
//
// Envelopes are codec-agnostic: a codec turns bytes into an untyped tree and
// this package validates the tree field by field, so the same rules apply to
// JSON and CBOR bodies.
package message

import (
	"fmt"
	"math"
	"time"

	"jarpc/codec"
	"jarpc/internal/jsonnum"
	"jarpc/rpcerr"
)

// Version is the only protocol version this package accepts.
const Version = "1.0"

// Request is one call. It is treated as immutable once decoded.
//
//   - TS is the creation time in seconds since the epoch.
//   - TTL is nil for requests that never expire.
//   - RSVP false marks a fire-and-forget call.
type Request struct {
	Method  string
	Params  map[string]any
	ID      any // string, number or nil; echoed back as Response.RequestID
	Version string
	TS      float64
	TTL     *float64
	RSVP    bool
	Meta    map[string]any
}

// Expired reports whether a request created at ts with the given ttl has
// lapsed at now. A nil ttl never expires.
func Expired(ts float64, ttl *float64, now time.Time) bool {
	if ttl == nil {
		return false
	}
	return ts+*ttl < Epoch(now)
}

// Epoch converts t into fractional seconds since the Unix epoch.
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Expired reports whether r has lapsed at now.
func (r *Request) Expired(now time.Time) bool {
	return Expired(r.TS, r.TTL, now)
}

// Deadline returns the absolute time the request lapses, if it has a TTL.
func (r *Request) Deadline() (time.Time, bool) {
	if r.TTL == nil {
		return time.Time{}, false
	}
	sec := r.TS + *r.TTL
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))), true
}

func (r *Request) String() string {
	ttl := "none"
	if r.TTL != nil {
		ttl = fmt.Sprintf("%g", *r.TTL)
	}
	return fmt.Sprintf("request %v method %s ts %f ttl %s rsvp %t", r.ID, r.Method, r.TS, ttl, r.RSVP)
}

func (r *Request) wire() map[string]any {
	m := map[string]any{
		"version": r.Version,
		"method":  r.Method,
		"params":  jsonnum.Normalize(r.params()),
		"id":      jsonnum.Normalize(r.ID),
		"ts":      r.TS,
		"rsvp":    r.RSVP,
	}
	if m["version"] == "" {
		m["version"] = Version
	}
	if r.TTL != nil {
		m["ttl"] = *r.TTL
	}
	if r.Meta != nil {
		m["meta"] = jsonnum.Normalize(r.Meta)
	}
	return m
}

func (r *Request) params() map[string]any {
	if r.Params == nil {
		return map[string]any{}
	}
	return r.Params
}

// Encode serializes r with c.
func (r *Request) Encode(c codec.Codec) ([]byte, error) {
	return c.Encode(r.wire())
}

// DecodeRequest parses raw with c and validates the envelope. Every failure is
// a ParseError whose detail names the offending field. Fields absent from the
// body take their defaults: version "1.0", ts now, rsvp true, params empty.
func DecodeRequest(c codec.Codec, raw []byte, now time.Time) (*Request, error) {
	var data any
	if err := c.Decode(raw, &data); err != nil {
		return nil, rpcerr.ParseError(err.Error())
	}
	return RequestFromData(data, now)
}

// RequestFromData validates an already decoded envelope.
func RequestFromData(data any, now time.Time) (*Request, error) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, rpcerr.ParseError("Request body must be an object")
	}

	req := &Request{Version: Version, TS: Epoch(now), RSVP: true, Params: map[string]any{}}

	method, present := m["method"]
	if !present {
		return nil, rpcerr.ParseError(`Missing required field "method"`)
	}
	if req.Method, ok = method.(string); !ok || req.Method == "" {
		return nil, badField("method")
	}

	if v, present := m["version"]; present {
		if s, ok := v.(string); !ok || s != Version {
			return nil, rpcerr.ParseError("Version must be " + Version)
		}
	}

	if v, present := m["params"]; present && v != nil {
		params, ok := v.(map[string]any)
		if !ok {
			return nil, badField("params")
		}
		req.Params = jsonnum.Normalize(params).(map[string]any)
	}

	switch id := m["id"].(type) {
	case nil, string:
		req.ID = id
	default:
		if !jsonnum.Is(id) {
			return nil, badField("id")
		}
		req.ID = jsonnum.Normalize(id)
	}

	if v, present := m["ts"]; present && v != nil {
		ts, ok := finite(v)
		if !ok {
			return nil, badField("ts")
		}
		req.TS = ts
	}

	if v := m["ttl"]; v != nil {
		ttl, ok := finite(v)
		if !ok {
			return nil, badField("ttl")
		}
		req.TTL = &ttl
	}

	if v, present := m["rsvp"]; present && v != nil {
		if req.RSVP, ok = v.(bool); !ok {
			return nil, badField("rsvp")
		}
	}

	if v := m["meta"]; v != nil {
		meta, ok := v.(map[string]any)
		if !ok {
			return nil, badField("meta")
		}
		req.Meta = jsonnum.Normalize(meta).(map[string]any)
	}
	return req, nil
}

func badField(name string) *rpcerr.Error {
	return rpcerr.ParseError(fmt.Sprintf("Bad %q value", name))
}

func finite(v any) (float64, bool) {
	f, ok := jsonnum.Float64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
