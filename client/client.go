// Package client builds requests, hands them to a transport and turns the
// response back into a result or a taxonomy error.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jarpc/codec"
	"jarpc/convert"
	"jarpc/internal/jsonnum"
	"jarpc/message"
	"jarpc/rpcerr"
)

// Transport delivers one encoded request. With rsvp it returns the encoded
// response, or nil when the server produced none. Without rsvp the returned
// bytes are ignored.
type Transport interface {
	RoundTrip(ctx context.Context, raw []byte, rsvp bool) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, raw []byte, rsvp bool) ([]byte, error)

func (f TransportFunc) RoundTrip(ctx context.Context, raw []byte, rsvp bool) ([]byte, error) {
	return f(ctx, raw, rsvp)
}

// Client is safe for concurrent use.
type Client struct {
	transport Transport
	codec     codec.Codec
	conv      *convert.Engine
	log       zerolog.Logger
	now       func() time.Time

	rpcTTL    *time.Duration
	notifyTTL *time.Duration

	retries int
	backoff time.Duration
}

type Option func(*Client)

// WithCodec sets the request codec. By default the transport's codec is
// used when it has one, JSON otherwise.
func WithCodec(c codec.Codec) Option { return func(cl *Client) { cl.codec = c } }

// WithTTL sets the default TTL of calls and notifications alike.
func WithTTL(d time.Duration) Option {
	return func(cl *Client) { cl.rpcTTL, cl.notifyTTL = &d, &d }
}

// WithRPCTTL overrides the default TTL of calls expecting a response.
func WithRPCTTL(d time.Duration) Option { return func(cl *Client) { cl.rpcTTL = &d } }

// WithNotificationTTL overrides the default TTL of notifications.
func WithNotificationTTL(d time.Duration) Option { return func(cl *Client) { cl.notifyTTL = &d } }

// WithRetry retries calls that fail with Timeout or
// ExternalServiceUnavailable, waiting base, 2*base, 4*base... in between.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(cl *Client) { cl.retries, cl.backoff = maxRetries, base }
}

func WithLogger(l zerolog.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithConverter sets the engine results are converted with.
func WithConverter(e *convert.Engine) Option { return func(cl *Client) { cl.conv = e } }

// WithClock replaces time.Now for request timestamps.
func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

// New returns a client sending through t.
func New(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, log: zerolog.Nop(), now: time.Now}
	if cc, ok := t.(interface{ Codec() codec.Codec }); ok {
		c.codec = cc.Codec()
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		c.codec = codec.GetCodec(codec.CodecTypeJSON)
	}
	if c.conv == nil {
		c.conv = convert.New(nil)
	}
	return c
}

// CallOption adjusts a single request.
type CallOption func(*callOptions)

type callOptions struct {
	ttl     *time.Duration
	durable bool
	id      any
	ts      *time.Time
}

// TTL overrides the client's default TTL for one request.
func TTL(d time.Duration) CallOption { return func(o *callOptions) { o.ttl = &d } }

// Durable sends the request without a TTL, so it never expires.
func Durable() CallOption { return func(o *callOptions) { o.durable = true } }

// ID sets the request id instead of a generated uuid.
func ID(id any) CallOption { return func(o *callOptions) { o.id = id } }

// Timestamp sets the request creation time instead of now.
func Timestamp(t time.Time) CallOption { return func(o *callOptions) { o.ts = &t } }

// NewRequest builds the request Call or Notify would send.
func (c *Client) NewRequest(method string, params any, rsvp bool, opts ...CallOption) (*message.Request, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	p, err := paramsMap(params)
	if err != nil {
		return nil, err
	}
	req := &message.Request{
		Method:  method,
		Params:  p,
		ID:      o.id,
		Version: message.Version,
		TS:      message.Epoch(c.now()),
		RSVP:    rsvp,
	}
	if o.ts != nil {
		req.TS = message.Epoch(*o.ts)
	}
	if req.ID == nil {
		req.ID = uuid.NewString()
	}
	if !o.durable {
		ttl := o.ttl
		if ttl == nil {
			ttl = c.notifyTTL
			if rsvp {
				ttl = c.rpcTTL
			}
		}
		if ttl != nil {
			secs := ttl.Seconds()
			req.TTL = &secs
		}
	}
	return req, nil
}

// Call sends method with params and waits for the result, which is
// converted into out unless out is nil. A server error comes back as the
// matching *rpcerr.Error.
func (c *Client) Call(ctx context.Context, method string, params any, out any, opts ...CallOption) error {
	req, err := c.NewRequest(method, params, true, opts...)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("client: out must be a non-nil pointer, got %T", out)
	}
	v, err := c.conv.Convert(resp.Result, rv.Elem().Type())
	if err != nil {
		return fmt.Errorf("client: decode result of %s: %w", method, err)
	}
	rv.Elem().Set(v)
	return nil
}

// Notify sends method with rsvp false and returns once the transport has
// accepted it.
func (c *Client) Notify(ctx context.Context, method string, params any, opts ...CallOption) error {
	req, err := c.NewRequest(method, params, false, opts...)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, req)
	return err
}

// Do sends a prepared request. For rsvp requests it returns the successful
// response; an error response is returned as its *rpcerr.Error.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	raw, err := req.Encode(c.codec)
	if err != nil {
		return nil, rpcerr.ServerError(err)
	}
	if deadline, ok := req.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var out []byte
	for attempt := 0; ; attempt++ {
		out, err = c.roundTrip(ctx, raw, req.RSVP)
		if err == nil || attempt >= c.retries || !retryable(err) {
			break
		}
		delay := c.backoff * time.Duration(1<<attempt)
		c.log.Debug().Err(err).Int("attempt", attempt+1).Str("method", req.Method).Msg("retrying call")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	if !req.RSVP {
		return nil, nil
	}
	if out == nil {
		return nil, rpcerr.Timeout(fmt.Sprintf("no response to %s", req.Method))
	}
	resp, err := message.DecodeResponse(c.codec, out)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return resp, resp.Error
	}
	return resp, nil
}

// roundTrip maps transport failures onto the taxonomy. Cancellation by the
// caller is passed through.
func (c *Client) roundTrip(ctx context.Context, raw []byte, rsvp bool) ([]byte, error) {
	out, err := c.transport.RoundTrip(ctx, raw, rsvp)
	if err == nil {
		return out, nil
	}
	if _, ok := rpcerr.As(err); ok || errors.Is(err, context.Canceled) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, rpcerr.Timeout(err.Error())
	}
	return nil, rpcerr.ServerError(err)
}

func retryable(err error) bool {
	return errors.Is(err, rpcerr.ErrTimeout) || errors.Is(err, rpcerr.ErrExternalServiceUnavailable)
}

// Close closes the transport if it can be closed.
func (c *Client) Close() error {
	if cl, ok := c.transport.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// paramsMap accepts a string-keyed map, a struct (via its json form) or nil.
func paramsMap(params any) (map[string]any, error) {
	switch p := params.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("client: encode params: %w", err)
	}
	var m map[string]any
	if err := codec.GetCodec(codec.CodecTypeJSON).Decode(raw, &m); err != nil {
		return nil, fmt.Errorf("client: params must encode as an object: %w", err)
	}
	return jsonnum.Normalize(m).(map[string]any), nil
}
