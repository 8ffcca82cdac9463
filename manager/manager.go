// Package manager turns one encoded request into one encoded response, or
// into none.
//
// Processing pipeline:
//
//	decode → expiry check → lookup → bind → invoke → expiry check → encode
//
// A request that has expired, either on arrival or by the time its method
// returns, produces no response. So does every fire-and-forget request
// (rsvp false): those run as supervised background tasks and their failures
// are only logged.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jarpc/codec"
	"jarpc/convert"
	"jarpc/dispatcher"
	"jarpc/message"
	"jarpc/middleware"
	"jarpc/rpcctx"
	"jarpc/rpcerr"
	"jarpc/tasks"
)

// Manager is safe for concurrent use.
type Manager struct {
	dispatcher  *dispatcher.Dispatcher
	static      rpcctx.Static
	codec       codec.Codec
	log         zerolog.Logger
	conv        *convert.Engine
	now         func() time.Time
	middlewares []middleware.Middleware
	taskLimit   int

	handler middleware.HandlerFunc
	tasks   *tasks.Group
}

// New builds a manager serving the methods of d.
func New(d *dispatcher.Dispatcher, opts ...Option) (*Manager, error) {
	if d == nil {
		return nil, errors.New("manager: nil dispatcher")
	}
	m := &Manager{
		dispatcher: d,
		static:     rpcctx.Static{},
		codec:      &codec.JSONCodec{},
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.conv == nil {
		m.conv = convert.New(nil)
	}
	// Build the chain once, not per request.
	m.handler = middleware.Chain(m.middlewares...)(m.call)
	m.tasks = tasks.New(m.taskLimit, m.log)
	return m, nil
}

// Dispatcher returns the registry the manager serves.
func (m *Manager) Dispatcher() *dispatcher.Dispatcher { return m.dispatcher }

// Codec returns the codec used for requests and responses.
func (m *Manager) Codec() codec.Codec { return m.codec }

// Pending reports how many fire-and-forget calls are running.
func (m *Manager) Pending() int { return m.tasks.Len() }

// Closed reports whether Shutdown has begun.
func (m *Manager) Closed() bool { return m.tasks.Closed() }

// Handle processes raw and returns the encoded response, or nil when no
// response is due. The error is non-nil only when ctx was canceled while the
// call was in progress, or when a fire-and-forget request cannot be scheduled:
// tasks.ErrClosed after Shutdown began, tasks.ErrFull when the task limit is
// reached.
func (m *Manager) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	return m.HandleCodec(ctx, m.codec, raw)
}

// HandleCodec is Handle for a body encoded with c instead of the manager's
// codec. The response is encoded with c as well.
func (m *Manager) HandleCodec(ctx context.Context, c codec.Codec, raw []byte) ([]byte, error) {
	resp, err := m.getResponse(ctx, c, raw)
	if err != nil || resp == nil {
		return nil, err
	}
	out, err := message.EncodeResponse(c, resp)
	if err == nil {
		return out, nil
	}
	m.log.Error().Err(err).Interface("request_id", resp.RequestID).Msg("cannot encode response")
	return message.EncodeResponse(c, &message.Response{
		RequestID: resp.RequestID,
		Error:     rpcerr.ServerError(err),
	})
}

// GetResponse is Handle without the final encoding step.
func (m *Manager) GetResponse(ctx context.Context, raw []byte) (*message.Response, error) {
	return m.getResponse(ctx, m.codec, raw)
}

func (m *Manager) getResponse(ctx context.Context, c codec.Codec, raw []byte) (*message.Response, error) {
	req, err := message.DecodeRequest(c, raw, m.now())
	if err != nil {
		// rsvp is unknown for a body that cannot be parsed, so answer anyway.
		m.log.Debug().Err(err).Msg("cannot parse request")
		return &message.Response{Error: rpcerr.Wrap(err)}, nil
	}
	if req.Expired(m.now()) {
		m.log.Warn().Stringer("request", req).Msg("request arrived too late")
		return nil, nil
	}

	if !req.RSVP {
		err := m.tasks.Go(context.WithoutCancel(ctx), req.Method, func(ctx context.Context) error {
			_, err := m.invoke(ctx, req)
			if m.lapsed(ctx, req, err) {
				m.log.Warn().Stringer("request", req).Msg("request took too long to complete")
				return nil
			}
			return err
		})
		if err != nil {
			m.log.Error().Err(err).Stringer("request", req).Msg("cannot schedule fire-and-forget call")
		}
		return nil, err
	}

	result, err := m.invoke(ctx, req)
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return nil, ctxErr
	}
	if m.lapsed(ctx, req, err) {
		m.log.Warn().Stringer("request", req).Msg("request took too long to complete")
		return nil, nil
	}
	if err != nil {
		e := rpcerr.Wrap(err)
		if _, taxonomy := rpcerr.As(err); taxonomy {
			m.log.Debug().Err(err).Str("method", req.Method).Msg("call failed")
		} else {
			m.log.Error().Err(err).Str("method", req.Method).Msg("call failed")
		}
		return &message.Response{RequestID: req.ID, Error: e}, nil
	}
	return &message.Response{RequestID: req.ID, Result: result}, nil
}

// errLapsed marks a call abandoned because its deadline passed.
var errLapsed = errors.New("manager: call deadline passed")

// lapsed reports whether the call ran out of time: its TTL passed, or the
// caller's context deadline did.
func (m *Manager) lapsed(ctx context.Context, req *message.Request, err error) bool {
	return errors.Is(err, errLapsed) ||
		req.Expired(m.now()) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Shutdown stops accepting fire-and-forget calls and waits for the running
// ones to finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.tasks.Shutdown(ctx)
}

type outcome struct {
	result any
	err    error
}

// invoke runs the middleware chain under the request's deadline with the
// request scope entered. For rsvp calls it returns as soon as ctx ends even
// if the method has not; fire-and-forget calls wait for the method. The scope
// is released on every path. The deadline is measured with the manager's
// clock.
func (m *Manager) invoke(ctx context.Context, req *message.Request) (any, error) {
	ctx, release := rpcctx.Enter(ctx, req)
	defer release()
	if deadline, ok := req.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline.Sub(m.now()))
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic while handling %s: %v", req.Method, r)}
			}
		}()
		result, err := m.handler(ctx, req)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if !req.RSVP {
			// Background calls stay tracked by the task group until the
			// method itself returns; its result is dropped.
			<-done
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errLapsed
		}
		return nil, ctx.Err()
	}
}

// call is the innermost handler: lookup, bind, invoke, convert the result.
func (m *Manager) call(ctx context.Context, req *message.Request) (any, error) {
	method, err := m.dispatcher.Lookup(req.Method)
	if err != nil {
		return nil, err
	}
	args, err := method.Bind(ctx, req.Params, dispatcher.Injection{Context: m.static, Request: req}, m.conv)
	if err != nil {
		if e, ok := rpcerr.As(err); ok && e.Code == rpcerr.CodeInvalidParams {
			m.log.Debug().Msgf("wrong signature in call to %s: %v", req.Method, e.Data)
		}
		return nil, err
	}
	out, err := method.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	if method.ResultType() == nil {
		return nil, nil
	}
	return m.conv.ConvertResult(out, method.ResultType())
}
