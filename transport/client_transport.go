// Package transport carries encoded envelopes from a client to a server over
// framed TCP.
//
// ClientTransport multiplexes concurrent calls over a single connection. Each
// request gets a sequence number and a background goroutine (recvLoop) routes
// response frames back to the waiting caller:
//
//	goroutine-1 ──RoundTrip(seq=1)──┐
//	goroutine-2 ──RoundTrip(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──RoundTrip(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] ← goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"jarpc/codec"
	"jarpc/protocol"
	"jarpc/rpcerr"
)

// ErrClosed is returned for calls on a closed transport.
var ErrClosed = errors.New("transport: closed")

// DefaultHeartbeat is the interval between keep-alive frames.
const DefaultHeartbeat = 30 * time.Second

type reply struct {
	body []byte
	err  error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn     net.Conn
	codec    codec.Codec
	compress bool
	log      zerolog.Logger

	seq     atomic.Uint32
	pending sync.Map   // map[uint32]chan reply
	sending sync.Mutex // one frame at a time on the wire

	closeOnce sync.Once
	done      chan struct{}
	err       atomic.Pointer[error] // why the connection ended
}

// Options tune a ClientTransport.
type Options struct {
	Codec     codec.Codec // defaults to JSON
	Compress  bool        // snappy-compress request bodies
	Heartbeat time.Duration
	Log       zerolog.Logger
}

// NewClientTransport starts the receive and heartbeat loops on conn.
func NewClientTransport(conn net.Conn, opts Options) *ClientTransport {
	if opts.Codec == nil {
		opts.Codec = codec.GetCodec(codec.CodecTypeJSON)
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	t := &ClientTransport{
		conn:     conn,
		codec:    opts.Codec,
		compress: opts.Compress,
		log:      opts.Log,
		done:     make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(opts.Heartbeat)
	return t
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, opts Options) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rpcerr.ExternalServiceUnavailable(err.Error())
	}
	return NewClientTransport(conn, opts), nil
}

// Codec is the codec request bodies must be encoded with.
func (t *ClientTransport) Codec() codec.Codec { return t.codec }

// RoundTrip sends one encoded request. With rsvp false the frame is sent as
// a notification and RoundTrip returns as soon as it is written. Otherwise it
// waits for the matching response frame; an empty body comes back as nil.
//
// A broken connection is reported as ExternalServiceUnavailable and an
// expired ctx deadline as Timeout.
func (t *ClientTransport) RoundTrip(ctx context.Context, raw []byte, rsvp bool) ([]byte, error) {
	if t.Closed() {
		return nil, rpcerr.ExternalServiceUnavailable(t.closeErr().Error())
	}
	seq := t.seq.Add(1)
	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if !rsvp {
		header.MsgType = protocol.MsgTypeNotify
	}
	if t.compress {
		header.Flags |= protocol.FlagSnappy
	}

	// Register before writing so recvLoop cannot miss the reply.
	ch := make(chan reply, 1)
	if rsvp {
		t.pending.Store(seq, ch)
		defer t.pending.Delete(seq)
		if t.Closed() {
			return nil, rpcerr.ExternalServiceUnavailable(t.closeErr().Error())
		}
	}

	t.sending.Lock()
	err := protocol.Encode(t.conn, &header, raw)
	t.sending.Unlock()
	if err != nil {
		t.close(err)
		return nil, rpcerr.ExternalServiceUnavailable(err.Error())
	}
	if !rsvp {
		return nil, nil
	}

	select {
	case r := <-ch:
		return r.body, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, rpcerr.Timeout(fmt.Sprintf("no response for seq %d", seq))
		}
		return nil, ctx.Err()
	}
}

// recvLoop is the only reader of the connection; frames must be read
// sequentially to keep their boundaries.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.close(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}
		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			if len(body) == 0 {
				body = nil
			}
			ch.(chan reply) <- reply{body: body}
		} else {
			t.log.Debug().Uint32("seq", header.Seq).Msg("dropping response nobody waits for")
		}
	}
}

// close ends the connection once and fails every pending call.
func (t *ClientTransport) close(cause error) {
	t.closeOnce.Do(func() {
		t.err.Store(&cause)
		close(t.done)
		t.conn.Close()
		t.pending.Range(func(key, value any) bool {
			value.(chan reply) <- reply{err: rpcerr.ExternalServiceUnavailable(cause.Error())}
			t.pending.Delete(key)
			return true
		})
	})
}

func (t *ClientTransport) closeErr() error {
	if p := t.err.Load(); p != nil {
		return *p
	}
	return ErrClosed
}

// Close closes the connection. Pending calls fail.
func (t *ClientTransport) Close() error {
	t.close(ErrClosed)
	return nil
}

// Closed reports whether the connection has ended.
func (t *ClientTransport) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// heartbeatLoop keeps idle connections from being reaped by the peer.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.close(err)
			return
		}
	}
}
