// Package server exposes a call manager over the network: a framed TCP
// listener and an HTTP handler.
//
// TCP request pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Manager.HandleCodec → write response frame (empty body when none is due)
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"jarpc/codec"
	"jarpc/manager"
	"jarpc/protocol"
	"jarpc/registry"
)

// Server serves one Manager over TCP.
type Server struct {
	mgr         *manager.Manager
	log         zerolog.Logger
	compress    bool
	serviceName string
	leaseTTL    int64

	listener      net.Listener
	wg            sync.WaitGroup // in-flight requests
	shutdown      atomic.Bool    // suppresses the Accept error caused by Shutdown
	registry      registry.Registry
	advertiseAddr string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// WithCompression makes the server snappy-compress response bodies.
func WithCompression(on bool) Option { return func(s *Server) { s.compress = on } }

// WithServiceName sets the name the server registers under. Defaults to "jarpc".
func WithServiceName(name string) Option { return func(s *Server) { s.serviceName = name } }

// WithLeaseTTL sets the registry lease in seconds. Defaults to 10.
func WithLeaseTTL(seconds int64) Option { return func(s *Server) { s.leaseTTL = seconds } }

// NewServer creates a server for mgr.
func NewServer(mgr *manager.Manager, opts ...Option) *Server {
	s := &Server{
		mgr:         mgr,
		log:         zerolog.Nop(),
		serviceName: "jarpc",
		leaseTTL:    10,
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve listens on address and enters the accept loop.
//
// advertiseAddr is the routable address put in the registry; it differs from
// a listen address such as ":8080". reg may be nil to skip announcement.
func (s *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener. It returns nil after
// Shutdown.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	s.mu.Lock()
	s.listener = listener
	s.advertiseAddr = advertiseAddr
	s.registry = reg
	s.mu.Unlock()

	if reg != nil {
		instance := registry.ServiceInstance{
			Addr:    advertiseAddr,
			Version: "1.0",
			Methods: s.mgr.Dispatcher().Methods(),
		}
		if err := reg.Register(context.Background(), s.serviceName, instance, s.leaseTTL); err != nil {
			listener.Close()
			return fmt.Errorf("register %s: %w", s.serviceName, err)
		}
	}
	s.log.Info().Str("addr", listener.Addr().String()).Msg("tcp server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listen address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

// handleConn reads frames sequentially and hands each request to its own
// goroutine. Responses share a per-connection write lock so frames never
// interleave.
func (s *Server) handleConn(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection closed")
			}
			return
		}
		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeRequest, protocol.MsgTypeNotify:
			if s.shutdown.Load() {
				return
			}
			s.wg.Add(1)
			go s.handleRequest(ctx, header, body, conn, writeMu)
		default:
			s.log.Debug().Uint8("type", uint8(header.MsgType)).Msg("ignoring unexpected frame")
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer s.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	out, err := s.mgr.HandleCodec(ctx, c, body)
	if err != nil {
		s.log.Debug().Err(err).Uint32("seq", header.Seq).Msg("request not answered")
	}
	if header.MsgType == protocol.MsgTypeNotify {
		return
	}

	// Always answer a request frame so the client can release its slot.
	reply := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	if s.compress {
		reply.Flags |= protocol.FlagSnappy
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &reply, out); err != nil {
		s.log.Warn().Err(err).Uint32("seq", header.Seq).Msg("cannot write response")
	}
}

// Shutdown drains the server:
//  1. deregister, so clients stop routing here
//  2. close the listener
//  3. wait for in-flight requests, bounded by ctx
//  4. close the remaining connections and drain background calls
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	reg, addr := s.registry, s.advertiseAddr
	s.mu.Unlock()
	if reg != nil {
		if err := reg.Deregister(ctx, s.serviceName, addr); err != nil {
			s.log.Warn().Err(err).Msg("cannot deregister")
		}
	}

	// The flag must be set before Close so Serve returns nil.
	s.mu.Lock()
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timeout waiting for ongoing requests to finish: %w", ctx.Err())
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	return errors.Join(err, s.mgr.Shutdown(ctx))
}
