package gobrpc

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/avissian/multicall/pkg/frame"
)

// Handler serves one method of the exposed interface.
type Handler func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Server is the listening half of the protocol. Each accepted
// connection is served exchange by exchange until the peer hangs up,
// so both the one-call connections of multicall endpoints and
// longer-lived peers work. Handler errors and panics travel back as
// application errors; the connection survives them.
type Server struct {
	logger *slog.Logger
	framed bool

	lk       sync.Mutex
	handlers map[string]Handler
	lis      net.Listener

	closed atomic.Bool
}

// ServerOption to pass to `NewServer`.
type ServerOption func(*Server)

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) ServerOption {
	return func(s *Server) {
		s.logger = slog.New(handler)
	}
}

// WithFramed serves length-prefixed frames instead of a raw gob
// stream. Must match the endpoints' framed flag.
func WithFramed() ServerOption {
	return func(s *Server) {
		s.framed = true
	}
}

func NewServer(opts ...ServerOption) *Server {
	srv := &Server{
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Handle registers h for method, replacing any previous registration.
func (s *Server) Handle(method string, h Handler) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.handlers[method] = h
}

func (s *Server) handler(method string) (Handler, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	h, ok := s.handlers[method]
	return h, ok
}

// ListenAndServe binds addr and serves until `Close`.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until `Close`. It takes ownership
// of lis.
func (s *Server) Serve(lis net.Listener) error {
	s.lk.Lock()
	s.lis = lis
	s.lk.Unlock()

	if s.closed.Load() {
		lis.Close()
		return nil
	}

	for {
		conn, err := lis.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// Addr returns the bound address once `Serve` started, nil before.
func (s *Server) Addr() net.Addr {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops accepting; `Serve` returns nil. Connections already
// established finish their in-flight exchange and drop on the next
// read from a gone peer. Close is idempotent.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.lk.Lock()
	lis := s.lis
	s.lk.Unlock()

	if lis != nil {
		return lis.Close()
	}
	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	var rw io.ReadWriter = conn
	if s.framed {
		rw = frame.NewReadWriter(conn)
	}
	dec := gob.NewDecoder(rw)
	enc := gob.NewEncoder(rw)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) && !s.closed.Load() {
				s.logger.Debug(
					"dropping connection",
					slog.Any("peer", conn.RemoteAddr()),
					slog.Any("error", err),
				)
			}
			return
		}

		resp := s.dispatch(&req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug(
				"response write failed",
				slog.Any("peer", conn.RemoteAddr()),
				slog.Any("error", err),
			)
			return
		}
		if err := flush(rw); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req *request) (resp *response) {
	defer func() {
		if r := recover(); r != nil {
			resp = &response{Err: fmt.Sprintf("panic in %s: %v", req.Method, r)}
		}
	}()

	h, ok := s.handler(req.Method)
	if !ok {
		return &response{Err: fmt.Sprintf("unknown method %q", req.Method)}
	}

	value, err := h(context.Background(), req.Args, req.Kwargs)
	if err != nil {
		return &response{Err: err.Error()}
	}

	return &response{Value: value}
}
