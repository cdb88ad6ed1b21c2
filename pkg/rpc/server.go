// Package rpc exposes the engine over a Unix socket. Each connection
// carries one CBOR request and one CBOR response, except subscribe,
// which keeps the connection open and streams change notifications.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
	socketMode     = 0o666
)

// Request is the wire form of every call.
type Request struct {
	Action   string `json:"action"`
	Object   string `json:"object,omitempty"`
	Property string `json:"property,omitempty"`
	Method   string `json:"method,omitempty"`
	Value    any    `json:"value"`
}

// Response is the envelope of every reply. Data holds the encoded
// result, if any.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  cbor.RawMessage `json:"data,omitempty"`
}

// ActionFunc answers one request.
type ActionFunc func(ctx context.Context, req *Request) (any, error)

// StreamFunc serves a long-lived request. Each value passed to send is
// written to the client; StreamFunc returns when ctx ends or send fails.
type StreamFunc func(ctx context.Context, req *Request, send func(v any) error) error

// Server serves registered actions on a Unix socket.
type Server struct {
	path    string
	log     *slog.Logger
	actions map[string]ActionFunc
	streams map[string]StreamFunc

	active sync.WaitGroup
	ready  chan struct{}
}

func NewServer(path string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		path:    path,
		log:     log,
		actions: make(map[string]ActionFunc),
		streams: make(map[string]StreamFunc),
		ready:   make(chan struct{}),
	}
}

// Handle registers an action. It panics on duplicates.
func (s *Server) Handle(action string, fn ActionFunc) {
	if _, dup := s.actions[action]; dup {
		panic(fmt.Sprintf("rpc: duplicate action %q", action))
	}
	s.actions[action] = fn
}

// HandleStream registers a streaming action. It panics on duplicates.
func (s *Server) HandleStream(action string, fn StreamFunc) {
	if _, dup := s.streams[action]; dup {
		panic(fmt.Sprintf("rpc: duplicate stream %q", action))
	}
	s.streams[action] = fn
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve listens until ctx is done, then waits for in-flight requests.
// A stale socket file is replaced; the socket is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", s.path, err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	defer os.Remove(s.path)
	defer ln.Close()

	if err := os.Chmod(s.path, socketMode); err != nil {
		s.log.Warn("chmod socket", "path", s.path, "err", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	s.log.Info("rpc server listening", "path", s.path)
	close(s.ready)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warn("accept", "err", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.serveConn(ctx, conn)
		}()
	}
	s.active.Wait()
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	var req Request
	if err := newDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Errorf("%w: decode request: %v", errBadRequest, err))
		return
	}
	if req.Action == "" {
		s.writeError(conn, fmt.Errorf("%w: missing action", errBadRequest))
		return
	}

	if fn, ok := s.streams[req.Action]; ok {
		s.serveStream(ctx, conn, &req, fn)
		return
	}
	fn, ok := s.actions[req.Action]
	if !ok {
		s.writeError(conn, fmt.Errorf("%w: unknown action %q", errBadRequest, req.Action))
		return
	}

	out, err := fn(ctx, &req)
	if err != nil {
		s.log.Debug("request failed", "action", req.Action, "object", req.Object, "err", err)
		s.writeError(conn, err)
		return
	}
	s.writeResult(conn, out)
}

// serveStream acknowledges the request, then streams until the client
// hangs up or ctx ends.
func (s *Server) serveStream(ctx context.Context, conn net.Conn, req *Request, fn StreamFunc) {
	_ = conn.SetReadDeadline(time.Time{})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the client never writes again; EOF means it went away
	hangup := make(chan struct{})
	go func() {
		defer close(hangup)
		_, _ = io.Copy(io.Discard, conn)
		cancel()
	}()
	defer func() {
		conn.Close()
		<-hangup
	}()

	s.writeResult(conn, nil)
	enc := newEncoder(conn)
	err := fn(ctx, req, func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return enc.Encode(v)
	})
	if err != nil && ctx.Err() == nil {
		s.log.Debug("stream ended", "action", req.Action, "err", err)
	}
}

func (s *Server) writeError(conn net.Conn, err error) {
	s.write(conn, Response{Error: err.Error(), Code: codeOf(err)})
}

func (s *Server) writeResult(conn net.Conn, v any) {
	resp := Response{OK: true}
	if v != nil {
		data, err := marshal(v)
		if err != nil {
			s.writeError(conn, fmt.Errorf("encode response: %w", err))
			return
		}
		resp.Data = data
	}
	s.write(conn, resp)
}

func (s *Server) write(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(resp); err != nil {
		s.log.Debug("write response", "err", err)
	}
}
