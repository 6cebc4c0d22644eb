// Package ipcserver implements the optional external-collaborator wire
// protocol (§6): a line-delimited JSON request/response server over a
// UNIX-domain socket or TCP, one goroutine per connection, tracked with
// golang.org/x/sync/errgroup for a clean Shutdown.
package ipcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiebor81/mudis"
)

// DefaultSocketPath is the default UNIX-domain socket path.
const DefaultSocketPath = "/tmp/mudis.sock"

// DefaultTCPAddr is the default TCP listen address, used when
// MUDIS_FORCE_TCP=true or the platform lacks UNIX-domain sockets.
const DefaultTCPAddr = "127.0.0.1:9876"

const envForceTCP = "MUDIS_FORCE_TCP"

const (
	defaultMaxLineBytes = 1 << 20 // 1 MiB, bounds one request line (§9)
	defaultReadTimeout  = 30 * time.Second
)

// Server serves the wire protocol against one Cache.
type Server struct {
	cache *mudis.Cache

	network string
	addr    string

	maxLineBytes int
	readTimeout  time.Duration
	logger       *zap.Logger

	listener net.Listener
}

// Option configures a Server constructed by New.
type Option func(*Server)

// WithUnixSocket pins the server to a UNIX-domain socket at path,
// overriding platform/env auto-detection.
func WithUnixSocket(path string) Option {
	return func(s *Server) { s.network, s.addr = "unix", path }
}

// WithTCPAddr pins the server to a TCP listen address, overriding
// platform/env auto-detection.
func WithTCPAddr(addr string) Option {
	return func(s *Server) { s.network, s.addr = "tcp", addr }
}

// WithMaxLineBytes bounds the size of one request line; lines longer
// than this are treated as a protocol error and close the connection.
func WithMaxLineBytes(n int) Option { return func(s *Server) { s.maxLineBytes = n } }

// WithReadTimeout bounds how long the server waits for the next request
// line on an idle connection before closing it.
func WithReadTimeout(d time.Duration) Option { return func(s *Server) { s.readTimeout = d } }

// WithLogger overrides the server's logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// New constructs a Server for cache. Network/address default to a UNIX
// socket at DefaultSocketPath, or TCP at DefaultTCPAddr when
// MUDIS_FORCE_TCP=true or the host is Windows (§6).
func New(cache *mudis.Cache, opts ...Option) *Server {
	network, addr := resolveDefaultAddr()
	s := &Server{
		cache:        cache,
		network:      network,
		addr:         addr,
		maxLineBytes: defaultMaxLineBytes,
		readTimeout:  defaultReadTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func resolveDefaultAddr() (network, addr string) {
	if os.Getenv(envForceTCP) == "true" || runtime.GOOS == "windows" {
		return "tcp", DefaultTCPAddr
	}
	return "unix", DefaultSocketPath
}

// ListenAndServe binds the configured address and serves connections
// until ctx is cancelled, at which point it closes the listener, waits
// for in-flight connections to finish their current request, and
// returns. It blocks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.network == "unix" {
		_ = os.Remove(s.addr)
	}

	ln, err := net.Listen(s.network, s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	defer ln.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				return g.Wait()
			default:
				return err
			}
		}
		g.Go(func() error {
			s.handleConn(gctx, conn)
			return nil
		})
	}
}

// handleConn serves request/response lines on one connection until it
// disconnects, the context is cancelled, a read deadline is exceeded, or
// a malformed request is received (§6: respond with an error, then
// close).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), s.maxLineBytes)

	// On cancellation, expire the read deadline so a Scan blocked on an
	// idle connection returns at once; a request already being handled
	// still gets its response written.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		if ctx.Err() != nil {
			return
		}
		if !scanner.Scan() {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, response{OK: false, Error: "malformed json: " + err.Error()})
			return
		}

		resp := s.dispatch(ctx, req)
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(response{OK: false, Error: "internal: could not encode response"})
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
