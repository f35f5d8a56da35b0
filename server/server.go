// Package server hosts a hub: it upgrades HTTP requests to websockets, runs one
// engine Connection per client, and shuts down gracefully.
//
// Request processing pipeline:
//
//	GET /{hub} → websocket upgrade → ServeConn
//	  → engine handshake (Accept) → read loop
//	    → for each invocation: go handler (parallel processing)
//	      → Middleware Chain → registered HandlerFunc → Completion / StreamItems
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hubrpc/config"
	"hubrpc/discovery"
	"hubrpc/engine"
	"hubrpc/middleware"
	"hubrpc/transport"
)

// Server serves one hub.
type Server struct {
	cfg         *config.Config
	handlers    map[string]middleware.HandlerFunc // copied into every new connection
	middlewares []middleware.Middleware
	upgrader    websocket.Upgrader

	// OnConnect, when set, runs once a client finished its handshake.
	OnConnect func(conn *engine.Connection)

	mu    sync.Mutex
	conns map[string]*engine.Connection

	wg            sync.WaitGroup // tracks live connections for graceful shutdown
	shutdown      atomic.Bool
	httpServer    *http.Server
	listener      net.Listener
	registry      discovery.Registry // nil if not using discovery
	advertiseAddr string
}

// NewServer creates a server for cfg.Hub. cfg must have defaults applied.
func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:      cfg,
		handlers: make(map[string]middleware.HandlerFunc),
		conns:    make(map[string]*engine.Connection),
		upgrader: websocket.Upgrader{
			// Origin policy belongs to the hosting application.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register exposes h to clients under name. Registrations apply to
// connections accepted afterwards.
func (s *Server) Register(name string, h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// Use appends a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) options() engine.Options {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := engine.OptionsFromConfig(s.cfg)
	opts.Handlers = make(map[string]middleware.HandlerFunc, len(s.handlers))
	for name, h := range s.handlers {
		opts.Handlers[name] = h
	}
	opts.Middlewares = append(opts.Middlewares, s.middlewares...)
	return opts
}

// Path is the route the hub is served on.
func (s *Server) Path() string {
	return "/" + strings.TrimPrefix(s.cfg.Hub, "/")
}

// Handler returns the HTTP handler serving the hub route.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(s.Path(), s.handleWebSocket).Methods(http.MethodGet)
	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := transport.Upgrade(&s.upgrader, w, r)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	if err := s.ServeConn(context.Background(), ws); err != nil {
		logrus.WithError(err).WithField("remote", ws.RemoteAddr()).Debug("connection ended")
	}
}

// ServeConn runs the hub protocol over t until the connection closes. It
// returns the handshake error, or nil once an accepted connection ended.
func (s *Server) ServeConn(ctx context.Context, t transport.Transport) error {
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := engine.New(t, s.options())
	if err != nil {
		_ = t.Close()
		return err
	}
	if err := conn.Accept(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn.ID())
		s.mu.Unlock()
	}()

	if s.OnConnect != nil {
		s.OnConnect(conn)
	}
	_ = conn.Wait()
	return nil
}

// Connections returns the currently connected clients.
func (s *Server) Connections() []*engine.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*engine.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends a fire-and-forget invocation of target to every client. It
// returns the errors of the clients it could not reach.
func (s *Server) Broadcast(ctx context.Context, target string, args ...any) error {
	var errs []error
	for _, c := range s.Connections() {
		if err := c.Send(ctx, target, args...); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Serve listens on cfg.Server.ListenAddr, optionally registers the hub in
// reg, and serves until Shutdown.
//
// The advertised address defaults to the listener address. It differs from
// the listen address when binding ":8080", which discovery cannot route to.
func (s *Server) Serve(reg discovery.Registry) error {
	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.advertiseAddr = s.cfg.Server.AdvertiseAddr
	if s.advertiseAddr == "" {
		s.advertiseAddr = listener.Addr().String()
	}
	s.mu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Discovery.Timeout)
		err := reg.Register(ctx, s.cfg.Hub, discovery.Instance{Addr: s.advertiseAddr}, s.cfg.Discovery.TTL)
		cancel()
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("register hub %s: %w", s.cfg.Hub, err)
		}
		s.mu.Lock()
		s.registry = reg
		s.mu.Unlock()
	}

	logrus.WithFields(logrus.Fields{"hub": s.cfg.Hub, "addr": s.advertiseAddr}).Info("hub serving")
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if s.shutdown.Load() {
			return nil
		}
		return err
	}
	return nil
}

// Addr returns the listener address once Serve started, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown performs graceful shutdown:
//  1. Deregister the hub from discovery so clients stop resolving this server
//  2. Stop accepting new connections
//  3. Close every connection with a reconnect hint
//  4. Wait for connection handlers to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	reg, httpServer, addr := s.registry, s.httpServer, s.advertiseAddr
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if reg != nil {
		if err := reg.Deregister(ctx, s.cfg.Hub, addr); err != nil {
			logrus.WithError(err).Warn("deregister hub failed")
		}
	}
	if httpServer != nil {
		// Hijacked websocket connections are not tracked by http.Server.
		if err := httpServer.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("http shutdown incomplete")
		}
	}

	for _, c := range s.Connections() {
		_ = c.CloseWith("server shutting down", true)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for connections to finish")
	}
}
