// Package server accepts DICOM connections on one or more bindings and runs a
// session per connection.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/metrics"
	"github.com/caio-sobreiro/dicomscp/session"
)

const defaultPollInterval = 250 * time.Millisecond

var (
	// ErrRunning is returned when bindings change while the server runs.
	ErrRunning = errors.New("server: already running")

	// ErrNoBindings is returned by Start when no binding could be opened.
	ErrNoBindings = errors.New("server: no binding could be started")
)

// HandlerFactory builds the service handler of a new connection. Returning
// nil refuses the connection.
type HandlerFactory func(conn net.Conn, kind session.Kind) session.Handler

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server and its sessions.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records server and session metrics through h.
func WithMetrics(h metrics.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithSessionConfig sets the configuration of every session.
func WithSessionConfig(cfg session.Config) Option {
	return func(s *Server) {
		s.sessionConfig = cfg
	}
}

// WithTLSConfig sets the configuration used by TLS bindings.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// WithHost restricts the bindings to one interface.
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithPollInterval sets how long Accept blocks before closed sessions are
// reaped and shutdown is checked.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// WithAcceptRate limits new connections per second on each binding.
func WithAcceptRate(perSecond int) Option {
	return func(s *Server) {
		s.acceptRate = perSecond
	}
}

// WithClientCreated registers a callback run for each new session before it
// starts.
func WithClientCreated(fn func(*session.Session, session.Kind)) Option {
	return func(s *Server) {
		s.onCreated = fn
	}
}

// WithClientClosed registers a callback run once for each closed session.
func WithClientClosed(fn func(*session.Session)) Option {
	return func(s *Server) {
		s.onClosed = fn
	}
}

type binding struct {
	port int
	kind session.Kind
}

// Server owns the listeners and the sessions they produce.
type Server struct {
	factory       HandlerFactory
	logger        *zap.Logger
	metrics       metrics.Handler
	sessionConfig session.Config
	tlsConfig     *tls.Config
	host          string
	pollInterval  time.Duration
	acceptRate    int
	onCreated     func(*session.Session, session.Kind)
	onClosed      func(*session.Session)

	mu        sync.Mutex
	bindings  []binding
	listeners []*session.Listener
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	sessions  sync.WaitGroup

	clients atomic.Int64
	gauge   metrics.Int64Gauge
}

// New builds a Server. Bindings are added with AddBinding.
func New(factory HandlerFactory, opts ...Option) *Server {
	srv := &Server{
		factory:       factory,
		sessionConfig: session.DefaultConfig(),
		pollInterval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.logger == nil {
		srv.logger = zap.NewNop()
	}
	srv.metrics = metrics.OrNoop(srv.metrics)
	srv.gauge = srv.metrics.Int64Gauge("dicom_clients", "Open client sessions", metrics.Dimensionless)
	return srv
}

// AddBinding registers a port to listen on. Port 0 picks a free port.
func (s *Server) AddBinding(port int, kind session.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.bindings = append(s.bindings, binding{port: port, kind: kind})
	return nil
}

// ClearBindings removes every binding.
func (s *Server) ClearBindings() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.bindings = nil
	return nil
}

// ClientCount returns the number of open sessions.
func (s *Server) ClientCount() int {
	return int(s.clients.Load())
}

// Addrs returns the addresses of the open listeners.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Start opens every binding and serves them in the background. A binding
// that fails to open is logged and skipped; Start fails only when none
// could be opened.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	for _, b := range s.bindings {
		addr := net.JoinHostPort(s.host, strconv.Itoa(b.port))
		l, err := session.Listen(ctx, addr, b.kind, s.tlsConfig)
		if err != nil {
			s.logger.Error("server_bind_failed", zap.String("addr", addr), zap.Stringer("kind", b.kind), zap.Error(err))
			continue
		}
		s.logger.Info("server_listening", zap.Stringer("addr", l.Addr()), zap.Stringer("kind", b.kind))
		s.listeners = append(s.listeners, l)
	}
	if len(s.bindings) > 0 && len(s.listeners) == 0 {
		return oops.In("server").With("bindings", len(s.bindings)).Wrapf(ErrNoBindings, "failed to start")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, l := range s.listeners {
		group.Go(func() error {
			return s.acceptLoop(groupCtx, l)
		})
	}
	s.cancel = cancel
	s.group = group
	s.running = true
	return nil
}

// Stop closes the listeners, closes every session and waits for them.
// Calling Stop more than once, or without Start, is safe.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	for _, l := range s.listeners {
		_ = l.Close()
	}
	group := s.group
	s.mu.Unlock()

	err := group.Wait()
	s.sessions.Wait()

	s.mu.Lock()
	s.listeners = nil
	s.running = false
	s.mu.Unlock()
	s.clients.Store(0)
	s.gauge.Observe(context.Background(), 0, nil)
	s.logger.Info("server_stopped")
	return err
}

// ListenAndServe serves port until ctx is done.
func ListenAndServe(ctx context.Context, port int, kind session.Kind, factory HandlerFactory, opts ...Option) error {
	srv := New(factory, opts...)
	if err := srv.AddBinding(port, kind); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return srv.Stop()
}

func (s *Server) limiter() ratelimit.Limiter {
	if s.acceptRate > 0 {
		return ratelimit.New(s.acceptRate)
	}
	return ratelimit.NewUnlimited()
}

func (s *Server) acceptLoop(ctx context.Context, l *session.Listener) error {
	limiter := s.limiter()
	var active []*session.Session
	defer func() {
		for _, sess := range active {
			_ = sess.Close()
			<-sess.Done()
			s.closed(sess)
		}
	}()

	for {
		active = s.reap(active)
		if ctx.Err() != nil {
			return nil
		}

		conn, err := l.Accept(s.pollInterval)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if dicomerr.IsTimeout(err) {
				continue
			}
			s.logger.Warn("server_accept_failed", zap.Stringer("addr", l.Addr()), zap.Error(err))
			continue
		}
		limiter.Take()

		if sess := s.serve(ctx, conn, l.Kind()); sess != nil {
			active = append(active, sess)
		}
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn, kind session.Kind) *session.Session {
	handler := s.factory(conn, kind)
	if handler == nil {
		s.logger.Info("server_connection_refused", zap.Stringer("remote_addr", conn.RemoteAddr()))
		_ = conn.Close()
		return nil
	}

	sess := session.New(conn, kind, handler,
		session.WithConfig(s.sessionConfig),
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	)
	if s.onCreated != nil {
		s.onCreated(sess, kind)
	}
	s.gauge.Observe(ctx, s.clients.Add(1), nil)

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		if err := sess.Run(ctx); err != nil {
			sess.Logger().Debug("session_ended", zap.Error(err))
		}
	}()
	return sess
}

// reap drops closed sessions from active.
func (s *Server) reap(active []*session.Session) []*session.Session {
	open := active[:0]
	for _, sess := range active {
		if sess.IsClosed() {
			s.closed(sess)
			continue
		}
		open = append(open, sess)
	}
	clear(active[len(open):])
	return open
}

func (s *Server) closed(sess *session.Session) {
	if s.onClosed != nil {
		s.onClosed(sess)
	}
	s.gauge.Observe(context.Background(), s.clients.Add(-1), nil)
}
