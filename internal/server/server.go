package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"convenio-service/internal/ratelimit"
	"convenio-service/internal/response"
	"convenio-service/internal/types"
)

const (
	rejectWriteTimeout = time.Second
	maxAcceptBackoff   = time.Second
	defaultSweepEvery  = 2 * time.Minute
)

// ConnHandler owns a connection from the moment it is handed over and must
// close it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

type Config struct {
	Addr      string
	Workers   int
	QueueSize int
}

// Server accepts connections on a single goroutine and hands each one to its
// worker pool.
type Server struct {
	cfg     Config
	handler ConnHandler
	logger  *zap.Logger
	limiter    *ratelimit.Limiter
	sweepEvery time.Duration
	pool       *WorkerPool
	connCtx context.Context

	mu sync.Mutex
	ln net.Listener
}

type Option func(*Server)

// WithRateLimiter rejects clients over their per-IP budget. Idle clients are
// swept every sweepEvery while the server runs; zero picks a default. A nil
// limiter disables limiting.
func WithRateLimiter(l *ratelimit.Limiter, sweepEvery time.Duration) Option {
	return func(s *Server) {
		s.limiter = l
		s.sweepEvery = sweepEvery
		if s.sweepEvery <= 0 {
			s.sweepEvery = defaultSweepEvery
		}
	}
}

func New(cfg Config, handler ConnHandler, logger *zap.Logger, opts ...Option) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, handler: handler, logger: logger, connCtx: context.Background()}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewWorkerPool(cfg.Workers, cfg.QueueSize, s.serveConn)
	return s
}

// ListenAndServe binds cfg.Addr and serves until ctx is done or Shutdown is
// called. A bind failure is returned as is.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. Connections already queued when the loop
// stops are still served before Serve returns. A Server serves only once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	// Handlers outlive ctx so queued connections can finish after a signal.
	s.connCtx = context.WithoutCancel(ctx)
	s.pool.Start()
	defer s.pool.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()
	if s.limiter != nil {
		go s.sweepLimiter(done)
	}

	s.logger.Info("validation server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.pool.Size()),
		zap.Int("queue_size", s.cfg.QueueSize),
	)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.logger.Info("validation server stopped")
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Error("accept connection", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.dispatch(conn)
	}
}

// Addr is the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting. Serve returns once queued connections are done.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) dispatch(conn net.Conn) {
	if !s.limiter.AllowConn(conn.RemoteAddr()) {
		go s.reject(conn, types.ErrRateLimited)
		return
	}
	if !s.pool.Submit(conn) {
		go s.reject(conn, types.ErrServerBusy)
	}
}

// sweepLimiter drops idle rate limit entries until done is closed.
func (s *Server) sweepLimiter(done <-chan struct{}) {
	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.logger.Debug("rate limiter swept", zap.Int("clients", s.limiter.Sweep()))
		}
	}
}

// Pool exposes the worker pool owned by the server.
func (s *Server) Pool() *WorkerPool { return s.pool }

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection handler panicked", zap.Any("panic", r))
			_ = conn.Close()
		}
	}()
	s.handler.ServeConn(s.connCtx, conn)
}

// reject answers with a single Failure line and closes conn.
func (s *Server) reject(conn net.Conn, reason error) {
	defer conn.Close()
	s.logger.Warn("connection rejected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Error(reason),
	)
	out, err := response.Encode(response.FromError(reason))
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	if _, err := conn.Write(out); err != nil {
		s.logger.Debug("write rejection", zap.Error(err))
	}
}
