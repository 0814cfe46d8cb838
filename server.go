package stream

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Handler is the interface for handling accepted streams.
// The stream is connected when Handle is called and is disconnected by the
// server once Handle returns.
type Handler interface {
	Handle(ctx context.Context, s *Stream)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(ctx context.Context, s *Stream)

// Handle calls f(ctx, s).
func (f HandlerFunc) Handle(ctx context.Context, s *Stream) {
	f(ctx, s)
}

// Server accepts TCP connections and serves each as a Stream.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	streamOpts      []Option

	mu          sync.Mutex
	shutdown    bool
	active      map[*Stream]struct{}
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server keeps accepting for up to this
// duration before closing the listener and disconnecting active streams.
// Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerStreamOptions sets the options applied to every accepted stream.
func ServerStreamOptions(opt ...Option) ServerOption {
	return func(s *Server) {
		s.streamOpts = append(s.streamOpts, opt...)
	}
}

// Listen creates a new server bound to the specified TCP address.
func Listen(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		active:      make(map[*Stream]struct{}),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and dispatches each stream to the handler in its
// own goroutine. It blocks until the context is canceled or accepting fails,
// then disconnects active streams and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	group, gctx := errgroup.WithContext(ctx)

	go func() {
		<-ctx.Done()

		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Unblock Accept.
		_ = s.listener.SetDeadline(time.Now())
	}()

	err := s.acceptLoop(ctx, group, gctx, handler)

	s.disconnectActive()
	_ = group.Wait()

	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return err
}

func (s *Server) acceptLoop(ctx context.Context, group *errgroup.Group, gctx context.Context, handler Handler) error {
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		_ = conn.SetNoDelay(true)
		st, err := FromConn(conn, s.streamOpts...)
		if err != nil {
			s.logger.Warn("wrap connection failed", "remote_addr", conn.RemoteAddr(), "error", err)
			continue
		}
		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr(), "stream_id", st.ID())

		if !s.track(st) {
			_ = st.Disconnect()
			return ctx.Err()
		}

		group.Go(func() error {
			defer s.untrack(st)
			handler.Handle(gctx, st)
			return nil
		})
	}
}

// track registers an active stream. It fails once shutdown has begun.
func (s *Server) track(st *Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return false
	}
	s.active[st] = struct{}{}
	return true
}

func (s *Server) untrack(st *Stream) {
	s.mu.Lock()
	delete(s.active, st)
	s.mu.Unlock()

	if err := st.Disconnect(); err != nil {
		s.logger.Warn("disconnect failed", "stream_id", st.ID(), "error", err)
	}
}

// disconnectActive disconnects every tracked stream so that handlers blocked
// in Read or Write return.
func (s *Server) disconnectActive() {
	s.mu.Lock()
	s.shutdown = true
	streams := make([]*Stream, 0, len(s.active))
	for st := range s.active {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		_ = st.Disconnect()
	}
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
