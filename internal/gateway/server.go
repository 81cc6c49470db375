// Package gateway serves the HTTP status surface of a running chanhub
// process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/soyeahso/chanhub/internal/monitor"
	"github.com/soyeahso/chanhub/internal/routing"
	"github.com/soyeahso/chanhub/internal/version"
)

// Server is the chanhub status HTTP server.
type Server struct {
	cfg     config.GatewayConfig
	log     *logging.Logger
	version string

	channels *channel.Registry
	router   *routing.Router
	monitor  *monitor.Monitor

	mu          sync.Mutex
	addr        string
	startedAt   time.Time
	httpServer  *http.Server
	authLimiter *authRateLimiter
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithChannels sets the registry reported by /channels and probed by
// /channels/health.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) {
		s.channels = ch
	}
}

// WithRouter adds dispatch counters to /health.
func WithRouter(r *routing.Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// WithMonitor lets /channels/health?cached=1 answer from the last
// scheduled check.
func WithMonitor(m *monitor.Monitor) ServerOption {
	return func(s *Server) {
		s.monitor = m
	}
}

// New creates a status server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.Sub("gateway"),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Token == "" && s.cfg.Bind != "" && s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("status server is reachable off-host without a token")
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.cfg.Token != "").
		Msg("status server listening")

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.log.Info().Msg("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
