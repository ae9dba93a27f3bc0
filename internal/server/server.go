// Package server wires the broker subsystems into a running service: the hub
// of room actors, the HTTP dispatcher in front of it, and the process
// lifecycle around both.
//
// The Server struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithListenAddr, etc.). When an option is not provided, New creates real
// implementations from the config.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rtcbroker/internal/config"
	"github.com/MrWong99/rtcbroker/internal/observe"
	"github.com/MrWong99/rtcbroker/internal/room"
)

// Version is the broker version reported by /health and the telemetry
// resource.
const Version = "1.0.0"

// reapInterval is how often the hub scans for empty rooms.
const reapInterval = 30 * time.Second

// Server owns the hub, the dispatcher, and the HTTP listener.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	hub        *Hub
	dispatcher *Dispatcher
	stats      *Stats
	httpSrv    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Server)

// WithMetrics injects metric instruments instead of using the global meter
// provider. Tests pair this with a manual reader.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger injects the logger used by all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates a Server by wiring the hub, dispatcher, and HTTP listener from
// cfg. Nothing listens until Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	// ── 1. Accounting + accept policy ────────────────────────────────────
	s.stats = NewStats()
	acceptOpts := AcceptOptions(cfg.Server.AllowedOrigins)

	// ── 2. Hub of room actors ────────────────────────────────────────────
	s.hub = NewHub(Limits(cfg.Broker), s.log, s.metrics, s.stats, acceptOpts)

	// ── 3. Dispatcher ────────────────────────────────────────────────────
	var upgrades *ipLimiter
	if ul := cfg.Server.UpgradeLimit; ul != nil {
		upgrades = newIPLimiter(ul.PerSecond, ul.Burst)
	}
	s.dispatcher = NewDispatcher(s.hub, s.stats, s.log, cfg.Server.AllowedOrigins, upgrades)

	// ── 4. HTTP listener ─────────────────────────────────────────────────
	s.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.dispatcher.Handler(s.metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.closers = append(s.closers, func() error {
		s.hub.Close()
		return nil
	})

	return s, nil
}

// Limits converts the config section into the room actor's limit set.
func Limits(b config.BrokerConfig) room.Limits {
	return room.Limits{
		MaxPeers:         b.MaxPeersPerRoom,
		HeartbeatTimeout: b.HeartbeatTimeout(),
		RateLimitMax:     b.RateLimitMax,
		RateLimitWindow:  b.RateLimitWindow(),
		QueueTTL:         b.QueueTTL(),
		QueueMaxPerPeer:  b.QueueMaxPerPeer,
		MaxFrameBytes:    b.MaxFrameBytes,
	}
}

// AcceptOptions builds the WebSocket accept policy from the configured
// origin list. A "*" entry disables origin verification entirely, matching
// the CORS contract.
func AcceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	for _, o := range allowedOrigins {
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: allowedOrigins}
}

// Handler exposes the dispatcher's routing table, mainly for tests that
// serve the broker from an httptest server instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Hub exposes the room hub, mainly for tests and the config reload hook.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ApplyConfig applies the hot-reloadable parts of a newly loaded config:
// broker limits take effect for rooms created afterwards, origin changes take
// effect immediately. Log level is handled by the caller, which owns the
// slog handler.
func (s *Server) ApplyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.LimitsChanged {
		s.hub.SetLimits(Limits(diff.NewLimits))
		s.log.Info("broker limits reloaded", "limits", fmt.Sprintf("%+v", diff.NewLimits))
	}
	if diff.OriginsChanged {
		s.dispatcher.SetAllowedOrigins(diff.NewOrigins)
		s.hub.SetAcceptOptions(AcceptOptions(diff.NewOrigins))
		s.log.Info("allowed origins reloaded", "origins", diff.NewOrigins)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the hub, the room reaper, and the HTTP listener, then blocks
// until ctx is cancelled or the listener fails. The listener is shut down
// before Run returns; room teardown happens in Shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.hub.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			s.log.Info("listening with TLS", "addr", s.httpSrv.Addr)
			err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			s.log.Info("listening", "addr", s.httpSrv.Addr)
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})

	g.Go(func() error {
		s.hub.RunReaper(gctx, reapInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.stopOnce.Do(func() {
		s.log.Info("shutting down", "closers", len(s.closers))

		for i, closer := range s.closers {
			select {
			case <-ctx.Done():
				s.log.Warn("shutdown deadline exceeded", "remaining", len(s.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				s.log.Warn("closer error", "index", i, "err", err)
			}
		}

		s.log.Info("shutdown complete")
	})
	return shutdownErr
}
