// Package server exposes the scheduled report API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/archive"
	"github.com/ticketdesk/reportd/internal/auth"
	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/database"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/metrics"
	"github.com/ticketdesk/reportd/internal/realtime"
	"github.com/ticketdesk/reportd/internal/scheduler"
)

const statsInterval = 15 * time.Second

type Server struct {
	cfg        *config.Config
	db         *database.DB
	scheduler  *scheduler.Scheduler
	executions *executions.Store
	broker     *realtime.Broker
	archive    *archive.Archive
	verifier   *auth.Verifier
	limiter    *RateLimiter
	version    string
	httpServer *http.Server
	router     *Router

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithBroker publishes execution events to websocket subscribers.
func WithBroker(b *realtime.Broker) Option {
	return func(s *Server) {
		s.broker = b
	}
}

// WithArchive serves archived report bodies.
func WithArchive(a *archive.Archive) Option {
	return func(s *Server) {
		s.archive = a
	}
}

func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

func New(cfg *config.Config, db *database.DB, sched *scheduler.Scheduler, execs *executions.Store, opts ...Option) (*Server, error) {
	srv := &Server{
		cfg:        cfg,
		db:         db,
		scheduler:  sched,
		executions: execs,
		version:    "dev",
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if cfg.Auth.Enabled {
		srv.verifier = auth.NewVerifier(cfg.Auth)
	}

	if cfg.Server.RateLimit.Enabled {
		srv.limiter = NewRateLimiter(cfg.Server.RateLimit)
	}

	router, err := NewRouter(srv)
	if err != nil {
		if srv.limiter != nil {
			srv.limiter.Stop()
		}
		return nil, fmt.Errorf("building router: %w", err)
	}
	srv.router = router

	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv, nil
}

// Start serves HTTP until Shutdown is called. Request contexts derive
// from ctx.
func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Msg("Starting server")

	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	if s.cfg.Metrics.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.collectStats()
		}()
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	if s.broker != nil {
		s.broker.Stop()
		log.Info().Msg("Realtime broker stopped")
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) collectStats() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		s.updateGauges()
		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) updateGauges() {
	stats := s.db.Stats()
	metrics.UpdateDBStats(stats.OpenConnections, stats.InUse)
	if s.broker != nil {
		metrics.UpdateRealtimeConnections(s.broker.ClientCount())
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) DB() *database.DB {
	return s.db
}

func (s *Server) Config() *config.Config {
	return s.cfg
}

func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

func (s *Server) Broker() *realtime.Broker {
	return s.broker
}
