package server

import (
	"net/http"
	"net/url"
	"slices"

	"github.com/ticketdesk/reportd/internal/auth"
	"github.com/ticketdesk/reportd/internal/metrics"
	"github.com/ticketdesk/reportd/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
	handler     http.Handler
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) (*Router, error) {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	if err := r.setupMiddleware(); err != nil {
		return nil, err
	}
	r.setupRoutes()

	handler := http.Handler(r.mux)
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	r.handler = handler

	return r, nil
}

func (r *Router) setupMiddleware() error {
	cfg := r.server.cfg

	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if cfg.Server.Compression {
		compress, err := CompressionMiddleware()
		if err != nil {
			return err
		}
		r.Use(compress)
	}

	if cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(cfg.Server.CORS))
	}

	if r.server.limiter != nil {
		r.Use(r.server.limiter.Middleware)
	}

	if cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(cfg.Server.MaxBodySize))
	}

	// Innermost, so the mux's matched pattern is visible after ServeHTTP.
	if cfg.Metrics.Enabled {
		r.Use(MetricsMiddleware(cfg.Metrics.Path))
	}

	return nil
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	srv := r.server

	health := handlers.NewHealthHandlers(srv.db, srv.scheduler, srv.broker, srv.version)
	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.HandleFunc("GET /health/live", health.Liveness)
	r.mux.HandleFunc("GET /health/ready", health.Readiness)
	r.mux.HandleFunc("GET /health/stats", r.protect(health.Stats))

	if srv.cfg.Metrics.Enabled {
		r.mux.Handle("GET "+srv.cfg.Metrics.Path, metrics.Handler())
	}

	sh := handlers.NewScheduleHandlers(srv.scheduler)
	r.mux.HandleFunc("GET /scheduled-reports", r.protect(sh.List))
	r.mux.HandleFunc("POST /scheduled-reports", r.protect(sh.Create))
	r.mux.HandleFunc("GET /scheduled-reports/presets", r.protect(sh.Presets))
	r.mux.HandleFunc("GET /scheduled-reports/{id}", r.protect(sh.Get))
	r.mux.HandleFunc("PUT /scheduled-reports/{id}", r.protect(sh.Update))
	r.mux.HandleFunc("DELETE /scheduled-reports/{id}", r.protect(sh.Delete))
	r.mux.HandleFunc("POST /scheduled-reports/{id}/toggle", r.protect(sh.Toggle))
	r.mux.HandleFunc("POST /scheduled-reports/{id}/execute", r.protect(sh.Execute))

	eh := handlers.NewExecutionHandlers(srv.executions, srv.archive)
	r.mux.HandleFunc("GET /scheduled-reports/{id}/executions", r.protect(eh.BySchedule))
	r.mux.HandleFunc("GET /scheduled-reports/executions/recent", r.protect(eh.Recent))
	r.mux.HandleFunc("GET /scheduled-reports/executions/{id}/report", r.protect(eh.Report))

	if srv.cfg.Realtime.Enabled && srv.broker != nil {
		rt := handlers.NewRealtimeHandler(srv.broker, originPatterns(srv.cfg.Server.CORS.AllowedOrigins))
		r.mux.HandleFunc("GET /scheduled-reports/executions/stream", r.protect(rt.HandleWebSocket))
	}
}

// protect requires a valid bearer token when auth is enabled.
func (r *Router) protect(fn handlers.HandlerFunc) http.HandlerFunc {
	if r.server.verifier == nil {
		return http.HandlerFunc(fn)
	}
	return auth.Middleware(r.server.verifier)(http.HandlerFunc(fn)).ServeHTTP
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// originPatterns converts CORS origins to the host patterns the websocket
// handshake checks against.
func originPatterns(origins []string) []string {
	if slices.Contains(origins, "*") {
		return []string{"*"}
	}

	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
