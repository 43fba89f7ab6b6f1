// Package api serves the HTTP API, the page shim websocket and the popup
// websocket
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
	"github.com/mentionwatch/mentionwatch/internal/service"
)

// Config configures the API server
type Config struct {
	Addr           string
	AllowedOrigins []string
	RequestTimeout time.Duration
	Scheduler      service.SchedulerConfig
}

// Server provides the HTTP API for the popup, the MCP server and the page
// shims
type Server struct {
	config    Config
	bg        *service.Background
	hub       *messenger.Hub
	resolver  *usecase.IdentityResolver
	extractor *usecase.Extractor
	metrics   *metrics.Metrics
	log       zerolog.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	// page agents live until the server stops
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server
func NewServer(
	config Config,
	bg *service.Background,
	hub *messenger.Hub,
	resolver *usecase.IdentityResolver,
	extractor *usecase.Extractor,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:    config,
		bg:        bg,
		hub:       hub,
		resolver:  resolver,
		extractor: extractor,
		metrics:   m,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 14,
			WriteBufferSize: 1 << 12,
			// the shim runs on app.slack.com and the popup in the extension
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)

		r.Get("/events", s.handleListEvents)
		r.Delete("/events/{id}", s.handleRemoveEvent)
		r.Post("/events/{id}/open", s.handleOpenEvent)

		r.Post("/replies", s.handleSendReply)
		r.Post("/scan", s.handleScan)

		r.Get("/identity", s.handleGetIdentity)
		r.Put("/identity", s.handleSetIdentity)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/pages", s.handleListPages)
	})

	r.Get("/ws/page", s.handlePageSocket)
	r.Get("/ws/popup", s.handlePopupSocket)
	return r
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", s.config.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and detaches every page agent
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
