// Package dashboard serves the REST API behind the web dashboard.
//
// Every mutation is written through the store first and then published on
// the bot_commands channel so a running bot applies it to its in-memory
// state.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
	"github.com/yumisugoi/yumi/internal/yumi/store"
)

// Config holds the HTTP settings.
type Config struct {
	Addr        string
	Token       string
	CORSOrigins []string
}

// Validate reports the first missing required value.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("DASHBOARD_ADDR is required")
	}
	if c.Token == "" {
		return errors.New("DASHBOARD_TOKEN is required")
	}
	return nil
}

// StatusSource reads the bot heartbeat.
type StatusSource interface {
	Status(ctx context.Context) (events.Status, bool, error)
}

// Deps are the collaborators of the API. Status and Notifier may be nil.
type Deps struct {
	Store    *store.Store
	Composer *persona.Composer
	Catalog  *persona.Catalog
	Status   StatusSource
	Notifier events.Notifier
	Logger   *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Server.
func New(cfg Config, deps Deps) *Server {
	if deps.Notifier == nil {
		deps.Notifier = events.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{cfg: cfg, deps: deps, logger: deps.Logger, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.Token))

		r.Get("/personas", s.handleListPersonas)
		r.Post("/personas", s.handleCreatePersona)
		r.Get("/personas/{name}", s.handleGetPersona)
		r.Put("/personas/{name}", s.handleUpdatePersona)
		r.Delete("/personas/{name}", s.handleDeletePersona)

		r.Put("/persona", s.handleGlobalPersona)
		r.Put("/maintenance", s.handleMaintenance)
		r.Put("/servers/{guildID}/persona", s.handleServerPersona)
		r.Put("/servers/{guildID}/channels/{channelID}/lock", s.handleChannelLock)

		r.Get("/users", s.handleListUsers)
		r.Get("/users/{userID}/facts", s.handleUserFacts)
		r.Delete("/users/{userID}/facts", s.handleDeleteUserFacts)
		r.Delete("/users/{userID}/memory", s.handleDeleteUserMemory)

		r.Get("/qa", s.handleListQA)
		r.Post("/qa", s.handleCreateQA)
		r.Delete("/qa/{id}", s.handleDeleteQA)
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	return nil
}
