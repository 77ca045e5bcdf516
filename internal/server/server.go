// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects storage, services,
// handlers, middleware and routes, and decides:
//   - which URL patterns map to which handler functions
//   - which middleware (auth, role, rate limit) runs on which routes
//   - how the server starts, runs its housekeeping jobs and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// cmd/server builds the things that talk to the outside world (mail sender,
// payment gateway, Redis client) and passes them in Deps. New opens the
// database and builds everything else:
//
//	sqlite.DB → repositories → services → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/inmyopinion/internal/auth"
	"github.com/sakif/inmyopinion/internal/handler"
	"github.com/sakif/inmyopinion/internal/jobs"
	"github.com/sakif/inmyopinion/internal/mail"
	"github.com/sakif/inmyopinion/internal/metrics"
	"github.com/sakif/inmyopinion/internal/middleware"
	"github.com/sakif/inmyopinion/internal/model"
	"github.com/sakif/inmyopinion/internal/payment"
	"github.com/sakif/inmyopinion/internal/ratelimit"
	sqliteRepo "github.com/sakif/inmyopinion/internal/repository/sqlite"
	"github.com/sakif/inmyopinion/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port           int
	DBPath         string
	AllowedOrigins []string
	FrontendURL    string
	AdminEmail     string
	// ContactEmail receives contact form messages.
	ContactEmail    string
	ShutdownTimeout time.Duration
}

// Deps are the collaborators built outside the server.
type Deps struct {
	Tokens    *auth.TokenService
	Passwords *auth.PasswordService
	Mailer    mail.Sender
	Gateway   payment.Gateway
	// Redis shares rate limit counters between instances. Nil keeps them
	// in process memory.
	Redis redis.Scripter
	// Registry receives the server's collectors and backs /metrics. Nil
	// means a fresh registry.
	Registry *prometheus.Registry
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the job scheduler. Start
// closes both on the way out.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	jobs    *jobs.Scheduler
	metrics *metrics.Metrics
}

// limiters holds one limiter per policy.
type limiters struct {
	login, register, contact, newsletter ratelimit.Limiter
}

func newLimiters(client redis.Scripter) limiters {
	build := func(p ratelimit.Policy) ratelimit.Limiter {
		if client != nil {
			return ratelimit.NewRedis(client, p)
		}
		return ratelimit.NewMemory(p)
	}
	return limiters{
		login:      build(ratelimit.Login),
		register:   build(ratelimit.Register),
		contact:    build(ratelimit.Contact),
		newsletter: build(ratelimit.Newsletter),
	}
}

// sweepers returns the limiters that keep windows in memory.
func (l limiters) sweepers() []jobs.Sweeper {
	var out []jobs.Sweeper
	for _, lim := range []ratelimit.Limiter{l.login, l.register, l.contact, l.newsletter} {
		if s, ok := lim.(jobs.Sweeper); ok {
			out = append(out, s)
		}
	}
	return out
}

// New opens the database, builds every service and handler, and registers
// routes and housekeeping jobs. Nothing is listening or running until Start.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Tokens == nil {
		return nil, errors.New("server: a token service is required")
	}
	if deps.Passwords == nil {
		deps.Passwords = auth.NewPasswordService()
	}
	if deps.Mailer == nil {
		deps.Mailer = mail.NewLogSender(logger)
	}
	if deps.Gateway == nil {
		return nil, errors.New("server: a payment gateway is required")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	m := metrics.New(deps.Registry)
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		jobs:    jobs.NewScheduler(logger, m),
		metrics: m,
	}

	if err := s.setup(deps); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// setup builds the dependency graph and the routes.
//
// ROUTE STRUCTURE:
//
//	GET        /api/health
//	POST       /api/auth/register          (3/15m)
//	POST       /api/auth/login             (5/15m)
//	GET, PUT   /api/auth/me                bearer
//	GET, POST  /api/posts/create           bearer
//	GET        /api/posts, /api/posts/{id} optional bearer
//	POST       /api/posts/{id}/like        bearer
//	GET, PUT, DELETE /api/admin/posts      admin
//	GET        /api/author/analytics       bearer, writer
//	GET        /api/payments/status        bearer
//	GET, POST  /api/payments/stripe        POST needs bearer
//	POST       /api/payments/webhook       signature
//	POST       /api/contact                (5/15m)
//	POST, GET  /api/subscribe              POST (3/15m), GET admin
//	GET        /metrics
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns an ID that the logger prints
//  2. RealIP: rewrites RemoteAddr from proxy headers; rate limits key on it
//  3. Metrics and Logger: see the final status, including panics turned 500
//  4. Recoverer: catches panics and returns 500 instead of crashing
//  5. CORS: answers preflight requests before any auth runs
func (s *Server) setup(deps Deps) error {
	users := s.db.Users()
	posts := s.db.Posts()
	subs := s.db.Subscriptions()
	subscribers := s.db.Subscribers()

	authService := service.NewAuthService(users, deps.Tokens, deps.Passwords, deps.Mailer,
		service.AuthConfig{AdminEmail: s.config.AdminEmail, SiteURL: s.config.FrontendURL}, s.logger)
	postService := service.NewPostService(posts, users, subs, deps.Mailer, s.config.FrontendURL, s.logger)
	billingService := service.NewBillingService(subs, users, deps.Gateway, s.config.FrontendURL, s.logger)
	inboxService := service.NewInboxService(subscribers, deps.Mailer, s.config.ContactEmail, s.config.FrontendURL, s.logger)
	analyticsService := service.NewAnalyticsService(posts, s.logger)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	postHandler := handler.NewPostHandler(postService, s.logger)
	adminHandler := handler.NewAdminHandler(postService, s.logger)
	paymentHandler := handler.NewPaymentHandler(billingService, s.metrics, s.logger)
	inboxHandler := handler.NewInboxHandler(inboxService, s.logger)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	authMW := auth.NewMiddleware(deps.Tokens, s.logger)
	adminOnly := authMW.RequireRole(model.RoleAdmin)
	writersOnly := authMW.RequireRole(model.RoleAdmin, model.RolePremiumWriter, model.RoleFreeWriter)

	lim := newLimiters(deps.Redis)
	limit := func(l ratelimit.Limiter, p ratelimit.Policy) func(http.Handler) http.Handler {
		return middleware.RateLimit(l, p, s.metrics, s.logger)
	}

	// === Housekeeping ===
	if err := s.jobs.Add("expire-trials", jobs.ExpireTrialsSpec, jobs.ExpireTrials(billingService, s.metrics)); err != nil {
		return err
	}
	if sw := lim.sweepers(); len(sw) > 0 {
		if err := s.jobs.Add("sweep-rate-limits", jobs.SweepLimitersSpec, jobs.SweepLimiters(s.logger, time.Now, sw...)); err != nil {
			return err
		}
	}

	// === Global Middleware ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Metrics(s.metrics))
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.config.AllowedOrigins))

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	// === API Routes ===
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.With(limit(lim.register, ratelimit.Register)).Post("/register", authHandler.HandleRegister)
			r.With(limit(lim.login, ratelimit.Login)).Post("/login", authHandler.HandleLogin)
			r.Group(func(r chi.Router) {
				r.Use(authMW.RequireAuth)
				r.Get("/me", authHandler.HandleMe)
				r.Put("/me", authHandler.HandleUpdateProfile)
			})
		})

		r.Route("/posts", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authMW.OptionalAuth)
				r.Get("/", postHandler.HandleList)
				r.Get("/{id}", postHandler.HandleGet)
			})
			r.Group(func(r chi.Router) {
				r.Use(authMW.RequireAuth)
				r.Post("/create", postHandler.HandleCreate)
				r.Get("/create", postHandler.HandleList)
				r.Post("/{id}/like", postHandler.HandleLike)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMW.RequireAuth, adminOnly)
			r.Get("/posts", adminHandler.HandleGet)
			r.Put("/posts", adminHandler.HandleModerate)
			r.Delete("/posts", adminHandler.HandleDelete)
		})

		r.With(authMW.RequireAuth, writersOnly).Get("/author/analytics", analyticsHandler.HandleAuthor)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/stripe", paymentHandler.HandlePlans)
			r.Post("/webhook", paymentHandler.HandleWebhook)
			r.Group(func(r chi.Router) {
				r.Use(authMW.RequireAuth)
				r.Get("/status", paymentHandler.HandleStatus)
				r.Post("/stripe", paymentHandler.HandleAction)
			})
		})

		r.With(limit(lim.contact, ratelimit.Contact)).Post("/contact", inboxHandler.HandleContact)
		r.With(limit(lim.newsletter, ratelimit.Newsletter)).Post("/subscribe", inboxHandler.HandleSubscribe)
		r.With(authMW.RequireAuth, adminOnly).Get("/subscribe", inboxHandler.HandleStats)
	})

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start runs the housekeeping jobs and the HTTP server until SIGINT or
// SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (ShutdownTimeout)
//  3. Stop the job scheduler and wait for a running job
//  4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	s.logger.Info("server starting",
		slog.Int("port", s.config.Port),
		slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		slog.String("database", s.config.DBPath),
	)
	return s.run(srv, srv.ListenAndServe, quit)
}

// run starts the jobs, serves until serve fails or a signal arrives on quit,
// and then shuts both down.
func (s *Server) run(srv *http.Server, serve func() error, quit <-chan os.Signal) error {
	serverErrors := make(chan error, 1)

	s.jobs.Start()
	go func() {
		serverErrors <- serve()
	}()

	select {
	case err := <-serverErrors:
		if shutdownErr := s.shutdown(srv); shutdownErr != nil {
			s.logger.Warn("shutdown after server error", slog.String("error", shutdownErr.Error()))
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		if err := s.shutdown(srv); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// shutdown drains HTTP and then the job scheduler. The ShutdownTimeout
// budget starts now, not when the server started.
func (s *Server) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.jobs.Stop(ctx)
	return err
}
