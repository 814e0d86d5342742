package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/chronoflow/timetracker/internal/account"
	"github.com/chronoflow/timetracker/internal/api"
	"github.com/chronoflow/timetracker/internal/auth"
	"github.com/chronoflow/timetracker/internal/authz"
	"github.com/chronoflow/timetracker/internal/billing"
	"github.com/chronoflow/timetracker/internal/config"
	"github.com/chronoflow/timetracker/internal/health"
	"github.com/chronoflow/timetracker/internal/idp"
	"github.com/chronoflow/timetracker/internal/logger"
	"github.com/chronoflow/timetracker/internal/metrics"
	appmw "github.com/chronoflow/timetracker/internal/middleware"
	"github.com/chronoflow/timetracker/internal/repository"
	"github.com/chronoflow/timetracker/internal/session"
	"github.com/chronoflow/timetracker/internal/sweeper"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.IdP.Issuer == "" {
		log.Error("IDP_ISSUER environment variable is required")
		os.Exit(1)
	}
	if cfg.IdP.JWKSURL == "" {
		log.Error("IDP_JWKS_URL environment variable is required")
		os.Exit(1)
	}

	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()

	// Separate sqlx connection for the invoice queries.
	sqlxDB, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open sqlx connection", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlxDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Repositories
	sessionRepo := repository.NewSessionRepository(dbPool)
	settingsRepo := repository.NewSecuritySettingsRepository(dbPool)
	historyRepo := repository.NewPasswordHistoryRepository(dbPool)
	clientRepo := repository.NewClientRepository(dbPool)
	projectRepo := repository.NewProjectRepository(dbPool)
	invoiceRepo := repository.NewInvoiceRepo(sqlxDB)

	// Identity provider, key cache, token validation
	idpClient := idp.NewHTTPClient(cfg.IdP.JWKSURL, cfg.IdP.CredentialURL, cfg.IdP.FetchTimeout)
	keyCache := auth.NewKeyCache(idpClient, cfg.Authz.KeyCacheTTL, cfg.Authz.KeyCacheSize, log)
	defer keyCache.Close()
	tokenValidator := auth.NewTokenValidator(keyCache, cfg.IdP.Issuer, log)

	// Session lifecycle and authorization
	lifecycle := session.NewLifecycleManager(sessionRepo, settingsRepo, cfg.Sessions.AbsoluteLifetime,
		cfg.Sweep.BatchSize, cfg.Sweep.BatchDelay, log)
	engine := authz.NewEngine(tokenValidator, lifecycle, cfg.Authz.ForceBootstrap, log)
	authzMiddleware := appmw.NewAuthzMiddleware(engine)

	// Handlers
	sessionHandler := session.NewHandler(lifecycle, log)
	accountService := account.NewService(settingsRepo, historyRepo, lifecycle, idpClient, log)
	accountHandler := account.NewHandler(accountService, log)
	billingHandler := billing.NewHandler(clientRepo, projectRepo, invoiceRepo, log)

	// Credential changes are the most brute-forceable endpoint.
	passwordRateLimiter := appmw.NewRateLimiter(redisClient, 5, time.Minute, "ratelimit:pwchange", log)

	// Maintenance sweep runs in-process alongside the server.
	sweepJob := sweeper.NewJob(lifecycle, historyRepo, cfg.Sweep, log)
	if err := sweepJob.Start(); err != nil {
		log.Error("failed to start maintenance sweep", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sweepJob.Stop()

	dbStats := metrics.NewDBStatsCollector(dbPool, log)
	dbStats.Start(15 * time.Second)
	defer dbStats.Stop()

	healthHandler := health.NewHandler(health.Config{
		DBPool:      dbPool,
		RedisClient: redisClient,
		Sweep:       sweepJob,
		Version:     version,
	})

	loggingMiddleware := appmw.NewLoggingMiddleware(log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(loggingMiddleware.Handler)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.chronoflow.io", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Unauthenticated surface
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Everything under /api/v1 goes through the authorization engine.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authzMiddleware.Authorize)

		session.RegisterRoutes(r, sessionHandler)
		accountHandler.RegisterRoutes(r, passwordRateLimiter.Handler(passwordRateKey))
		billingHandler.RegisterRoutes(r)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("server exited")
}

var version = "dev"

// passwordRateKey buckets change-password attempts by client IP.
func passwordRateKey(r *http.Request) string {
	return "ip:" + api.GetClientIP(r)
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("db", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port))
	return pool, nil
}
