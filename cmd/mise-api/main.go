package main

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

	"github.com/dimitrije/mise-api/internal/authclient"
	"github.com/dimitrije/mise-api/internal/config"
	"github.com/dimitrije/mise-api/internal/database"
	"github.com/dimitrije/mise-api/internal/handlers"
	"github.com/dimitrije/mise-api/internal/identity"
	"github.com/dimitrije/mise-api/internal/logger"
	"github.com/dimitrije/mise-api/internal/metrics"
	authmw "github.com/dimitrije/mise-api/internal/middleware"
	"github.com/dimitrije/mise-api/internal/profiles"
	"github.com/dimitrije/mise-api/internal/session"
	"github.com/dimitrije/mise-api/internal/sse"
	"github.com/dimitrije/mise-api/internal/storage"
	"github.com/m1z23r/drift/pkg/drift"
	"github.com/m1z23r/drift/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			fatal(log, "failed to run migrations", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	authClient := authclient.New(authclient.Config{
		BaseURL:   cfg.Auth.URL,
		AnonKey:   cfg.Auth.AnonKey,
		JWTSecret: cfg.Auth.JWTSecret,
	})

	sourceOpts := session.Options{
		RefreshMargin: cfg.Auth.RefreshMargin,
		Logger:        log,
	}
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal(log, "failed to connect to redis", err)
		}
		store := session.NewRedisStore(rdb, "", cfg.Redis.SessionKey, 0)
		sourceOpts.Store = store
		sourceOpts.Broadcaster = store
	}

	source := session.NewSource(authClient, sourceOpts)
	source.Start()

	reconciler := identity.NewReconciler(source, profiles.NewStore(db), identity.Options{
		BootstrapTimeout: cfg.Auth.BootstrapTimeout,
		ResolveTimeout:   cfg.Auth.ResolveTimeout,
		ResetRedirect:    cfg.Auth.ResetRedirect,
		Logger:           log,
		Metrics:          collector,
	})
	reconciler.Start(ctx)

	hub := sse.NewHub()
	hub.OnClientsChanged = collector.StreamClientsChanged
	go hub.Run(ctx)

	snapshots, unwatch := reconciler.Watch()
	defer unwatch()
	go sse.Forward(ctx, hub, "session", snapshots)

	var avatars handlers.AvatarStorage
	if cfg.StorageEnabled() {
		store, err := storage.NewAvatarStore(cfg.Storage)
		if err != nil {
			fatal(log, "failed to create avatar storage", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			fatal(log, "failed to prepare avatar bucket", err)
		}
		avatars = store
	}

	authHandler := handlers.NewAuthHandler(reconciler)
	profileHandler := handlers.NewProfileHandler(reconciler, avatars)
	sessionHandler := handlers.NewSessionHandler(reconciler, hub)

	limiter := authmw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.OnReject = collector.RateLimitRejected
	limiter.TrustProxy = cfg.RateLimitTrustProxy
	go limiter.Run(ctx)

	app := drift.New()

	if cfg.IsProduction() {
		app.SetMode(drift.ReleaseMode)
	} else {
		app.SetMode(drift.DebugMode)
	}

	app.Use(middleware.Recovery())
	app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       86400,
	}))

	app.Get("/health", func(c *drift.Context) {
		_ = c.JSON(200, map[string]string{"status": "ok"})
	})

	metricsHandler := metrics.Handler(registry)
	app.Get("/metrics", func(c *drift.Context) {
		metricsHandler.ServeHTTP(c.Response, c.Request)
	})

	api := app.Group("/api/v1")
	api.Use(authmw.ServiceKey(cfg.ServiceAPIKey))

	api.Get("/health", func(c *drift.Context) {
		_ = c.JSON(200, map[string]string{"status": "ok"})
	})

	api.Get("/session", sessionHandler.Get)
	api.Get("/session/events", sessionHandler.Events)

	auth := api.Group("/auth")
	auth.Use(limiter.Middleware())
	auth.Use(middleware.BodyParser())
	auth.Post("/sign-in", authHandler.SignIn)
	auth.Post("/sign-up", authHandler.SignUp)
	auth.Post("/sign-out", authHandler.SignOut)
	auth.Post("/reset-password", authHandler.ResetPassword)

	profile := api.Group("")
	profile.Use(middleware.BodyParser())
	profile.Patch("/profile", profileHandler.Update)
	profile.Post("/profile/refresh", profileHandler.Refresh)

	// Raw image bodies, no body parser.
	signedIn := api.Group("")
	signedIn.Use(authmw.RequireUser(reconciler))
	signedIn.Post("/profile/avatar", profileHandler.UploadAvatar)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Ends the hub, which closes open event streams.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}

	reconciler.Close()
	source.Close()
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
