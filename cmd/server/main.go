package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/jnwheeler44/tentd/internal/api/middleware"
	"github.com/jnwheeler44/tentd/internal/api/routes"
	"github.com/jnwheeler44/tentd/internal/config"
	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/core/notifications"
	"github.com/jnwheeler44/tentd/internal/core/posts"
	"github.com/jnwheeler44/tentd/internal/db/memory"
	"github.com/jnwheeler44/tentd/internal/db/migrations"
	postgresRepo "github.com/jnwheeler44/tentd/internal/db/postgres"
	"github.com/jnwheeler44/tentd/internal/queue"
)

// storage groups the repositories for the selected backend
type storage struct {
	posts         posts.Repository
	subscriptions notifications.SubscriptionRepository
	tokens        access.TokenStore
	close         func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)

	store, err := openStorage(cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.close(); closeErr != nil {
			logger.Error("failed to close storage", "error", closeErr)
		}
	}()

	if cfg.BootstrapAppToken != "" {
		app := access.App(1, []string{access.ScopeReadPosts, access.ScopeWritePosts}, nil)
		if err := store.tokens.Issue(context.Background(), cfg.BootstrapAppToken, app); err != nil {
			logger.Error("failed to issue bootstrap token", "error", err)
			os.Exit(1)
		}
		logger.Info("bootstrap app token issued")
	}

	schemas, err := posts.LoadSchemaDir(cfg.SchemaDir)
	if err != nil {
		logger.Error("failed to load content schemas", "dir", cfg.SchemaDir, "error", err)
		os.Exit(1)
	}
	logger.Info("content schemas loaded", "count", schemas.Len())

	// Delivery workers. Remote transport is out of scope; tasks are logged.
	pool, err := queue.NewPool(queue.NewLogHandler(logger), queue.PoolConfig{
		Workers:       cfg.NotifyWorkers,
		BufferSize:    cfg.NotifyBuffer,
		RatePerSecond: cfg.NotifyRate,
	}, logger)
	if err != nil {
		logger.Error("failed to start notification workers", "error", err)
		os.Exit(1)
	}

	fanout := notifications.NewFanout(store.subscriptions, store.tokens, pool, logger)
	postService := posts.NewPostService(store.posts, fanout, schemas, posts.Config{
		PageSize: posts.PageSize{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize},
	}, logger)
	subscriptionService := notifications.NewService(store.subscriptions, logger)
	credentials := middleware.NewCredentialMiddleware(store.tokens, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPM, 1*time.Minute)
	defer rateLimiter.Stop()
	r.Use(rateLimiter.Middleware)

	routes.RegisterPostRoutes(r, postService, credentials)
	routes.RegisterSubscriptionRoutes(r, subscriptionService, credentials)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("tentd listening", "port", cfg.Port, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	// Drain queued deliveries after no more posts can arrive
	if err := pool.Shutdown(ctx); err != nil {
		logger.Error("notification worker shutdown failed", "error", err, "pending", pool.Pending())
	}
	logger.Info("server stopped")
}

func openStorage(cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			posts:         memory.NewPostRepository(),
			subscriptions: memory.NewSubscriptionRepository(),
			tokens:        memory.NewTokenRepository(),
			close:         func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("connected to database")

	if err := migrations.Up(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("migrations completed successfully")

	return &storage{
		posts:         postgresRepo.NewPostRepository(db),
		subscriptions: postgresRepo.NewSubscriptionRepository(db),
		tokens:        postgresRepo.NewTokenRepository(db),
		close:         db.Close,
	}, nil
}
