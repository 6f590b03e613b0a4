package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"biliticket/callqueue/internal/config"
	"biliticket/callqueue/internal/handler"
	"biliticket/callqueue/pkg/auth"
	"biliticket/callqueue/pkg/queue"
	"biliticket/callqueue/pkg/store"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Initialize logger
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Background work (Postgres sweeper) stops when this context does.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize shared store
	var st store.Store
	switch cfg.Store.Backend {
	case "redis":
		redisClient, err := config.NewRedisClient(cfg.Store.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		st = store.NewRedisStore(redisClient, cfg.Store.KeyPrefix)
		logger.Info("using Redis store")
	case "postgres":
		db, err := config.NewPostgresDB(cfg.Store.Postgres)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		if cfg.Store.Postgres.AutoMigrate {
			if err := store.AutoMigrate(db); err != nil {
				logger.Fatal("failed to auto-migrate", zap.Error(err))
			}
			logger.Info("database migration completed")
		}
		pg := store.NewPostgresStore(db, cfg.Store.KeyPrefix)
		go runSweeper(ctx, pg, cfg.Store.Postgres.SweepInterval, logger)
		st = pg
		logger.Info("using Postgres store")
	case "memory":
		st = store.NewMemoryStore(cfg.Store.KeyPrefix)
		logger.Warn("using in-memory store: state is neither shared across instances nor durable")
	default:
		logger.Fatal("unknown store backend", zap.String("backend", cfg.Store.Backend))
	}

	// 4. Initialize queue and reconcile persisted counters
	q, err := queue.New(st, queue.Config{Capacity: cfg.Queue.Capacity, TTL: cfg.Queue.TTL})
	if err != nil {
		logger.Fatal("failed to create queue", zap.Error(err))
	}
	initCtx, initCancel := context.WithTimeout(ctx, 5*time.Second)
	err = q.Init(initCtx)
	initCancel()
	if err != nil {
		logger.Fatal("failed to initialize queue state", zap.Error(err))
	}
	logger.Info("queue initialized",
		zap.Int64("capacity", cfg.Queue.Capacity),
		zap.Duration("ttl", cfg.Queue.TTL))

	// 5. Log completion events
	completions, _ := q.Subscribe(64)
	go func() {
		for ev := range completions {
			logger.Info("call completed",
				zap.String("request_id", ev.ID),
				zap.Int("response_bytes", len(ev.Response)))
		}
	}()

	// 6. Initialize service auth if enabled
	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		if cfg.Auth.SigningKey == "" {
			logger.Fatal("auth enabled but auth.signing_key is empty")
		}
		authManager = auth.NewManager(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	}

	// 7. Initialize handlers and router
	queueHandler := handler.NewQueueHandler(q)
	router := handler.SetupRouter(cfg, logger, authManager, queueHandler)

	// 8. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Start server with graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", addr), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 10. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	cancel()
	if err := q.Close(); err != nil {
		logger.Warn("queue close failed", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}

// runSweeper periodically purges expired slot rows. Postgres has no native
// key TTL, so expiry is lazy on read plus this sweep.
func runSweeper(ctx context.Context, pg *store.PostgresStore, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := pg.Sweep(ctx)
			if err != nil {
				logger.Warn("expired slot sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("swept expired slots", zap.Int64("removed", n))
			}
		}
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}
