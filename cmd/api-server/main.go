package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-booking/internal/api"
	"github.com/hackgods/doctor-booking/internal/booking"
	"github.com/hackgods/doctor-booking/internal/config"
	"github.com/hackgods/doctor-booking/internal/db"
	"github.com/hackgods/doctor-booking/internal/logger"
	redisclient "github.com/hackgods/doctor-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_url", cfg.StoreURL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Redis
	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	// Connect Postgres when an event log is wanted
	var events booking.EventLog = booking.NopEventLog{}
	var pgPool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			zl.Fatal("postgres setup error", zap.Error(err))
		}
		defer pgPool.Close()
		events = booking.NewPgEventLog(pgPool)
		zl.Info("connected to Postgres, booking event log enabled")
	} else {
		zl.Warn("POSTGRES_DSN not set, booking event log disabled")
	}

	store := booking.NewHTTPStore(cfg.StoreURL, cfg.StoreTimeout)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL,
		redisclient.WithWaitTimeout(cfg.LockWait),
		redisclient.WithReleaseMargin(cfg.StoreTimeout),
	)
	svc := booking.NewService(store, locker, events, zl)

	deps := []api.Dependency{
		{Name: "store", Critical: true, Ping: store.Ping},
		{Name: "redis", Critical: true, Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if pgPool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Ping: pgPool.Ping})
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Health:       api.NewHealthHandler(deps, cfg.Env, version),
		Logger:       zl,
		RateLimitRPS: cfg.RateLimitRPS,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			zl.Error("http server error", zap.Error(err))
		}
	}

	zl.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
