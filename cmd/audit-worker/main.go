package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/doctor-booking/internal/booking"
	"github.com/hackgods/doctor-booking/internal/config"
	"github.com/hackgods/doctor-booking/internal/db"
	"github.com/hackgods/doctor-booking/internal/logger"
)

// audit-worker reports slots left booked by a failed compensation. It only
// reads; reconciling a reported slot is an operator decision.
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

	if cfg.PostgresDSN == "" {
		zl.Fatal("POSTGRES_DSN is required: the audit reads the booking event log")
	}

	zl.Info("audit-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("window", cfg.AuditWindow),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zl.Info("connected to Postgres")

	store := booking.NewHTTPStore(cfg.StoreURL, cfg.StoreTimeout)
	svc := booking.NewService(store, nil, booking.NewPgEventLog(pgPool), zl)

	// Run once at startup
	runOnce(rootCtx, zl, svc, cfg.AuditWindow)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping audit worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, zl, svc, cfg.AuditWindow)
		}
	}
}

func runOnce(ctx context.Context, zl *zap.Logger, svc *booking.Service, window time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	found, err := svc.AuditCompensationFailures(runCtx, start.Add(-window))
	if err != nil {
		zl.Error("audit run error", zap.Error(err))
		return
	}

	for _, inc := range found {
		zl.Warn("slot booked without appointment, manual reconciliation needed",
			zap.Int64("doctor_id", inc.DoctorID),
			zap.String("slot", inc.TimeSlot),
			zap.String("attempt_id", inc.AttemptID.String()),
			zap.Time("failed_at", inc.FailedAt),
		)
	}
	zl.Info("audit run complete", zap.Int("inconsistent_slots", len(found)), zap.Duration("took", time.Since(start)))
}
