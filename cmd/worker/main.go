// Package main runs the background worker: queued payment confirmations,
// payout statement exports and the periodic reconciliation sweeps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tripnest/backend/config"
	"github.com/tripnest/backend/internal/bookings"
	"github.com/tripnest/backend/internal/inventory"
	"github.com/tripnest/backend/internal/payments"
	"github.com/tripnest/backend/internal/pricing"
	"github.com/tripnest/backend/internal/settlements"
	"github.com/tripnest/backend/internal/store/postgres"
	"github.com/tripnest/backend/internal/worker"
	"github.com/tripnest/backend/pkg/database"
	"github.com/tripnest/backend/pkg/lock"
	"github.com/tripnest/backend/pkg/queue"
	"github.com/tripnest/backend/pkg/redis"
	"github.com/tripnest/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	st := postgres.New(pool)
	// Confirmation never calls the gateway; the sandbox only satisfies the constructor.
	gateway := payments.Gateway(payments.NewSandbox(cfg.Razorpay.SandboxSecret))
	if cfg.Razorpay.Enabled() {
		gateway = payments.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, logger)
	}
	bookingSvc := bookings.NewService(st, gateway, pricing.NewCalculator(cfg.Booking.ProDiscountRate), inventory.NewManager(logger), cfg.Booking.Currency, logger)

	var exporter worker.StatementExporter
	var statements settlements.StatementStore
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Bucket:               cfg.AWS.StatementsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled, statements will not be exported", zap.Error(err))
	} else {
		statements = s3Client
	}
	settlementSvc := settlements.NewService(st, statements, cfg.Settlement.DefaultCommissionRate, logger)
	// Without a bucket there is nothing to export to, so the settlement sweep stays off.
	var planner worker.StatementPlanner
	if statements != nil {
		exporter = settlementSvc
		planner = settlementSvc
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(bookingSvc, exporter, jobQueue, logger)
	sweeper := worker.NewSweeper(bookingSvc, planner, jobQueue, lock.NewLocker(rdb.Client, "lock:sweep:", logger), worker.SweeperConfig{
		ReconcileInterval:  time.Duration(cfg.Worker.ReconcileIntervalSec) * time.Second,
		SettlementInterval: time.Duration(cfg.Worker.SettlementIntervalSec) * time.Second,
		LockTTL:            time.Duration(cfg.Worker.LockTTLSec) * time.Second,
		StatementDedupe:    time.Duration(cfg.Worker.StatementDedupeSec) * time.Second,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 2)
	go func() { processor.Run(workerCtx); done <- struct{}{} }()
	go func() { sweeper.Run(workerCtx); done <- struct{}{} }()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	timeout := time.After(queue.PollTimeout + 5*time.Second)
wait:
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-timeout:
			logger.Warn("worker shutdown timed out")
			break wait
		}
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
