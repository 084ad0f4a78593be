// Package main runs the booking engine HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tripnest/backend/config"
	"github.com/tripnest/backend/internal/auth"
	"github.com/tripnest/backend/internal/bookings"
	"github.com/tripnest/backend/internal/inventory"
	"github.com/tripnest/backend/internal/middleware"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/payments"
	"github.com/tripnest/backend/internal/pricing"
	"github.com/tripnest/backend/internal/refunds"
	"github.com/tripnest/backend/internal/settlements"
	"github.com/tripnest/backend/internal/store/postgres"
	"github.com/tripnest/backend/pkg/database"
	"github.com/tripnest/backend/pkg/queue"
	"github.com/tripnest/backend/pkg/redis"
	"github.com/tripnest/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var statements settlements.StatementStore
	if cfg.AWS.StatementsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.StatementsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			statements = s3Client
		}
	}

	gateway, webhookSecret := newGateway(cfg, logger)
	st := postgres.New(pool)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	inv := inventory.NewManager(logger)

	bookingSvc := bookings.NewService(st, gateway, pricing.NewCalculator(cfg.Booking.ProDiscountRate), inv, cfg.Booking.Currency, logger)
	bookingHandler := bookings.NewHandler(bookingSvc, logger)

	refundSvc := refunds.NewService(st, gateway, inv, logger)
	refundHandler := refunds.NewHandler(refundSvc, logger)

	settlementSvc := settlements.NewService(st, statements, cfg.Settlement.DefaultCommissionRate, logger)
	settlementHandler := settlements.NewHandler(settlementSvc, logger)

	webhookHandler := payments.NewWebhookHandler(webhookSecret, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		dbOK := pool.Ping(hctx) == nil
		redisOK := rdb.Healthy(hctx)
		if !dbOK || !redisOK {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: gin.H{"database": dbOK, "redis": redisOK}, Error: "unhealthy"})
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Webhooks (no JWT; the body signature is verified in the handler)
	router.POST("/webhooks/razorpay", webhookHandler.Razorpay)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Bookings
		api.POST("/bookings", middleware.RequireRole(models.RoleTraveler), bookingHandler.Create)
		api.GET("/bookings/:id", bookingHandler.Get)
		api.GET("/me/bookings", bookingHandler.ListMine)
		api.POST("/bookings/:id/payments/verify", middleware.RequireRole(models.RoleTraveler), bookingHandler.VerifyPayment)
		api.POST("/bookings/:id/balance", middleware.RequireRole(models.RoleTraveler), bookingHandler.RequestBalance)
		api.GET("/batches/:id/bookings", middleware.RequireRole(models.RoleOrganizer, models.RoleVendor, models.RoleAdmin), bookingHandler.ListForBatch)

		// Refunds (the acting party is checked per action)
		api.POST("/bookings/:id/refund", refundHandler.Act)

		// Settlements
		api.GET("/settlements", middleware.RequireRole(models.RoleAdmin), settlementHandler.List)
		api.POST("/settlements/:batchId/payout", middleware.RequireRole(models.RoleAdmin), settlementHandler.MarkPayout)
		api.GET("/settlements/:batchId/statement", middleware.RequireRole(models.RoleOrganizer, models.RoleVendor, models.RoleAdmin), settlementHandler.Statement)
		api.GET("/owner/settlements", middleware.RequireRole(models.RoleOrganizer, models.RoleVendor), settlementHandler.ListMine)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newGateway returns Razorpay when keys are configured and the sandbox
// otherwise, plus the secret webhooks are signed with.
func newGateway(cfg *config.Config, logger *zap.Logger) (payments.Gateway, string) {
	if cfg.Razorpay.Enabled() {
		logger.Info("payment gateway: razorpay")
		return payments.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, logger), cfg.Razorpay.WebhookSecret
	}
	logger.Warn("payment gateway: sandbox (RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET not set)")
	return payments.NewSandbox(cfg.Razorpay.SandboxSecret), cfg.Razorpay.SandboxSecret
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
