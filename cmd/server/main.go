package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/handler"
	"github.com/aionloyalty/aion/internal/middleware"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/internal/service"
	"github.com/aionloyalty/aion/migrations"
	"github.com/aionloyalty/aion/pkg/auth"
	"github.com/aionloyalty/aion/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// @title           AION Loyalty API
// @version         1.0
// @description     NFC/QR tap verification and loyalty stamps.

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log := logger.New(cfg.App.Env, "aion-api")
	defer func() { _ = log.Sync() }()
	if !cfg.DotEnvLoaded {
		log.Info("no .env file found, reading from environment variables")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	log.Info("starting AION API server")
	if cfg.Tap.AllowDevMode {
		log.Warn("dev mode taps are enabled: mode=dev skips tag authentication")
	}

	// ==================== Database (PostgreSQL) ====================
	gormLogger := gormlogger.Default.LogMode(gormlogger.Info)
	if cfg.App.Env == "production" {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database handle", zap.Error(err))
	}
	log.Info("connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL(), log); err != nil {
		log.Warn("migration failed, falling back to GORM AutoMigrate", zap.Error(err))
		if err := db.AutoMigrate(
			&model.User{},
			&model.NFCDevice{},
			&model.LoyaltyTransaction{},
			&model.LoyaltyCard{},
			&model.PendingReward{},
			&model.SecurityEvent{},
		); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Taps still work without Redis; bearers are then treated as anonymous.
		log.Warn("redis unavailable", zap.Error(err))
	} else {
		log.Info("connected to Redis")
	}

	// ==================== Initialize Layers ====================
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)
	blacklist := auth.NewRedisBlacklist(rdb)

	// Repositories
	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	cardRepo := repository.NewLoyaltyRepository(db)
	rewardRepo := repository.NewPendingRewardRepository(db)
	eventRepo := repository.NewSecurityEventRepository(db)

	// Services
	validator := service.NewAuthenticityValidator(cfg.Tap)
	if err := validator.Ready(); err != nil {
		log.Warn("prod taps will be refused until a valid NFC_MASTER_KEY is set", zap.Error(err))
	}
	identity := service.NewTokenIdentityResolver(jwtManager, blacklist, cfg.Tap.StoreTimeout, log)
	rewardService := service.NewRewardService(db, deviceRepo, txnRepo, cardRepo, rewardRepo, cfg.Tap, log)
	tapService := service.NewTapService(deviceRepo, eventRepo, validator, identity, rewardService, cfg.Tap, log)
	authService := service.NewAuthService(userRepo, jwtManager, blacklist, rewardService, cfg.Google.ClientID, log)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(log), gin.Recovery())

	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/docs/swagger.json")))

	handler.Routes{
		Tap:    handler.NewTapHandler(tapService, cfg.Tap, cfg.App.PublicURL, log),
		Auth:   handler.NewAuthHandler(authService),
		Reward: handler.NewRewardHandler(rewardService),
		Health: handler.NewHealthHandler("aion-api", map[string]handler.HealthCheck{
			"database": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		RequireAuth: middleware.AuthMiddleware(jwtManager, blacklist),
		CORSOrigins: cfg.CORS.Origins,
	}.Register(router)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()
	log.Info("AION API listening", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return
	}
	log.Info("server exited gracefully")
}
