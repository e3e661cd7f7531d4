package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/pkg/logger"
	"github.com/aionloyalty/aion/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080/verify-tap", "tap endpoint the manifest URLs point at")
	upload := flag.Bool("upload", false, "upload the URL manifest to MinIO")
	sunUID := flag.String("sun-uid", "", "mint a signed prod URL for this 7-byte tag UID (hex)")
	sunCounter := flag.Uint("sun-counter", 1, "counter for -sun-uid")
	purge := flag.Bool("purge-expired", false, "delete expired, unclaimed pending rewards")
	revoke := flag.String("revoke", "", "revoke the device with this UID and exit")
	flag.Parse()

	// Load config
	cfg := config.Load()
	log := logger.New(cfg.App.Env, "aion-seeder")
	defer func() { _ = log.Sync() }()
	if !cfg.DotEnvLoaded {
		log.Info("no .env file found, reading from environment variables")
	}

	ctx := context.Background()

	if *sunUID != "" {
		signed, err := signedURL(*baseURL, cfg.Tap.MasterKeyHex, *sunUID, uint32(*sunCounter))
		if err != nil {
			log.Fatal("failed to sign tap URL", zap.Error(err))
		}
		fmt.Println(signed)
		return
	}

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	log.Info("connected to database")

	if *purge {
		removed, err := repository.NewPendingRewardRepository(db).CleanupExpired(ctx, time.Now().UTC())
		if err != nil {
			log.Fatal("failed to purge pending rewards", zap.Error(err))
		}
		log.Info("purged expired pending rewards", zap.Int64("removed", removed))
		return
	}

	if *revoke != "" {
		revoked, err := revokeDevice(ctx, repository.NewDeviceRepository(db), *revoke)
		if err != nil {
			log.Fatal("failed to revoke device", zap.Error(err))
		}
		if !revoked {
			log.Info("device already inactive", zap.String("uid", *revoke))
			return
		}
		log.Info("revoked device", zap.String("uid", *revoke))
		return
	}

	created, err := seedDevices(ctx, repository.NewDeviceRepository(db), testDevices)
	if err != nil {
		log.Fatal("failed to seed devices", zap.Error(err))
	}
	log.Info("seeded test devices", zap.Int("created", created), zap.Int("total", len(testDevices)))

	seedDemoUser(ctx, repository.NewUserRepository(db), log)

	manifest := buildManifest(*baseURL, testDevices, time.Now().UTC())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		log.Fatal("failed to write manifest", zap.Error(err))
	}

	if *upload {
		store, err := storage.NewMinIO(ctx, storage.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			PublicURL: cfg.MinIO.PublicURL,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			log.Fatal("MinIO not available", zap.Error(err))
		}
		object := fmt.Sprintf("manifests/test-devices-%s.json", manifest.GeneratedAt.Format("20060102T150405Z"))
		result, err := store.PutJSON(ctx, object, manifest)
		if err != nil {
			log.Fatal("failed to upload manifest", zap.Error(err))
		}
		log.Info("uploaded manifest", zap.String("key", result.Key), zap.String("url", result.URL))
	}

	log.Warn("dev mode URLs are static and reusable; only hand them to trusted staff")
}

func seedDemoUser(ctx context.Context, repo *repository.UserRepository, log *zap.Logger) {
	const (
		email    = "demo@aion.local"
		password = "password123"
	)

	if _, err := repo.FindByEmail(ctx, email); err == nil {
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error("failed to look up demo user", zap.Error(err))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to hash password", zap.Error(err))
		return
	}

	user := &model.User{
		Name:         "Demo Diner",
		Email:        email,
		Password:     string(hashedPassword),
		AuthProvider: model.AuthProviderEmail,
	}
	if err := repo.Create(ctx, user); err != nil {
		log.Error("failed to create demo user", zap.Error(err))
		return
	}
	log.Info("created demo user", zap.String("email", email))
}
