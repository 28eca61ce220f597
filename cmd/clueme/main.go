package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/backup"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/config"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/database"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/logging"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/push"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/server"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

// pushRetention is how long delivered and cancelled notification rows stay
// around for dedup and audit before the nightly prune removes them.
const pushRetention = 30 * 24 * time.Hour

func main() {
	genKeys := flag.Bool("generate-vapid-keys", false, "print a fresh VAPID key pair and exit")
	flag.Parse()
	if *genKeys {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			log.Fatalf("generate VAPID keys: %v", err)
		}
		fmt.Printf("CLUEME_VAPID_PUBLIC_KEY=%s\nCLUEME_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// The sqlite db always backs the push registry and backup history, even
	// when reminders live elsewhere.
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var st store.Store
	switch cfg.StoreBackend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoStore, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoStore.Close()
		st = mongoStore
	case "memory":
		st = store.NewMemory()
	default:
		st = store.NewSQLite(db)
	}
	logger.Info("store ready", "backend", cfg.StoreBackend)

	srv := server.New(db, st, server.Config{
		JWTSecret:       cfg.JWTSecret,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  cfg.S3Endpoint,
				Bucket:    cfg.S3Bucket,
				Region:    cfg.S3Region,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
			},
			DBPath:        cfg.DBPath,
			Passphrase:    cfg.BackupPassphrase,
			RetentionDays: cfg.BackupRetentionDays,
		},
	}, logger)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if d := srv.Dispatcher(); d != nil {
		d.Start(ctx)
		defer d.Stop()
	}

	scheduler := cron.New()
	if mgr := srv.BackupManager(); mgr.Enabled() {
		_, err := scheduler.AddFunc(cfg.BackupSchedule, func() {
			if _, err := mgr.Run(ctx); err != nil {
				logger.Error("scheduled backup", "error", err)
				return
			}
			if err := mgr.Cleanup(ctx); err != nil {
				logger.Error("backup retention cleanup", "error", err)
			}
		})
		if err != nil {
			log.Fatalf("invalid backup schedule %q: %v", cfg.BackupSchedule, err)
		}
	}
	if _, err := scheduler.AddFunc(cfg.PruneSchedule, func() {
		n, err := srv.PushStore().PruneFinished(ctx, time.Now().Add(-pushRetention))
		if err != nil {
			logger.Error("prune notification rows", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned notification rows", "count", n)
		}
		srv.RateLimiter().Cleanup()
	}); err != nil {
		log.Fatalf("invalid prune schedule %q: %v", cfg.PruneSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("ClueMe running at http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
