// Package config loads runtime configuration from a .env file (when
// present) and CLUEME_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is everything the binary needs, resolved once at startup.
type Config struct {
	Port string

	// StoreBackend selects the reminder store: sqlite, mongo, or memory.
	StoreBackend string
	DBPath       string
	MongoURI     string
	MongoDB      string

	JWTSecret string

	VAPIDPublicKey  string
	VAPIDPrivateKey string

	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	BackupPassphrase    string
	BackupRetentionDays int
	// BackupSchedule and PruneSchedule are cron expressions.
	BackupSchedule string
	PruneSchedule  string

	LogLevel  string
	LogFormat string
}

// Load reads .env (if any) and the environment. It fails only on values
// that cannot be parsed; missing values fall back to defaults.
func Load() (Config, error) {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := Config{
		Port:             getenv("CLUEME_PORT", "8080"),
		StoreBackend:     getenv("CLUEME_STORE", "sqlite"),
		DBPath:           getenv("CLUEME_DB_PATH", "clueme.db"),
		MongoURI:         getenv("CLUEME_MONGO_URI", ""),
		MongoDB:          getenv("CLUEME_MONGO_DB", "clueme"),
		JWTSecret:        getenv("CLUEME_JWT_SECRET", ""),
		VAPIDPublicKey:   getenv("CLUEME_VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:  getenv("CLUEME_VAPID_PRIVATE_KEY", ""),
		S3Endpoint:       getenv("CLUEME_S3_ENDPOINT", ""),
		S3Bucket:         getenv("CLUEME_S3_BUCKET", ""),
		S3Region:         getenv("CLUEME_S3_REGION", "auto"),
		S3AccessKey:      getenv("CLUEME_S3_ACCESS_KEY", ""),
		S3SecretKey:      getenv("CLUEME_S3_SECRET_KEY", ""),
		BackupPassphrase: getenv("CLUEME_BACKUP_PASSPHRASE", ""),
		BackupSchedule:   getenv("CLUEME_BACKUP_SCHEDULE", "0 3 * * *"),
		PruneSchedule:    getenv("CLUEME_PRUNE_SCHEDULE", "30 3 * * *"),
		LogLevel:         getenv("CLUEME_LOG_LEVEL", "info"),
		LogFormat:        getenv("CLUEME_LOG_FORMAT", "text"),
	}

	switch cfg.StoreBackend {
	case "sqlite", "mongo", "memory":
	default:
		return Config{}, fmt.Errorf("CLUEME_STORE must be sqlite, mongo, or memory, got %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "mongo" && cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("CLUEME_MONGO_URI is required with the mongo backend")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("CLUEME_JWT_SECRET is required")
	}

	retention := getenv("CLUEME_BACKUP_RETENTION_DAYS", "30")
	days, err := strconv.Atoi(retention)
	if err != nil || days < 0 {
		return Config{}, fmt.Errorf("CLUEME_BACKUP_RETENTION_DAYS must be a non-negative integer, got %q", retention)
	}
	cfg.BackupRetentionDays = days

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
