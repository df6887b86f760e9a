package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port               string
	DatabasePath       string
	LogLevel           string
	MaxUploadSizeBytes int64

	// ReferenceWindow is how many of the most recent reference periods feed
	// a reconciliation run.
	ReferenceWindow int
	// PeriodWindowMonths bounds the vote used to date an invoice batch.
	PeriodWindowMonths int
	// ReferencePeriodWindowMonths bounds the vote used to date a reference
	// export on upload.
	ReferencePeriodWindowMonths int
	// LookupWindow is how many reference periods a tracking lookup searches.
	LookupWindow int

	HomeCountry    string
	SchemaPath     string
	ResultCacheTTL time.Duration

	// SeedDir holds reference exports loaded into an empty library at
	// startup.
	SeedDir string
}

var Cfg *AppConfig

func LoadConfig() *AppConfig {
	if errEnv := godotenv.Load(); errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "33554432")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil || maxUploadSizeBytes <= 0 {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 32MB.", maxUploadSizeBytesStr)
		maxUploadSizeBytes = 32 << 20
	}

	Cfg = &AppConfig{
		Port:                        getEnv("PORT", "8080"),
		DatabasePath:                getEnv("DATABASE_PATH", "reconciler.db"),
		LogLevel:                    getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes:          maxUploadSizeBytes,
		ReferenceWindow:             getEnvAsPositiveInt("REFERENCE_WINDOW", 3),
		PeriodWindowMonths:          getEnvAsPositiveInt("PERIOD_WINDOW_MONTHS", 3),
		ReferencePeriodWindowMonths: getEnvAsPositiveInt("REFERENCE_PERIOD_WINDOW_MONTHS", 2),
		LookupWindow:                getEnvAsPositiveInt("LOOKUP_WINDOW", 6),
		HomeCountry:                 getEnv("HOME_COUNTRY", "FR"),
		SchemaPath:                  getEnv("SCHEMA_PATH", ""),
		ResultCacheTTL:              getEnvAsDuration("RESULT_CACHE_TTL", 15*time.Minute),
		SeedDir:                     getEnv("REFERENCE_SEED_DIR", "testdata/references"),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, ReferenceWindow=%d",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.ReferenceWindow)
	return Cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsPositiveInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil && value > 0 {
		return value
	}
	log.Printf("WARNING: Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("WARNING: Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
