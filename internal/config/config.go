// Package config provides configuration management functionality.
//
// Configuration is loaded once from environment variables (and an optional
// .env file) at process startup and handed to internal/di as a single
// immutable value. There is no module-level state here and no settings
// database override layer — every environment variable this process
// reads is enumerated below, in Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the Truth Spine platform.
type Config struct {
	DataDir  string // Base directory for SQLite databases
	DevMode  bool   // Permits stub fallbacks for providers and email delivery
	LogLevel string
	Port     int

	// Provider credentials - absence falls back to secondary provider or stub.
	PrimaryProviderAPIKey   string
	SecondaryProviderAPIKey string
	MacroProviderAPIKey     string

	// SMTP - absence disables email delivery.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	// S3-compatible pack archive - absence disables archival (logged, non-fatal).
	S3Bucket string
	S3Region string

	// Cron schedules
	NightlyCron  string // default "5 0 * * *"
	ReplayCron   string // default "5 * * * *"
	PricingPolicy string
	LedgerPath   string

	// BenchmarkPortfolioID, when set, is the portfolio whose daily return
	// series stands in for the market factor in alpha/beta and factor
	// exposure computation. Empty disables both.
	BenchmarkPortfolioID string

	// RiskFreeSeries names the macro_observations series Sharpe ratio reads
	// its risk-free rate from. Empty falls back to 0.0.
	RiskFreeSeries string
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Load reads configuration from environment variables.
//
// Load order:
//  1. Load .env file if present (godotenv)
//  2. Read environment variables with defaults
//  3. Resolve and create the data directory
//  4. Validate required fields
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                 absDataDir,
		DevMode:                 getEnvAsBool("DEV_MODE", false),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		Port:                    getEnvAsInt("PORT", 8080),
		PrimaryProviderAPIKey:   getEnv("PRIMARY_PROVIDER_API_KEY", ""),
		SecondaryProviderAPIKey: getEnv("SECONDARY_PROVIDER_API_KEY", ""),
		MacroProviderAPIKey:     getEnv("MACRO_PROVIDER_API_KEY", ""),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:                getEnv("SMTP_USER", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:                getEnv("SMTP_FROM", "noreply@truthspine.local"),
		S3Bucket:                getEnv("PACK_ARCHIVE_S3_BUCKET", ""),
		S3Region:                getEnv("PACK_ARCHIVE_S3_REGION", "us-east-1"),
		NightlyCron:             getEnv("NIGHTLY_CRON", "5 0 * * *"),
		ReplayCron:              getEnv("DLQ_REPLAY_CRON", "5 * * * *"),
		PricingPolicy:           getEnv("PRICING_POLICY", "WM4PM_USD"),
		LedgerPath:              getEnv("LEDGER_PATH", "./data/main.ledger"),
		BenchmarkPortfolioID:    getEnv("BENCHMARK_PORTFOLIO_ID", ""),
		RiskFreeSeries:          getEnv("RISK_FREE_SERIES", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

// DBPath returns the SQLite file path for a named database under DataDir.
func (c *Config) DBPath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

// ArchiveEnabled reports whether pack archival to S3 is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// SMTPTimeout is the dial+send timeout used by the email channel.
const SMTPTimeout = 10 * time.Second
