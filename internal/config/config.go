// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	Port      int
	DevMode   bool
	LogLevel  string
	LogPretty bool

	// Agent runtime
	PollInterval      time.Duration // Bus poll cadence for every agent loop
	HeartbeatInterval time.Duration
	BriefingInterval  time.Duration

	// Decision engine
	AutoDecisions          bool
	DecisionInterval       time.Duration
	AutoTierUsd            float64
	NotifyTierUsd          float64
	ApprovalExpiry         time.Duration
	CriticalBypassApproval bool
	MaxDecisionsPerCycle   int
	DryRun                 bool

	// Hedging
	HedgeEnabled            bool
	HedgeTargetRatio        float64
	HedgeMinExposureUsd     float64
	HedgeRebalanceThreshold float64
	HlStopLossPct           float64
	HlLiquidationWarningPct float64

	// Staking
	StakeEnabled   bool
	StakeReserve   float64 // SOL kept liquid for fees and exits
	StakeMinAmount float64
	StakeMaxAmount float64

	// Prediction markets
	PolyEnabled        bool
	PolyMaxPositionUsd float64
	PolyMinEdge        float64

	// Lending / collateral loops
	LendEnabled      bool
	LoopMinSpreadPct float64
	LoopMaxLtv       float64

	// Concentrated liquidity
	LpEnabled        bool
	LpMaxPositionUsd float64

	// Flash arbitrage
	ArbEnabled      bool
	ArbMinProfitUsd float64

	// Per-strategy cooldowns
	HedgeCooldown   time.Duration
	StakeCooldown   time.Duration
	CloseCooldown   time.Duration
	BetCooldown     time.Duration
	LoopCooldown    time.Duration
	LpCooldown      time.Duration
	ArbCooldown     time.Duration
	DryRunCooldown  time.Duration
	MaxXPostHistory int

	// Retention
	AuditRetentionDays int

	// Audit backups (S3-compatible object storage)
	BackupEnabled       bool
	BackupBucket        string
	BackupEndpoint      string
	BackupAccessKeyID   string
	BackupSecretKey     string
	BackupPrefix        string
	BackupRetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("NOVA_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Port:      getEnvAsInt("PORT", 8090),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		PollInterval:      time.Duration(getEnvAsInt("POLL_INTERVAL_MS", 5000)) * time.Millisecond,
		HeartbeatInterval: time.Duration(getEnvAsInt("HEARTBEAT_INTERVAL_SEC", 30)) * time.Second,
		BriefingInterval:  getEnvAsDuration("BRIEFING_INTERVAL", 4*time.Hour),

		AutoDecisions:          getEnvAsBool("AUTO_DECISIONS", false),
		DecisionInterval:       time.Duration(getEnvAsInt("DECISION_INTERVAL_MIN", 30)) * time.Minute,
		AutoTierUsd:            getEnvAsFloat("AUTO_TIER_USD", 50),
		NotifyTierUsd:          getEnvAsFloat("NOTIFY_TIER_USD", 200),
		ApprovalExpiry:         time.Duration(getEnvAsInt("APPROVAL_EXPIRY_MIN", 15)) * time.Minute,
		CriticalBypassApproval: getEnvAsBool("CRITICAL_BYPASS_APPROVAL", true),
		MaxDecisionsPerCycle:   getEnvAsInt("MAX_DECISIONS_PER_CYCLE", 3),
		DryRun:                 getEnvAsBool("DRY_RUN", true),

		HedgeEnabled:            getEnvAsBool("ENABLE_HEDGING", false),
		HedgeTargetRatio:        getEnvAsFloat("HEDGE_TARGET_RATIO", 0.50),
		HedgeMinExposureUsd:     getEnvAsFloat("HEDGE_MIN_EXPOSURE_USD", 50),
		HedgeRebalanceThreshold: getEnvAsFloat("HEDGE_REBALANCE_THRESHOLD", 0.15),
		HlStopLossPct:           getEnvAsFloat("HL_STOP_LOSS_PCT", 25),
		HlLiquidationWarningPct: getEnvAsFloat("HL_LIQUIDATION_WARNING_PCT", 15),

		StakeEnabled:   getEnvAsBool("ENABLE_STAKING", false),
		StakeReserve:   getEnvAsFloat("STAKE_RESERVE", 2.0),
		StakeMinAmount: getEnvAsFloat("STAKE_MIN_AMOUNT", 0.5),
		StakeMaxAmount: getEnvAsFloat("STAKE_MAX_AMOUNT", 100),

		PolyEnabled:        getEnvAsBool("ENABLE_PREDICTIONS", false),
		PolyMaxPositionUsd: getEnvAsFloat("POLY_MAX_POSITION_USD", 100),
		PolyMinEdge:        getEnvAsFloat("POLY_MIN_EDGE", 0.05),

		LendEnabled:      getEnvAsBool("ENABLE_LENDING", false),
		LoopMinSpreadPct: getEnvAsFloat("LOOP_MIN_SPREAD_PCT", 2.0),
		LoopMaxLtv:       getEnvAsFloat("LOOP_MAX_LTV", 0.65),

		LpEnabled:        getEnvAsBool("ENABLE_LP", false),
		LpMaxPositionUsd: getEnvAsFloat("LP_MAX_POSITION_USD", 500),

		ArbEnabled:      getEnvAsBool("ENABLE_ARB", false),
		ArbMinProfitUsd: getEnvAsFloat("ARB_MIN_PROFIT_USD", 5),

		HedgeCooldown:   getEnvAsHours("COOLDOWN_HEDGE_HOURS", 4),
		StakeCooldown:   getEnvAsHours("COOLDOWN_STAKE_HOURS", 6),
		CloseCooldown:   getEnvAsHours("COOLDOWN_CLOSE_HOURS", 1),
		BetCooldown:     getEnvAsHours("COOLDOWN_BET_HOURS", 6),
		LoopCooldown:    getEnvAsHours("COOLDOWN_LOOP_HOURS", 24),
		LpCooldown:      getEnvAsHours("COOLDOWN_LP_HOURS", 12),
		ArbCooldown:     getEnvAsHours("COOLDOWN_ARB_HOURS", 1),
		DryRunCooldown:  getEnvAsHours("COOLDOWN_DRY_RUN_HOURS", 2),
		MaxXPostHistory: getEnvAsInt("MAX_X_POST_HISTORY", 20),

		AuditRetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 7),

		BackupEnabled:       getEnvAsBool("BACKUP_ENABLED", false),
		BackupBucket:        getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:      getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKeyID:   getEnv("BACKUP_ACCESS_KEY_ID", ""),
		BackupSecretKey:     getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		BackupPrefix:        getEnv("BACKUP_PREFIX", "novaos"),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.AuditRetentionDays < 7 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be at least 7, got %d", c.AuditRetentionDays)
	}
	if c.AutoTierUsd > c.NotifyTierUsd {
		return fmt.Errorf("AUTO_TIER_USD (%.2f) must not exceed NOTIFY_TIER_USD (%.2f)", c.AutoTierUsd, c.NotifyTierUsd)
	}
	if c.BackupEnabled && c.BackupBucket == "" {
		return fmt.Errorf("BACKUP_BUCKET is required when BACKUP_ENABLED is set")
	}
	return nil
}

// RuntimeOverrides reads operator-toggled settings from a key/value store.
// Store values take precedence over environment variables so that admin
// commands survive restarts.
type RuntimeOverrides interface {
	GetBool(key string) (*bool, error)
}

// UpdateFromState applies persisted runtime overrides to the configuration.
// This should be called after the swarm database is initialized.
func (c *Config) UpdateFromState(store RuntimeOverrides) error {
	dryRun, err := store.GetBool("config.dry_run")
	if err != nil {
		return fmt.Errorf("failed to get config.dry_run override: %w", err)
	}
	if dryRun != nil {
		c.DryRun = *dryRun
	}

	auto, err := store.GetBool("config.auto_decisions")
	if err != nil {
		return fmt.Errorf("failed to get config.auto_decisions override: %w", err)
	}
	if auto != nil {
		c.AutoDecisions = *auto
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration parses values like "4h" or "90m".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsHours reads a whole-hours value, matching the cooldown knobs.
func getEnvAsHours(key string, defaultHours int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultHours)) * time.Hour
}
