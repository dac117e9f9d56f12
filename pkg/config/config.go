package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the relay.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Optional base64 AES-256 key; when set, broker passwords are
	// encrypted at rest.
	CredentialKey string

	// Terminal agent calls
	AgentTimeout time.Duration

	// Candle fetch for signal evaluation
	CandleCount     int
	CandleTimeframe string

	// Strategy defaults file
	StrategiesPath string

	// Polling / reconciliation
	DefaultPollInterval time.Duration
	ReconInterval       time.Duration

	// Audit log
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/relay.db"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		CredentialKey:       getEnv("CREDENTIAL_KEY", ""),
		AgentTimeout:        time.Duration(getEnvInt("AGENT_TIMEOUT_SECONDS", 10)) * time.Second,
		CandleCount:         getEnvInt("CANDLE_COUNT", 50),
		CandleTimeframe:     getEnv("CANDLE_TIMEFRAME", "M5"),
		StrategiesPath:      getEnv("STRATEGIES_PATH", "./strategies.yaml"),
		DefaultPollInterval: time.Duration(getEnvInt("DEFAULT_POLL_INTERVAL_SECONDS", 60)) * time.Second,
		ReconInterval:       time.Duration(getEnvInt("RECON_INTERVAL_SECONDS", 30)) * time.Second,
		LogPath:             getEnv("LOG_PATH", "./data/relay.log"),
		LogMaxSizeMB:        getEnvInt("LOG_MAX_SIZE_MB", 20),
		LogMaxBackups:       getEnvInt("LOG_MAX_BACKUPS", 5),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
