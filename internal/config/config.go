package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	GeminiAPIKey string
	GeminiModel  string
	NLUTimeout   time.Duration

	SessionTTL time.Duration

	BonusRate          float64
	ExpectedPayee      string
	PaymentWindowHours int
	MinDeposit         int64
	MaxDeposit         int64
}

func Load() (*Config, error) {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		DBSource:           os.Getenv("DB_SOURCE"),
		Port:               getEnv("SERVER_PORT", "8080"),
		Env:                getEnv("ENVIRONMENT", "development"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ExpectedPayee:      getEnv("EXPECTED_PAYEE", "devtalele0@okhdfcbank"),
		PaymentWindowHours: getEnvInt("PAYMENT_WINDOW_HOURS", 24),
		MinDeposit:         int64(getEnvInt("MIN_DEPOSIT", 50)),
		MaxDeposit:         int64(getEnvInt("MAX_DEPOSIT", 50000)),
	}

	var err error
	if cfg.NLUTimeout, err = getEnvDuration("NLU_TIMEOUT", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BonusRate, err = getEnvFloat("BONUS_RATE", 0.10); err != nil {
		return nil, err
	}
	if cfg.BonusRate < 0 || cfg.BonusRate > 1 {
		return nil, fmt.Errorf("BONUS_RATE must be within [0,1], got %v", cfg.BonusRate)
	}
	if cfg.MinDeposit <= 0 || cfg.MaxDeposit < cfg.MinDeposit {
		return nil, fmt.Errorf("invalid deposit limits: min=%d max=%d", cfg.MinDeposit, cfg.MaxDeposit)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
