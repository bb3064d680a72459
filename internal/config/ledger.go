package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type LedgerConfig struct {
	TokenSymbol   string
	TokenDecimals int
	MaxSupply     decimal.Decimal // zero disables the cap
	LockTimeout   time.Duration
	ViewCacheTTL  time.Duration
	QRCodeTimeout time.Duration
	SerialSalt    string
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		TokenSymbol:   getEnv("LEDGER_TOKEN_SYMBOL", "WTK"),
		TokenDecimals: getEnvAsInt("LEDGER_TOKEN_DECIMALS", 18),
		MaxSupply:     getEnvAsDecimal("LEDGER_MAX_SUPPLY", decimal.Zero),
		LockTimeout:   getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 3*time.Second),
		ViewCacheTTL:  getEnvAsDuration("LEDGER_VIEW_CACHE_TTL", 30*time.Second),
		QRCodeTimeout: getEnvAsDuration("LEDGER_QR_TIMEOUT", 5*time.Minute),
		SerialSalt:    getEnv("LEDGER_SERIAL_SALT", "watchtoken-serial-v1"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
