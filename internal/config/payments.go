package config

import (
	"os"
	"strconv"
	"time"
)

type PaymentsConfig struct {
	MinTopUp        float64
	MaxTopUp        float64
	DefaultCurrency string
	ReturnURL       string
	CancelURL       string
	EntryExpiry     time.Duration
}

func LoadPaymentsConfig() *PaymentsConfig {
	return &PaymentsConfig{
		MinTopUp:        getEnvAsFloat("PAYMENTS_MIN_TOPUP", 5.00),
		MaxTopUp:        getEnvAsFloat("PAYMENTS_MAX_TOPUP", 1000.00),
		DefaultCurrency: getEnv("PAYMENTS_CURRENCY", "EUR"),
		ReturnURL:       getEnv("PAYMENTS_RETURN_URL", "http://localhost:8080/topup/success"),
		CancelURL:       getEnv("PAYMENTS_CANCEL_URL", "http://localhost:8080/topup/cancel"),
		EntryExpiry:     getEnvAsDuration("PAYMENTS_ENTRY_EXPIRY", 24*time.Hour),
	}
}

type LoopsConfig struct {
	DispatchInterval  time.Duration
	ExpiryInterval    time.Duration
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	ReconcileBatch    int
	ProviderTimeout   time.Duration
}

func LoadLoopsConfig() *LoopsConfig {
	return &LoopsConfig{
		DispatchInterval:  getEnvAsDuration("DISPATCH_INTERVAL", 30*time.Second),
		ExpiryInterval:    getEnvAsDuration("EXPIRY_INTERVAL", 15*time.Minute),
		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", 1*time.Hour),
		ReconcileAfter:    getEnvAsDuration("RECONCILE_AFTER", 30*time.Minute),
		ReconcileBatch:    getEnvAsInt("RECONCILE_BATCH", 20),
		ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 15*time.Second),
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
