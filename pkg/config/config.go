package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the runtime parameters resolved from the environment: the
// listen port, the venue identifier, its credentials, and whether the
// engine should talk to the venue's sandbox/testnet instead of production.
type Config struct {
	Port       string
	ExchangeID string
	APIKey     string
	APISecret  string
	IsSandbox  bool
}

// Load resolves Config from the environment, honoring the precedence rule:
// exchange-specific sandbox credentials override exchange-specific
// production credentials, which override generic credentials.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	exchangeID := strings.ToLower(getEnv("EXCHANGE", "binance"))
	venue := strings.ToUpper(exchangeID)

	explicitTestnet := getEnv("IS_TESTNET", "false") == "true"

	sandboxKey := os.Getenv(venue + "_TESTNET_API_KEY")
	sandboxSecret := os.Getenv(venue + "_TESTNET_SECRET_KEY")
	venueKey := os.Getenv(venue + "_API_KEY")
	venueSecret := os.Getenv(venue + "_API_SECRET")
	genericKey := os.Getenv("API_KEY")
	genericSecret := os.Getenv("SECRET_KEY")

	apiKey, apiSecret, isSandbox := genericKey, genericSecret, explicitTestnet
	if venueKey != "" || venueSecret != "" {
		apiKey, apiSecret = venueKey, venueSecret
	}
	if sandboxKey != "" || sandboxSecret != "" {
		apiKey, apiSecret, isSandbox = sandboxKey, sandboxSecret, true
	}

	if apiKey == "" || apiSecret == "" {
		log.Printf("⚠️ no API credentials resolved for exchange %s; gateway initialization will fail until configured", exchangeID)
	}

	return &Config{
		Port:       getEnv("PORT", "3001"),
		ExchangeID: exchangeID,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		IsSandbox:  isSandbox,
	}, nil
}

// Redacted returns a copy of c with credentials masked to their first 4
// characters, safe to log.
func (c Config) Redacted() Config {
	c.APIKey = mask(c.APIKey)
	c.APISecret = mask(c.APISecret)
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return secret + "***"
	}
	return secret[:4] + "***"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
