// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for all per-identity ledger stores (always absolute)
	Port             int
	LogLevel         string
	DevMode          bool
	JWTPublicKeyPath string // PEM file with the identity provider's public key
	JWTIssuer        string // Expected "iss" claim, empty disables the check
	JWTAudience      string // Expected "aud" claim, empty disables the check
	JWTKeyID         string // Expected "kid" header, empty disables the check
	ClockSkewSeconds int    // Leeway applied to token expiry checks
	GateIterations   int    // PBKDF2 iteration count for the secret gate
	GateDurationMin  int    // Default gate session duration in minutes
	RelyingPartyID   string // Relying-party id for the platform-credential gate
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check LEDGER_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("LEDGER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8080),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", filepath.Join(absDataDir, "jwt_public.pem")),
		JWTIssuer:        getEnv("JWT_ISSUER", ""),
		JWTAudience:      getEnv("JWT_AUDIENCE", ""),
		JWTKeyID:         getEnv("JWT_KEY_ID", ""),
		ClockSkewSeconds: getEnvAsInt("JWT_CLOCK_SKEW_SECONDS", 30),
		GateIterations:   getEnvAsInt("GATE_KDF_ITERATIONS", 100_000),
		GateDurationMin:  getEnvAsInt("GATE_DURATION_MINUTES", 5),
		RelyingPartyID:   getEnv("GATE_RELYING_PARTY_ID", "localhost"),
	}

	if cfg.GateIterations < 10_000 {
		return nil, fmt.Errorf("GATE_KDF_ITERATIONS too low: %d (minimum 10000)", cfg.GateIterations)
	}
	if cfg.GateDurationMin <= 0 {
		return nil, fmt.Errorf("GATE_DURATION_MINUTES must be positive, got %d", cfg.GateDurationMin)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer
func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvAsBool retrieves an environment variable as a boolean
func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
