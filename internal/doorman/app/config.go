package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer string // Optional: issuer name shown in authenticator apps

	RPID      string   // Required for WebAuthn: relying party ID (domain)
	RPOrigins []string // Required for WebAuthn: allowed origins

	DatabaseFile  string // Optional: path to SQLite database file (default: ./doorman.db)
	PepperFile    string // Optional: path to file containing pepper for password hashing (default: ./pepper)
	SecureCookies bool   // Whether session cookies require HTTPS (default: true outside dev)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	SessionRetention     time.Duration // How long untouched session records survive (default: 30 days)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:               getEnvOrDefault("DOORMAN_ISSUER", "Doorman"),
		RPID:                 getEnvOrDefault("DOORMAN_RP_ID", "localhost"),
		DatabaseFile:         getEnvOrDefault("DOORMAN_DATABASE_FILE", "doorman.db"),
		PepperFile:           getEnvOrDefault("DOORMAN_PEPPER_FILE", "pepper"),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		SessionRetention:     getEnvDurationOrDefault("SESSION_RETENTION", 30*24*time.Hour),
	}

	if origins := os.Getenv("DOORMAN_RP_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.RPOrigins = append(cfg.RPOrigins, origin)
			}
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://" + cfg.RPID + ":" + strconv.Itoa(cfg.Port)}
	}

	// Session cookies go over plain HTTP only in dev.
	cfg.SecureCookies = cfg.Env != "dev"
	if v := os.Getenv("DOORMAN_SECURE_COOKIES"); v != "" {
		cfg.SecureCookies = v == "true" || v == "1"
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
