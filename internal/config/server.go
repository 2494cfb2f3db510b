package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const devJWTSecret = "dev-secret-change-in-production"

var ErrInsecureSecret = errors.New("JWT_SECRET must be set in production environment")

// ServerConfig configures "wht serve". It is read from the environment.
type ServerConfig struct {
	Port           string
	Env            string
	DatabaseDriver string
	DatabaseDSN    string
	JWTSecret      string
	JWTExpiry      time.Duration
	LogFile        string
}

// LoadServer reads the server settings from the environment.
func LoadServer() (ServerConfig, error) {
	cfg := ServerConfig{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "memory"),
		DatabaseDSN:    getEnv("DATABASE_DSN", ""),
		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		JWTExpiry:      24 * time.Hour,
		LogFile:        getEnv("LOG_FILE", ""),
	}

	if v := os.Getenv("JWT_EXPIRY_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return cfg, fmt.Errorf("invalid JWT_EXPIRY_HOURS %q", v)
		}
		cfg.JWTExpiry = time.Duration(hours) * time.Hour
	}

	switch cfg.DatabaseDriver {
	case "memory":
	case "sqlite3":
		if cfg.DatabaseDSN == "" {
			cfg.DatabaseDSN = "wht-server.db"
		}
	case "mysql":
		if cfg.DatabaseDSN == "" {
			cfg.DatabaseDSN = "root:password@tcp(127.0.0.1:3306)/wht?parseTime=true"
		}
	default:
		return cfg, fmt.Errorf("unknown DATABASE_DRIVER %q (want memory, sqlite3 or mysql)", cfg.DatabaseDriver)
	}

	if cfg.Env == "production" && cfg.JWTSecret == devJWTSecret {
		return cfg, ErrInsecureSecret
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
