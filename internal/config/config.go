package config

import (
	"os"
	"strconv"
)

// Config holds all application configuration, read from the environment.
type Config struct {
	Env           string
	Port          string
	DatabaseURL   string
	RedisURL      string
	JWTPrivateKey string // PEM content, not a filename
	JWTIssuer     string
	SentryDSN     string
	AppURL        string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLSMode  string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Env:           getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTPrivateKey: os.Getenv("JWT_PRIVATE_KEY"),
		JWTIssuer:     getEnv("JWT_ISSUER", "https://identity.quorumlabs.dev"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		AppURL:        getEnv("APP_URL", "http://localhost:3000"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPTLSMode:  getEnv("SMTP_TLS_MODE", "starttls"),
	}
}

// IsProduction reports whether the service runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(name, defaultVal string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
