package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings for the timebank core. Everything comes
// from the environment with workable defaults for local development.
type Config struct {
	Port      string
	JWTSecret string
	TokenTTL  time.Duration

	// MaxProvisionHours caps provisioned_hours on a single handshake.
	MaxProvisionHours float64
	// StartingHours is credited to every new account so exchanges can
	// begin without an external top-up path.
	StartingHours float64

	// LockoutThreshold consecutive login failures trigger a lockout of
	// LockoutWindow.
	LockoutThreshold int
	LockoutWindow    time.Duration

	// MaxMessageBytes bounds a chat message body.
	MaxMessageBytes int
}

// Load reads .env if present, then the environment.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	return Config{
		Port:              envStr("PORT", "8080"),
		JWTSecret:         envStr("JWT_SECRET", "supersecret"),
		TokenTTL:          envDuration("TOKEN_TTL", 72*time.Hour),
		MaxProvisionHours: envFloat("MAX_PROVISION_HOURS", 24),
		StartingHours:     envFloat("STARTING_HOURS", 5),
		LockoutThreshold:  envInt("LOCKOUT_THRESHOLD", 3),
		LockoutWindow:     envDuration("LOCKOUT_WINDOW", 15*time.Minute),
		MaxMessageBytes:   envInt("MAX_MESSAGE_BYTES", 4096),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
