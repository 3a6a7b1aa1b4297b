package config // package config loads application configuration from environment variables

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// HoldTTL is the reservation window a user gets to finish checkout.  It is
// fixed and not read from the environment.
const HoldTTL = 300 * time.Second

// Config holds the core runtime configuration.  Each field corresponds to
// an environment variable; concern-specific settings (rate limits,
// payment providers, brokers) have their own Load* functions.
type Config struct {
	Env               string        // application environment (dev, test, prod)
	Port              string        // HTTP port to listen on
	LogLevel          string        // logrus level name
	DBUser            string        // database username
	DBPass            string        // database password (optional)
	DBHost            string        // database host address
	DBPort            string        // database port number
	DBName            string        // database name
	JWTSecret         string        // secret used to verify access tokens
	InternalAPIKey    string        // shared key for service-to-service calls
	PricingTimeout    time.Duration // upper bound for catalog price lookups
	CatalogURL        string        // catalog service base URL; empty uses the local tables
	SeatEventsChannel string        // Redis pub/sub channel for seat status events
}

// Load reads configuration values from environment variables.  Missing
// required variables terminate the process.
func Load() Config {
	cfg := Config{
		Env:               must("APP_ENV"),
		Port:              must("APP_PORT"),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		DBUser:            must("DB_USER"),
		DBPass:            os.Getenv("DB_PASS"),
		DBHost:            must("DB_HOST"),
		DBPort:            must("DB_PORT"),
		DBName:            must("DB_NAME"),
		JWTSecret:         must("JWT_SECRET"),
		InternalAPIKey:    must("INTERNAL_API_KEY"),
		PricingTimeout:    envDur("PRICING_TIMEOUT", 10*time.Second),
		CatalogURL:        os.Getenv("CATALOG_URL"),
		SeatEventsChannel: envStr("SEAT_EVENTS_CHANNEL", "seat-status"),
	}
	cfg.PricingTimeout = BoundPricingTimeout(HoldTTL, cfg.PricingTimeout)
	return cfg
}

// BoundPricingTimeout keeps the catalog lookup well inside the hold window
// so a slow price call cannot outlive the holds it prices.  Values that are
// unset or not shorter than half the TTL fall back to a quarter of the TTL.
func BoundPricingTimeout(holdTTL, d time.Duration) time.Duration {
	if d <= 0 || d >= holdTTL/2 {
		return holdTTL / 4
	}
	return d
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logrus.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		logrus.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
