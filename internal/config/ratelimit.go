package config

import "time"

// RateLimitConfig drives the token bucket in front of the hold and payment
// routes.  The bucket lives in Redis so all instances share it; when Redis
// is unreachable each instance falls back to a local limiter sized by
// LocalRPS and LocalBurst.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	LocalRPS       float64
	LocalBurst     int
	Debug          bool
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		LocalRPS:       float64(envInt("RATE_LIMIT_LOCAL_RPS", 100)),
		LocalBurst:     envInt("RATE_LIMIT_LOCAL_BURST", 100),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	return normalizeRateLimit(def)
}

func normalizeRateLimit(def RateLimitConfig) RateLimitConfig {
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	if def.LocalRPS <= 0 {
		def.LocalRPS = 1
	}
	if def.LocalBurst < 1 {
		def.LocalBurst = 1
	}
	return def
}
