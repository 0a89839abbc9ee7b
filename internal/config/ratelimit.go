package config

import "time"

// RateLimitConfig configures the token bucket guarding the event ingest
// endpoint.  A bucket holds Capacity tokens and regains RefillTokens every
// RefillInterval; idle buckets expire after TTL.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  Producers post in
// bursts when a payment batch settles, so the default bucket is larger
// than its refill rate.
func LoadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 120),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 2),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
	}.normalized()
}

// normalized clamps values the limiter cannot work with.  A bucket must
// outlive several refill intervals or its state resets between requests.
func (rl RateLimitConfig) normalized() RateLimitConfig {
	rl.Capacity = max(rl.Capacity, 1)
	rl.RefillTokens = max(rl.RefillTokens, 1)
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = time.Second
	}
	rl.TTL = max(rl.TTL, 5*rl.RefillInterval)
	return rl
}
