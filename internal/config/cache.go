package config

import (
    "strings"
    "time"
)

// CacheConfig defines settings for the seat-map response cache.  When
// Enabled is false or no Redis client is configured, caching is disabled.
// Methods lists the HTTP methods to cache.  TTL is kept short because seat
// maps change on every hold and release; Prefix namespaces the keys and
// MaxBodyBytes bounds what is stored.
type CacheConfig struct {
    Enabled      bool
    Methods      map[string]bool
    TTL          time.Duration
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables.  Defaults are used when
// variables are not set.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
        TTL:          envDur("CACHE_TTL", 5*time.Second),
        Prefix:       envStr("CACHE_PREFIX", "cache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 256<<10),
    }
}

func parseMethods(s string) map[string]bool {
    m := map[string]bool{}
    for _, p := range splitList(s) {
        m[strings.ToUpper(p)] = true
    }
    return m
}
