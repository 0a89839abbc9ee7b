package config

// Redis backs the durable release timer, event de-duplication, rate limiting
// and the seat-map cache.  The timer and dedup keys make Redis a hard
// dependency, so unlike the cache path a failed ping is an error here.

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings read from REDIS_* variables.
//   REDIS_ADDR     host:port (REDIS_HOST + REDIS_PORT take precedence)
//   REDIS_PASSWORD optional password
//   REDIS_DB       database number (default 0)
//   REDIS_TLS      enable TLS when "true" or "1"
type RedisConfig struct {
    Addr     string
    Password string
    DB       int
    TLS      bool
}

func LoadRedisConfig() RedisConfig {
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
        addr = host + ":" + port
    }
    return RedisConfig{
        Addr:     addr,
        Password: envStr("REDIS_PASSWORD", ""),
        DB:       envInt("REDIS_DB", 0),
        TLS:      envBool("REDIS_TLS", false),
    }
}

// NewRedisClient connects to Redis and pings it with a short timeout.  The
// client is closed and an error returned when the ping fails.
func NewRedisClient(ctx context.Context, rc RedisConfig) (*redis.Client, error) {
    opts := &redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB}
    if rc.TLS {
        opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(opts)
    pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
    }
    return client, nil
}
