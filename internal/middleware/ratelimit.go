package middleware

import (
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/quickshow-booking/internal/config"
)

// tokenBucket refills KEYS[1] by whole intervals, then takes one token.
// It returns {allowed, tokens_left, retry_after_ms}.
var tokenBucket = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'ts')
    local tokens = tonumber(state[1])
    local ts = tonumber(state[2])
    if tokens == nil or ts == nil then
        tokens = capacity
        ts = now_ms
    end

    local steps = math.floor(math.max(0, now_ms - ts) / interval_ms)
    if steps > 0 then
        tokens = math.min(capacity, tokens + steps * refill)
        ts = ts + steps * interval_ms
    end

    local allowed = 0
    local retry_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        retry_ms = math.max(0, interval_ms - (now_ms - ts))
    end

    redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
    redis.call('EXPIRE', key, ttl)
    return { allowed, tokens, retry_ms }
`)

// RateLimit is a Redis token bucket per caller subject, client IP and
// route.  Redis errors fail open so an outage never blocks producers.
func RateLimit(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    now := time.Now
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(cfg.Prefix, c)
            vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
                now().UnixMilli(), cfg.Capacity, cfg.RefillTokens,
                cfg.RefillInterval.Milliseconds(), int64(cfg.TTL/time.Second),
            ).Int64Slice()
            if err != nil || len(vals) != 3 {
                logrus.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
            if vals[0] != 1 {
                secs := int(math.Ceil(float64(vals[2]) / 1000.0))
                h.Set("Retry-After", strconv.Itoa(secs))
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "too_many_requests",
                    "retry_after": secs,
                })
            }
            return next(c)
        }
    }
}

func rateKey(prefix string, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    return strings.Join([]string{prefix, Subject(c), ip, c.Request().Method + " " + c.Path()}, ":")
}
