package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/quickshow-booking/internal/config"
)

// captureWriter tees the response body, up to limit bytes, while writing
// it to the client.
type captureWriter struct {
    http.ResponseWriter
    status    int
    buf       bytes.Buffer
    limit     int
    truncated bool
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
    if !cw.truncated {
        if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
            cw.truncated = true
            cw.buf.Reset()
        } else {
            cw.buf.Write(b)
        }
    }
    return cw.ResponseWriter.Write(b)
}

// cachedResponse is what is stored per key.
type cachedResponse struct {
    ContentType string `json:"ct"`
    Body        []byte `json:"b"`
}

// CacheKey is the redis key of a cached GET for path and raw query.
func CacheKey(prefix, path, rawQuery string) string {
    sum := sha1.Sum([]byte(path + "?" + rawQuery))
    return fmt.Sprintf("%s:%x", prefix, sum[:])
}

// Forget drops the cached response for path without a query string.
// Cached variants with a query string still expire after cfg.TTL.
func Forget(ctx context.Context, cfg config.CacheConfig, rdb *redis.Client, path string) error {
    if !cfg.Enabled || rdb == nil {
        return nil
    }
    return rdb.Del(ctx, CacheKey(cfg.Prefix, path, "")).Err()
}

// ResponseCache caches successful responses of the configured methods in
// Redis for cfg.TTL.  Keys are derived from the request path and query.
// Responses larger than MaxBodyBytes are served but not stored.
func ResponseCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 5 * time.Second
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            r := c.Request()
            if !cfg.Methods[strings.ToUpper(r.Method)] {
                return next(c)
            }
            key := CacheKey(cfg.Prefix, r.URL.Path, r.URL.RawQuery)

            if raw, err := rdb.Get(r.Context(), key).Bytes(); err == nil {
                var hit cachedResponse
                if json.Unmarshal(raw, &hit) == nil {
                    c.Response().Header().Set("X-Cache", "HIT")
                    return c.Blob(http.StatusOK, hit.ContentType, hit.Body)
                }
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.truncated {
                return nil
            }
            payload, err := json.Marshal(cachedResponse{
                ContentType: c.Response().Header().Get(echo.HeaderContentType),
                Body:        cw.buf.Bytes(),
            })
            if err == nil {
                _ = rdb.Set(context.WithoutCancel(r.Context()), key, payload, ttl).Err()
            }
            return nil
        }
    }
}
