package middleware

import (
    "context"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/quickshow-booking/internal/config"
)

const secret = "test-secret"

func sign(t *testing.T, key, role string, exp time.Time) string {
    t.Helper()
    tok := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
        Role: role,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   "payments",
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    })
    s, err := tok.SignedString([]byte(key))
    require.NoError(t, err)
    return s
}

func newRedis(t *testing.T) *redis.Client {
    t.Helper()
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    return rdb
}

func protected() *echo.Echo {
    e := echo.New()
    e.POST("/v1/events", func(c echo.Context) error {
        return c.String(http.StatusAccepted, Subject(c))
    }, JWTAuth(secret), RequireRole("service"))
    return e
}

func TestJWTAuthAndRole(t *testing.T) {
    future := time.Now().Add(time.Hour)
    cases := []struct {
        name   string
        header string
        status int
    }{
        {"missing token", "", http.StatusUnauthorized},
        {"not bearer", "Basic abc", http.StatusUnauthorized},
        {"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
        {"wrong secret", "Bearer " + sign(t, "other", "service", future), http.StatusUnauthorized},
        {"expired", "Bearer " + sign(t, secret, "service", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
        {"wrong role", "Bearer " + sign(t, secret, "customer", future), http.StatusForbidden},
        {"service", "Bearer " + sign(t, secret, "service", future), http.StatusAccepted},
    }
    e := protected()
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
            if tc.header != "" {
                req.Header.Set(echo.HeaderAuthorization, tc.header)
            }
            rec := httptest.NewRecorder()
            e.ServeHTTP(rec, req)
            assert.Equal(t, tc.status, rec.Code)
            if tc.status == http.StatusAccepted {
                assert.Equal(t, "payments", rec.Body.String())
            }
        })
    }
}

func TestJWTAuthRejectsOtherAlgorithms(t *testing.T) {
    tok := jwt.NewWithClaims(jwt.SigningMethodHS512, ServiceClaims{Role: "service"})
    s, err := tok.SignedString([]byte(secret))
    require.NoError(t, err)

    req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
    req.Header.Set(echo.HeaderAuthorization, "Bearer "+s)
    rec := httptest.NewRecorder()
    protected().ServeHTTP(rec, req)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitReturns429WhenBucketEmpty(t *testing.T) {
    rdb := newRedis(t)
    cfg := config.RateLimitConfig{
        Enabled: true, Capacity: 2, RefillTokens: 1,
        RefillInterval: time.Hour, TTL: 2 * time.Hour, Prefix: "rl",
    }
    e := echo.New()
    e.POST("/v1/events", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) }, RateLimit(cfg, rdb))

    codes := make([]int, 0, 3)
    var last *httptest.ResponseRecorder
    for i := 0; i < 3; i++ {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/events", nil))
        codes = append(codes, rec.Code)
        last = rec
    }
    assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
    assert.NotEmpty(t, last.Header().Get("Retry-After"))
    assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitFailsOpen(t *testing.T) {
    rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
    defer rdb.Close()
    cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
    e := echo.New()
    e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) }, RateLimit(cfg, rdb))

    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
    assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResponseCacheHitAndMiss(t *testing.T) {
    rdb := newRedis(t)
    cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1024}
    calls := 0
    e := echo.New()
    e.GET("/v1/shows/:id/seats", func(c echo.Context) error {
        calls++
        if c.Param("id") == "missing" {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
        }
        return c.JSON(http.StatusOK, echo.Map{"show_id": c.Param("id"), "calls": calls})
    }, ResponseCache(cfg, rdb))

    get := func(path string) *httptest.ResponseRecorder {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
        return rec
    }

    first := get("/v1/shows/s1/seats")
    require.Equal(t, http.StatusOK, first.Code)
    assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

    second := get("/v1/shows/s1/seats")
    require.Equal(t, http.StatusOK, second.Code)
    assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
    assert.Equal(t, first.Body.String(), second.Body.String())
    assert.Contains(t, second.Header().Get(echo.HeaderContentType), "application/json")
    assert.Equal(t, 1, calls)

    assert.Equal(t, "MISS", get("/v1/shows/s2/seats").Header().Get("X-Cache"))
    assert.Equal(t, 2, calls)

    get("/v1/shows/missing/seats")
    assert.Equal(t, "MISS", get("/v1/shows/missing/seats").Header().Get("X-Cache"))
    assert.Equal(t, 4, calls)
}

func TestResponseCacheSkipsOversizedBodies(t *testing.T) {
    rdb := newRedis(t)
    cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 8}
    e := echo.New()
    e.GET("/big", func(c echo.Context) error { return c.String(http.StatusOK, "this body is longer than eight bytes") }, ResponseCache(cfg, rdb))

    for i := 0; i < 2; i++ {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/big", nil))
        assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
        assert.Equal(t, "this body is longer than eight bytes", rec.Body.String())
    }
}

func TestForgetDropsCachedResponse(t *testing.T) {
    rdb := newRedis(t)
    cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1024}
    calls := 0
    e := echo.New()
    e.GET("/v1/shows/:id/seats", func(c echo.Context) error {
        calls++
        return c.JSON(http.StatusOK, echo.Map{"calls": calls})
    }, ResponseCache(cfg, rdb))
    get := func() string {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/shows/s1/seats", nil))
        return rec.Header().Get("X-Cache")
    }

    assert.Equal(t, "MISS", get())
    assert.Equal(t, "HIT", get())
    require.NoError(t, Forget(context.Background(), cfg, rdb, "/v1/shows/s1/seats"))
    assert.Equal(t, "MISS", get())
    assert.Equal(t, 2, calls)

    assert.NoError(t, Forget(context.Background(), config.CacheConfig{}, nil, "/v1/shows/s1/seats"))
}

func TestCacheKeyIncludesQuery(t *testing.T) {
    assert.NotEqual(t, CacheKey("c", "/a", ""), CacheKey("c", "/a", "x=1"))
    assert.Equal(t, CacheKey("c", "/a", "x=1"), CacheKey("c", "/a", "x=1"))
}

func TestSubjectDefaultsToAnon(t *testing.T) {
    c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
    assert.Equal(t, "anon", Subject(c))
    c.Set(CtxSubject, "svc")
    assert.Equal(t, "svc", Subject(c))
}
