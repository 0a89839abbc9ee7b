package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/quickshow-booking/internal/config"
    "github.com/iliyamo/quickshow-booking/internal/handler"
    "github.com/iliyamo/quickshow-booking/internal/middleware"
)

// ServiceRole is the JWT role producers must carry to post events.
const ServiceRole = "service"

// SeatsPath is the request path of the seat map of showID.
func SeatsPath(showID string) string { return "/v1/shows/" + showID + "/seats" }

// Deps carries what the routes need.  Redis may be nil, in which case
// rate limiting and the response cache are disabled.
type Deps struct {
    Events    *handler.EventsHandler
    Shows     *handler.ShowHandler
    Timers    *handler.TimersHandler
    Ready     map[string]handler.Pinger
    JWTSecret string
    RateLimit config.RateLimitConfig
    Cache     config.CacheConfig
    Redis     *redis.Client
}

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health checks.
func RegisterRoutes(e *echo.Echo, d Deps) {
    e.GET("/healthz", handler.Health)
    if d.Ready != nil {
        e.GET("/readyz", handler.Ready(d.Ready))
    }
}

// RegisterAPI registers the versioned API.  Event ingest requires a
// service token and is rate limited per producer; the seat map is public
// and served through the short-lived response cache.  The release timer
// views under /v1/ops need a service token too.
func RegisterAPI(e *echo.Echo, d Deps) {
    v1 := e.Group("/v1")

    ingest := v1.Group("/events",
        middleware.JWTAuth(d.JWTSecret),
        middleware.RequireRole(ServiceRole),
        middleware.RateLimit(d.RateLimit, d.Redis),
    )
    ingest.POST("", d.Events.Ingest)

    v1.GET("/shows/:id/seats", d.Shows.Seats, middleware.ResponseCache(d.Cache, d.Redis))

    if d.Timers != nil {
        ops := v1.Group("/ops", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(ServiceRole))
        ops.GET("/timers/dead", d.Timers.Dead)
        ops.GET("/timers/:key", d.Timers.Get)
    }
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
    e := echo.New()
    e.HideBanner = true
    e.HidePort = true
    e.Use(middleware.RequestLogger())
    RegisterRoutes(e, d)
    RegisterAPI(e, d)
    return e
}
