package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// TimerInspector is the read side of the durable release timer.
type TimerInspector interface {
    DueAt(ctx context.Context, key string) (time.Time, bool, error)
    Attempts(ctx context.Context, key string) (int, error)
    Dead(ctx context.Context) (map[string]string, error)
}

// TimersHandler serves operator views of release timers.
type TimersHandler struct {
    Timers TimerInspector
}

// TimerStatus is the response of GET /v1/ops/timers/:key.
type TimerStatus struct {
    Key      string     `json:"key"`
    Pending  bool       `json:"pending"`
    DueAt    *time.Time `json:"due_at,omitempty"`
    Attempts int        `json:"attempts"`
    Dead     string     `json:"dead,omitempty"`
}

// Dead lists dead-lettered timers with the error that killed each.
func (h *TimersHandler) Dead(c echo.Context) error {
    dead, err := h.Timers.Dead(c.Request().Context())
    if err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "timer store unavailable"})
    }
    return c.JSON(http.StatusOK, echo.Map{"dead": dead, "count": len(dead)})
}

// Get reports the state of one timer.  Unknown keys return 404.
func (h *TimersHandler) Get(c echo.Context) error {
    ctx := c.Request().Context()
    key := c.Param("key")
    at, pending, err := h.Timers.DueAt(ctx, key)
    if err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "timer store unavailable"})
    }
    attempts, err := h.Timers.Attempts(ctx, key)
    if err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "timer store unavailable"})
    }
    dead, err := h.Timers.Dead(ctx)
    if err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "timer store unavailable"})
    }
    st := TimerStatus{Key: key, Pending: pending, Attempts: attempts, Dead: dead[key]}
    if pending {
        at = at.UTC()
        st.DueAt = &at
    }
    if !pending && attempts == 0 && st.Dead == "" {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "timer not found"})
    }
    return c.JSON(http.StatusOK, st)
}
