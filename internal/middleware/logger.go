package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
)

// RequestLogger logs one structured line per request.  Responses with a
// status of 400 or above are logged at warn level.
func RequestLogger() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                c.Error(err)
            }
            status := c.Response().Status
            entry := logrus.WithFields(logrus.Fields{
                "method":    c.Request().Method,
                "path":      c.Request().URL.Path,
                "status":    status,
                "duration":  time.Since(start).String(),
                "client_ip": c.RealIP(),
            })
            if status >= 400 {
                entry.Warn("request failed")
            } else {
                entry.Info("request processed")
            }
            return nil
        }
    }
}
