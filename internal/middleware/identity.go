package middleware

import "github.com/labstack/echo/v4"

// Subject returns the authenticated token subject, or "anon" when the
// request carries none.
func Subject(c echo.Context) string {
    if s, ok := c.Get(CtxSubject).(string); ok && s != "" {
        return s
    }
    return "anon"
}
