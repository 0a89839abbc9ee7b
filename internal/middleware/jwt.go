package middleware // reusable HTTP middleware for the booking service

import (
    "errors"
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// ServiceClaims are the claims carried by producer tokens.  Role must be
// "service" for the ingest endpoint.
type ServiceClaims struct {
    Role string `json:"role"`
    jwt.RegisteredClaims
}

// Context keys set by JWTAuth.
const (
    CtxSubject = "subject"
    CtxRole    = "role"
)

// JWTAuth validates an HS256 Bearer token signed with secret and stores its
// subject and role on the context.  Missing or invalid tokens get 401.
func JWTAuth(secret string) echo.MiddlewareFunc {
    key := []byte(secret)
    parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            var claims ServiceClaims
            tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return key, nil })
            if err != nil || !tok.Valid {
                msg := "invalid token"
                if errors.Is(err, jwt.ErrTokenExpired) {
                    msg = "token expired"
                }
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
            }
            c.Set(CtxSubject, claims.Subject)
            c.Set(CtxRole, claims.Role)
            return next(c)
        }
    }
}

func bearer(h string) (string, bool) {
    const prefix = "Bearer "
    if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
        return "", false
    }
    return strings.TrimSpace(h[len(prefix):]), true
}
