package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/storefront-auth/internal/utils"
)

// Context keys set by JWTAuth.
const (
    CtxUserID = "user_id"
    CtxRole   = "role"
    CtxEmail  = "email"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects its subject, role and email into the request context.  Refresh
// tokens are rejected even when signed with the same secret.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

            claims, err := utils.ParseAccessToken(secret, raw)
            if errors.Is(err, utils.ErrTokenExpired) {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
            }
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            if claims.Type != utils.TokenTypeAccess {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token type"})
            }
            uid, err := claims.UserID()
            if err != nil || uid == 0 {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
            }

            c.Set(CtxUserID, uid)
            c.Set(CtxRole, claims.Role)
            c.Set(CtxEmail, claims.Email)
            return next(c)
        }
    }
}

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(CtxUserID).(uint64)
    return id, ok && id != 0
}
