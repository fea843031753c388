package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/storefront-auth/internal/handler"
	"github.com/iliyamo/storefront-auth/internal/middleware"
	"github.com/iliyamo/storefront-auth/internal/model"
)

// RegisterRoutes registers routes that do not require authentication:
// liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterAuth registers the authentication routes.  Session-less operations
// live under /v1/auth behind the per-client token bucket; endpoints that need
// an access token live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/send-email-verification", a.SendEmailVerification)
	g.POST("/verify-email", a.VerifyEmail)
	g.POST("/forgot-password", a.ForgotPassword)
	g.POST("/verify-reset-otp", a.VerifyResetOtp)
	g.POST("/reset-password", a.ResetPassword)
	g.POST("/resend-reset-otp", a.ResendResetOtp)
	// Returns a new access token only; the refresh token is reused.
	g.POST("/refresh", a.RefreshAccess)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleAdmin, model.RoleSeller, model.RoleCustomer))
	auth.GET("/me", a.Me)
	auth.GET("/me/devices", a.Devices)
}
