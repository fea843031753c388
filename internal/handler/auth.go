package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/storefront-auth/internal/middleware"
	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/service"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

const requestTimeout = 5 * time.Second

// Auth is the service surface the handlers drive.
type Auth interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.RegisterResult, error)
	SendEmailVerification(ctx context.Context, email string) (*service.IssueResult, error)
	VerifyEmail(ctx context.Context, email, code string) (*service.UserSummary, error)
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	RefreshToken(ctx context.Context, raw string) (utils.AccessToken, error)
	Logout(ctx context.Context, raw string) error
	SendPasswordReset(ctx context.Context, email string) (*service.IssueResult, error)
	ResendPasswordResetOtp(ctx context.Context, email string) (*service.IssueResult, error)
	VerifyPasswordResetOtp(ctx context.Context, email, code string) (*service.ResetTokenResult, error)
	ResetPasswordWithToken(ctx context.Context, email, token, newPassword string) error
	Me(ctx context.Context, userID uint64) (*service.UserSummary, error)
	Devices(ctx context.Context, userID uint64) ([]model.DeviceSession, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Svc Auth
	Log *zap.Logger
}

func NewAuthHandler(svc Auth, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Svc: svc, Log: log}
}

// ----- DTOs -----

type emailReq struct {
	Email string `json:"email"`
}
type codeReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}
type resetReq struct {
	Email       string `json:"email"`
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}
type deviceReq struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}
type loginReq struct {
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Device   deviceReq `json:"device"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type loginResp struct {
	User    service.UserSummary `json:"user"`
	Access  tokenPart           `json:"access"`
	Refresh tokenPart           `json:"refresh"`
}
type otpResp struct {
	Message   string    `json:"message"`
	OtpID     string    `json:"otpId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
}

// Register: create a PENDING account and send the verification code.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	req.Role = strings.ToUpper(strings.TrimSpace(req.Role))

	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Svc.Register(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	msg := "Registration successful, check your email for the verification code"
	if !res.VerificationSent {
		msg = "Registration successful, but the verification email could not be sent; request a new code"
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message":          msg,
		"user":             res.User,
		"verificationSent": res.VerificationSent,
		"otpExpiresAt":     res.OtpExpiresAt,
	})
}

// Login: check credentials and return an access/refresh pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Svc.Login(ctx, service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device: model.DeviceInfo{
			Name:      req.Device.Name,
			Type:      req.Device.Type,
			Location:  req.Device.Location,
			IPAddress: c.RealIP(),
		},
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, loginResp{
		User:    res.User,
		Access:  tokenPart{Token: res.Access.Token, Expires: res.Access.Exp},
		Refresh: tokenPart{Token: res.Refresh.Token, Expires: res.Refresh.Exp},
	})
}

func (h *AuthHandler) SendEmailVerification(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Svc.SendEmailVerification(ctx, req.Email)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, otpResp{Message: "Verification code sent", OtpID: res.OtpID, ExpiresAt: res.ExpiresAt})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	u, err := h.Svc.VerifyEmail(ctx, req.Email, req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Email verified", "user": u})
}

// ForgotPassword: email a PASSWORD_RESET code.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	return h.sendReset(c, h.Svc.SendPasswordReset, "Password reset code sent")
}

func (h *AuthHandler) ResendResetOtp(c echo.Context) error {
	return h.sendReset(c, h.Svc.ResendPasswordResetOtp, "Password reset code resent")
}

func (h *AuthHandler) sendReset(c echo.Context, send func(context.Context, string) (*service.IssueResult, error), msg string) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := send(ctx, req.Email)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, otpResp{Message: msg, OtpID: res.OtpID, ExpiresAt: res.ExpiresAt})
}

// VerifyResetOtp: trade a reset code for a single-use reset token.
func (h *AuthHandler) VerifyResetOtp(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Svc.VerifyPasswordResetOtp(ctx, req.Email, req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"resetToken": res.ResetToken, "expiresAt": res.ExpiresAt})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Svc.ResetPasswordWithToken(ctx, req.Email, req.ResetToken, req.NewPassword); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password has been reset"})
}

// RefreshAccess: return a new access token; the refresh token is not rotated.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	access, err := h.Svc.RefreshToken(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout: revoke the device session of the given refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Svc.Logout(ctx, strings.TrimSpace(req.RefreshToken)); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me: the authenticated account (protected).
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	u, err := h.Svc.Me(ctx, uid)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// Devices: the caller's signed-in devices (protected).
func (h *AuthHandler) Devices(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	devs, err := h.Svc.Devices(ctx, uid)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"devices": devs})
}

// fail renders a service error.  Anything that is not a *service.Error is
// logged and reported as a bare 500.
func (h *AuthHandler) fail(c echo.Context, err error) error {
	var se *service.Error
	if !errors.As(err, &se) {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "request timed out"})
		}
		h.Log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	body := echo.Map{"error": se.Msg, "kind": se.Kind.String()}
	if len(se.Fields) > 0 {
		body["fields"] = se.Fields
	}
	if se.RetryAfter > 0 {
		secs := int(math.Ceil(se.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		body["retryAfter"] = secs
	}
	return c.JSON(statusFor(se.Kind), body)
}

func statusFor(k service.Kind) int {
	switch k {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindAuthentication:
		return http.StatusUnauthorized
	case service.KindAuthorization:
		return http.StatusForbidden
	case service.KindRateLimit:
		return http.StatusTooManyRequests
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
