package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/storefront-auth/internal/middleware"
	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/service"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

// stubAuth implements Auth; unset funcs panic so tests only hit what they wire.
type stubAuth struct {
	register  func(service.RegisterInput) (*service.RegisterResult, error)
	login     func(service.LoginInput) (*service.LoginResult, error)
	verify    func(email, code string) (*service.UserSummary, error)
	refresh   func(raw string) (utils.AccessToken, error)
	logout    func(raw string) error
	sendReset func(email string) (*service.IssueResult, error)
	verifyOtp func(email, code string) (*service.ResetTokenResult, error)
	reset     func(email, token, pw string) error
	me        func(id uint64) (*service.UserSummary, error)
	devices   func(id uint64) ([]model.DeviceSession, error)
}

func (s *stubAuth) Register(_ context.Context, in service.RegisterInput) (*service.RegisterResult, error) {
	return s.register(in)
}
func (s *stubAuth) SendEmailVerification(_ context.Context, email string) (*service.IssueResult, error) {
	return s.sendReset(email)
}
func (s *stubAuth) VerifyEmail(_ context.Context, email, code string) (*service.UserSummary, error) {
	return s.verify(email, code)
}
func (s *stubAuth) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	return s.login(in)
}
func (s *stubAuth) RefreshToken(_ context.Context, raw string) (utils.AccessToken, error) {
	return s.refresh(raw)
}
func (s *stubAuth) Logout(_ context.Context, raw string) error { return s.logout(raw) }
func (s *stubAuth) SendPasswordReset(_ context.Context, email string) (*service.IssueResult, error) {
	return s.sendReset(email)
}
func (s *stubAuth) ResendPasswordResetOtp(_ context.Context, email string) (*service.IssueResult, error) {
	return s.sendReset(email)
}
func (s *stubAuth) VerifyPasswordResetOtp(_ context.Context, email, code string) (*service.ResetTokenResult, error) {
	return s.verifyOtp(email, code)
}
func (s *stubAuth) ResetPasswordWithToken(_ context.Context, email, token, pw string) error {
	return s.reset(email, token, pw)
}
func (s *stubAuth) Me(_ context.Context, id uint64) (*service.UserSummary, error) { return s.me(id) }
func (s *stubAuth) Devices(_ context.Context, id uint64) ([]model.DeviceSession, error) {
	return s.devices(id)
}

func do(t *testing.T, h echo.HandlerFunc, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestRegisterHandler(t *testing.T) {
	var got service.RegisterInput
	h := NewAuthHandler(&stubAuth{register: func(in service.RegisterInput) (*service.RegisterResult, error) {
		got = in
		return &service.RegisterResult{User: service.UserSummary{ID: 7, Email: in.Email}, VerificationSent: true}, nil
	}}, zap.NewNop())

	rec, body := do(t, h.Register, `{"email":"a@x.com","password":"P@ssw0rd1","fullName":"Ada","role":" seller ","acceptTerms":true}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "SELLER", got.Role)
	assert.True(t, got.AcceptTerms)
	assert.Equal(t, true, body["verificationSent"])
}

func TestLoginHandlerPassesDevice(t *testing.T) {
	exp := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	var got service.LoginInput
	h := NewAuthHandler(&stubAuth{login: func(in service.LoginInput) (*service.LoginResult, error) {
		got = in
		return &service.LoginResult{
			Access:  utils.AccessToken{Token: "acc", Exp: exp},
			Refresh: utils.RefreshToken{Token: "ref", JTI: "j", Exp: exp},
			User:    service.UserSummary{ID: 1},
		}, nil
	}}, zap.NewNop())

	rec, body := do(t, h.Login, `{"email":"a@x.com","password":"x","device":{"name":"iPhone","type":"mobile"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "iPhone", got.Device.Name)
	assert.Equal(t, "203.0.113.9", got.Device.IPAddress)
	assert.Equal(t, "acc", body["access"].(map[string]any)["token"])
	assert.Equal(t, "ref", body["refresh"].(map[string]any)["token"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrEmailNotVerified, http.StatusForbidden},
		{service.ErrEmailExists, http.StatusConflict},
		{service.ErrUserNotFound, http.StatusNotFound},
		{service.ErrDeliveryFailed, http.StatusServiceUnavailable},
		{service.ErrOtpTooManyAttempts, http.StatusTooManyRequests},
		{errors.New("db down"), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := NewAuthHandler(&stubAuth{login: func(service.LoginInput) (*service.LoginResult, error) {
				return nil, tc.err
			}}, zap.NewNop())
			rec, body := do(t, h.Login, `{"email":"a@x.com","password":"x"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	limited := *service.ErrRateLimited
	limited.RetryAfter = 90*time.Second + 200*time.Millisecond
	h := NewAuthHandler(&stubAuth{sendReset: func(string) (*service.IssueResult, error) {
		return nil, &limited
	}}, zap.NewNop())

	rec, body := do(t, h.ForgotPassword, `{"email":"a@x.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "91", rec.Header().Get("Retry-After"))
	assert.Equal(t, float64(91), body["retryAfter"])
}

func TestValidationErrorListsFields(t *testing.T) {
	verr := *service.ErrValidation
	verr.Fields = map[string]string{"email": "email must be a valid email address"}
	h := NewAuthHandler(&stubAuth{verify: func(string, string) (*service.UserSummary, error) {
		return nil, &verr
	}}, zap.NewNop())

	rec, body := do(t, h.VerifyEmail, `{"email":"nope","code":"123456"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["fields"], "email")
}

func TestMalformedBody(t *testing.T) {
	h := NewAuthHandler(&stubAuth{}, zap.NewNop())
	rec, _ := do(t, h.ResetPassword, `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetFlowHandlers(t *testing.T) {
	h := NewAuthHandler(&stubAuth{
		verifyOtp: func(email, code string) (*service.ResetTokenResult, error) {
			return &service.ResetTokenResult{ResetToken: "tok", ExpiresAt: time.Now()}, nil
		},
		reset: func(email, token, pw string) error {
			if token != "tok" {
				return service.ErrResetTokenInvalid
			}
			return nil
		},
	}, zap.NewNop())

	rec, body := do(t, h.VerifyResetOtp, `{"email":"a@x.com","code":"123456"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok", body["resetToken"])

	rec, _ = do(t, h.ResetPassword, `{"email":"a@x.com","resetToken":"tok","newPassword":"N3wSecret!"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h.ResetPassword, `{"email":"a@x.com","resetToken":"old","newPassword":"N3wSecret!"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshAndLogoutHandlers(t *testing.T) {
	h := NewAuthHandler(&stubAuth{
		refresh: func(raw string) (utils.AccessToken, error) {
			if raw == "expired" {
				return utils.AccessToken{}, service.ErrRefreshExpired
			}
			return utils.AccessToken{Token: "new-access"}, nil
		},
		logout: func(raw string) error { return nil },
	}, zap.NewNop())

	rec, body := do(t, h.RefreshAccess, `{"refreshToken":" good "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new-access", body["access"].(map[string]any)["token"])

	rec, body = do(t, h.RefreshAccess, `{"refreshToken":"expired"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Refresh token expired", body["error"])

	rec, _ = do(t, h.Logout, `{"refreshToken":"good"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestProtectedRoutes(t *testing.T) {
	const secret = "access-secret"
	h := NewAuthHandler(&stubAuth{
		me: func(id uint64) (*service.UserSummary, error) {
			return &service.UserSummary{ID: id, Email: "a@x.com"}, nil
		},
		devices: func(id uint64) ([]model.DeviceSession, error) {
			return []model.DeviceSession{{ID: "jti-1", Name: "Web Browser"}}, nil
		},
	}, zap.NewNop())

	e := echo.New()
	g := e.Group("/v1", middleware.JWTAuth(secret), middleware.RequireRole(model.RoleCustomer))
	g.GET("/me", h.Me)
	g.GET("/me/devices", h.Devices)

	get := func(path, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	access, err := utils.NewAccessToken(secret, 42, "a@x.com", "CUSTOMER", time.Minute)
	require.NoError(t, err)
	rec := get("/v1/me", access.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":42`)

	rec = get("/v1/me/devices", access.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jti-1")

	assert.Equal(t, http.StatusUnauthorized, get("/v1/me", "").Code)

	refresh, err := utils.NewRefreshToken(secret, 42, "CUSTOMER", "jti-1", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get("/v1/me", refresh.Token).Code)

	seller, err := utils.NewAccessToken(secret, 43, "s@x.com", "SELLER", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get("/v1/me", seller.Token).Code)
}

func TestReady(t *testing.T) {
	e := echo.New()
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	require.NoError(t, Ready(map[string]Pinger{"mysql": ok})(e.NewContext(httptest.NewRequest(http.MethodGet, "/readyz", nil), rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, Ready(map[string]Pinger{"mysql": ok, "redis": down})(e.NewContext(httptest.NewRequest(http.MethodGet, "/readyz", nil), rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}
