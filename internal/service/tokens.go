package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

// TokenIssuer mints access and refresh JWTs and keeps the per-user device
// list that refresh tokens are checked against.  Access and refresh tokens
// are signed with different secrets.
type TokenIssuer struct {
	users         UserStore
	locks         *userLocks
	accessSecret  string
	refreshSecret string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// TokenConfig carries the signing secrets and lifetimes.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func NewTokenIssuer(users UserStore, locks *userLocks, cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{
		users:         users,
		locks:         locks,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

// SignAccess mints a short-lived access token.
func (t *TokenIssuer) SignAccess(u *model.User) (utils.AccessToken, error) {
	return utils.NewAccessToken(t.accessSecret, u.ID, u.Email, string(u.Role), t.accessTTL)
}

// SignRefresh mints a refresh token with a fresh jti.  Its version is the
// user's current login count.
func (t *TokenIssuer) SignRefresh(u *model.User) (utils.RefreshToken, error) {
	return utils.NewRefreshToken(t.refreshSecret, u.ID, string(u.Role), uuid.NewString(),
		u.Activity.LoginCount, t.refreshTTL)
}

// StoreDevice appends a device session for the refresh token identified by
// jti and returns it.
func (t *TokenIssuer) StoreDevice(ctx context.Context, userID uint64, jti string, info model.DeviceInfo) (model.DeviceSession, error) {
	info = info.WithDefaults()
	now := t.now().UTC()
	dev := model.DeviceSession{
		ID:        jti,
		Name:      info.Name,
		Type:      info.Type,
		LastUsed:  now,
		Location:  info.Location,
		IPAddress: info.IPAddress,
		CreatedAt: now,
	}

	unlock := t.locks.lock(userID)
	defer unlock()
	u, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return model.DeviceSession{}, fmt.Errorf("store device: %w", err)
	}
	activity := u.Activity.Clone()
	activity.Devices = append(activity.Devices, dev)
	if err := t.users.Update(ctx, userID, model.UserPatch{Activity: &activity}); err != nil {
		return model.DeviceSession{}, fmt.Errorf("store device: %w", err)
	}
	return dev, nil
}

// Devices lists the user's device sessions, oldest first.
func (t *TokenIssuer) Devices(ctx context.Context, userID uint64) ([]model.DeviceSession, error) {
	u, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return u.Activity.Devices, nil
}

func (t *TokenIssuer) parseRefresh(raw string) (*utils.RefreshClaims, uint64, error) {
	claims, err := utils.ParseRefreshToken(t.refreshSecret, raw)
	switch {
	case errors.Is(err, utils.ErrTokenExpired):
		return nil, 0, ErrRefreshExpired
	case err != nil:
		return nil, 0, ErrRefreshInvalid
	}
	if claims.Type != utils.TokenTypeRefresh {
		return nil, 0, ErrWrongTokenType
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || claims.ID == "" {
		return nil, 0, ErrRefreshInvalid
	}
	return claims, id, nil
}
