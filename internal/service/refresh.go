package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

// Refresh exchanges a refresh token for a new access token.  The refresh
// token itself is not rotated.  Each rejection reason has its own error:
// expired, wrong type, revoked device, stale version, inactive account and
// changed role.
func (t *TokenIssuer) Refresh(ctx context.Context, raw string) (utils.AccessToken, error) {
	claims, userID, err := t.parseRefresh(raw)
	if err != nil {
		return utils.AccessToken{}, err
	}

	unlock := t.locks.lock(userID)
	defer unlock()
	u, err := t.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return utils.AccessToken{}, ErrRefreshInvalid
	}
	if err != nil {
		return utils.AccessToken{}, fmt.Errorf("refresh: load user: %w", err)
	}

	idx := u.Activity.Device(claims.ID)
	if idx < 0 {
		return utils.AccessToken{}, ErrSessionRevoked
	}
	if claims.Version != u.Activity.LoginCount {
		return utils.AccessToken{}, ErrTokenInvalidated
	}
	if u.Status != model.StatusActive {
		return utils.AccessToken{}, ErrAccountInactive
	}
	if claims.Role != string(u.Role) {
		return utils.AccessToken{}, ErrRoleChanged
	}

	access, err := t.SignAccess(u)
	if err != nil {
		return utils.AccessToken{}, fmt.Errorf("refresh: sign access: %w", err)
	}
	activity := u.Activity.Clone()
	activity.Devices[idx].LastUsed = t.now().UTC()
	if err := t.users.Update(ctx, u.ID, model.UserPatch{Activity: &activity}); err != nil {
		return utils.AccessToken{}, fmt.Errorf("refresh: touch device: %w", err)
	}
	return access, nil
}

// RevokeDevice removes the device session of the presented refresh token,
// logging that device out.  Other devices are untouched.
func (t *TokenIssuer) RevokeDevice(ctx context.Context, raw string) error {
	claims, userID, err := t.parseRefresh(raw)
	if err != nil {
		return err
	}

	unlock := t.locks.lock(userID)
	defer unlock()
	u, err := t.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRefreshInvalid
	}
	if err != nil {
		return fmt.Errorf("revoke device: load user: %w", err)
	}
	idx := u.Activity.Device(claims.ID)
	if idx < 0 {
		return ErrSessionRevoked
	}
	activity := u.Activity.Clone()
	activity.Devices = append(activity.Devices[:idx], activity.Devices[idx+1:]...)
	if err := t.users.Update(ctx, u.ID, model.UserPatch{Activity: &activity}); err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	return nil
}
