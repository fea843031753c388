package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

// CredentialValidator checks email/password pairs and drives the lockout
// state machine: UNLOCKED, then LOCKED(until T) after maxAttempts
// consecutive failures, then UNLOCKED again on the first correct password
// after T.
type CredentialValidator struct {
	users       UserStore
	locks       *userLocks
	log         *zap.Logger
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

func NewCredentialValidator(users UserStore, locks *userLocks, log *zap.Logger, maxAttempts int, lockout time.Duration) *CredentialValidator {
	return &CredentialValidator{users: users, locks: locks, log: log, maxAttempts: maxAttempts, lockout: lockout, now: time.Now}
}

// Validate returns the user on a correct password, with counters reset and
// the login count bumped.  Unknown and deleted accounts get the same
// generic error as a wrong password.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (*model.User, error) {
	found, err := v.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}

	unlock := v.locks.lock(found.ID)
	defer unlock()
	// Re-read under the lock so counters reflect concurrent logins.
	u, err := v.users.FindByID(ctx, found.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}

	switch u.Status {
	case model.StatusActive:
	case model.StatusPending:
		return nil, ErrEmailNotVerified
	case model.StatusSuspended:
		return nil, ErrAccountSuspended
	default:
		return nil, ErrInvalidCredentials
	}
	if !u.IsEmailVerified {
		return nil, ErrEmailNotVerified
	}
	now := v.now().UTC()
	if u.LockActive(now) {
		return nil, ErrAccountLocked.withRetry(u.LockedUntil.Sub(now))
	}

	if !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, v.recordFailure(ctx, u, now)
	}

	attempts, locked := 0, false
	activity := u.Activity.Clone()
	activity.LoginCount++
	patch := model.UserPatch{
		LoginAttempts: &attempts,
		IsLocked:      &locked,
		ClearLock:     true,
		LastLogin:     &now,
		Activity:      &activity,
	}
	if err := v.users.Update(ctx, u.ID, patch); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	patch.Apply(u)
	return u, nil
}

func (v *CredentialValidator) recordFailure(ctx context.Context, u *model.User, now time.Time) error {
	attempts := u.LoginAttempts + 1
	patch := model.UserPatch{LoginAttempts: &attempts}
	if attempts >= v.maxAttempts {
		locked, until := true, now.Add(v.lockout)
		patch.IsLocked, patch.LockedUntil = &locked, &until
		v.log.Info("account locked",
			zap.Uint64("user_id", u.ID), zap.Int("attempts", attempts), zap.Time("locked_until", until))
	}
	if err := v.users.Update(ctx, u.ID, patch); err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	return ErrInvalidCredentials
}
