package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future, past := now.Add(time.Minute), now.Add(-time.Minute)

	assert.False(t, (&User{}).LockActive(now))
	assert.True(t, (&User{IsLocked: true, LockedUntil: &future}).LockActive(now))
	assert.False(t, (&User{IsLocked: true, LockedUntil: &past}).LockActive(now))
	assert.False(t, (&User{IsLocked: true}).LockActive(now))
}

func TestActivityNormalize(t *testing.T) {
	var a Activity
	require.NoError(t, a.Normalize())
	assert.Equal(t, ActivityVersion, a.Version)
	assert.NotNil(t, a.Devices)

	a = Activity{Version: 2}
	assert.ErrorIs(t, a.Normalize(), ErrActivityVersion)
}

func TestActivityCloneIsDeep(t *testing.T) {
	a := NewActivity()
	a.Devices = append(a.Devices, DeviceSession{ID: "d1"})
	b := a.Clone()
	b.Devices[0].ID = "changed"
	assert.Equal(t, "d1", a.Devices[0].ID)
	assert.Equal(t, 0, a.Device("d1"))
	assert.Equal(t, -1, a.Device("missing"))
}

func TestUserPatchApply(t *testing.T) {
	until := time.Now()
	token := "legacy"
	u := &User{IsLocked: true, LockedUntil: &until, PasswordResetToken: &token, PasswordResetExpires: &until}

	assert.True(t, UserPatch{}.Empty())
	unlocked, attempts := false, 0
	p := UserPatch{IsLocked: &unlocked, LoginAttempts: &attempts, ClearLock: true, ClearResetToken: true}
	assert.False(t, p.Empty())
	p.Apply(u)

	assert.False(t, u.IsLocked)
	assert.Nil(t, u.LockedUntil)
	assert.Nil(t, u.PasswordResetToken)
	assert.Nil(t, u.PasswordResetExpires)
}

func TestDeviceInfoDefaults(t *testing.T) {
	d := DeviceInfo{Name: "Pixel"}.WithDefaults()
	assert.Equal(t, DeviceInfo{Name: "Pixel", Type: "web", Location: "Unknown", IPAddress: "Unknown"}, d)
}

func TestRoleAndPurposeValid(t *testing.T) {
	assert.True(t, RoleSeller.Valid())
	assert.False(t, Role("OWNER").Valid())
	assert.True(t, PurposePhoneVerification.Valid())
	assert.False(t, OtpPurpose("SMS").Valid())
}
