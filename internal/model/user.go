package model

import (
	"errors"
	"time"
)

// Role is the account's authorization role.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleSeller   Role = "SELLER"
	RoleCustomer Role = "CUSTOMER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleCustomer:
		return true
	}
	return false
}

// Status is the lifecycle state of an account.  New accounts start PENDING
// and become ACTIVE once the email address is verified.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusDeleted   Status = "DELETED"
)

// User represents a row of the `users` table.  Activity is stored as a JSON
// column and decoded at the repository boundary.
type User struct {
	ID                   uint64     // users.id
	Email                string     // users.email (unique, lower-cased)
	PasswordHash         string     // users.password_hash (bcrypt)
	FullName             string     // users.full_name
	Role                 Role       // users.role
	Status               Status     // users.status
	IsEmailVerified      bool       // users.is_email_verified
	LoginAttempts        int        // users.login_attempts
	IsLocked             bool       // users.is_locked
	LockedUntil          *time.Time // users.locked_until
	LastLogin            *time.Time // users.last_login
	PasswordResetToken   *string    // users.password_reset_token (legacy link flow)
	PasswordResetExpires *time.Time // users.password_reset_expires
	Activity             Activity   // users.activity
	CreatedAt            time.Time  // users.created_at
	UpdatedAt            time.Time  // users.updated_at
}

// LockActive reports whether the lock is still in force at now.  An expired
// lock leaves IsLocked set until the next successful login clears it.
func (u *User) LockActive(now time.Time) bool {
	return u.IsLocked && u.LockedUntil != nil && u.LockedUntil.After(now)
}

// ActivityVersion is the current shape of the activity JSON blob.
const ActivityVersion = 1

// Activity tracks login counters and issued refresh-token sessions.
// LoginCount doubles as the refresh-token version: every successful login
// bumps it and so invalidates refresh tokens minted before.
type Activity struct {
	Version    int             `json:"version"`
	LoginCount int64           `json:"loginCount"`
	Devices    []DeviceSession `json:"devices"`
}

// NewActivity returns the activity of an account that never logged in.
func NewActivity() Activity {
	return Activity{Version: ActivityVersion, Devices: []DeviceSession{}}
}

var ErrActivityVersion = errors.New("unsupported activity version")

// Normalize fills defaults for blobs written before versioning and rejects
// versions this build does not understand.
func (a *Activity) Normalize() error {
	switch a.Version {
	case 0:
		a.Version = ActivityVersion
	case ActivityVersion:
	default:
		return ErrActivityVersion
	}
	if a.LoginCount < 0 {
		a.LoginCount = 0
	}
	if a.Devices == nil {
		a.Devices = []DeviceSession{}
	}
	return nil
}

// Device returns the index of the session with the given id, or -1.
func (a *Activity) Device(id string) int {
	for i := range a.Devices {
		if a.Devices[i].ID == id {
			return i
		}
	}
	return -1
}

// DeviceSession records one issued refresh token.  ID is the token's jti,
// never the token itself.
type DeviceSession struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	LastUsed  time.Time `json:"lastUsed"`
	Location  string    `json:"location"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeviceInfo is the caller-supplied description of the client logging in.
type DeviceInfo struct {
	Name      string
	Type      string
	Location  string
	IPAddress string
}

// WithDefaults fills blank fields; the service does no geolocation itself.
func (d DeviceInfo) WithDefaults() DeviceInfo {
	if d.Name == "" {
		d.Name = "Web Browser"
	}
	if d.Type == "" {
		d.Type = "web"
	}
	if d.Location == "" {
		d.Location = "Unknown"
	}
	if d.IPAddress == "" {
		d.IPAddress = "Unknown"
	}
	return d
}

// UserPatch is a partial update of a user row.  Nil fields are left
// untouched.  ClearLock / ClearResetToken null the corresponding columns.
type UserPatch struct {
	PasswordHash    *string
	FullName        *string
	Role            *Role
	Status          *Status
	IsEmailVerified *bool
	LoginAttempts   *int
	IsLocked        *bool
	LockedUntil     *time.Time
	ClearLock       bool
	LastLogin       *time.Time
	ClearResetToken bool
	Activity        *Activity
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.PasswordHash == nil && p.FullName == nil && p.Role == nil && p.Status == nil &&
		p.IsEmailVerified == nil && p.LoginAttempts == nil && p.IsLocked == nil &&
		p.LockedUntil == nil && !p.ClearLock && p.LastLogin == nil && !p.ClearResetToken &&
		p.Activity == nil
}

// Apply copies the patch onto u so in-memory state matches the stored row.
func (p UserPatch) Apply(u *User) {
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	if p.IsEmailVerified != nil {
		u.IsEmailVerified = *p.IsEmailVerified
	}
	if p.LoginAttempts != nil {
		u.LoginAttempts = *p.LoginAttempts
	}
	if p.IsLocked != nil {
		u.IsLocked = *p.IsLocked
	}
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		u.LockedUntil = &t
	}
	if p.ClearLock {
		u.LockedUntil = nil
	}
	if p.LastLogin != nil {
		t := *p.LastLogin
		u.LastLogin = &t
	}
	if p.ClearResetToken {
		u.PasswordResetToken = nil
		u.PasswordResetExpires = nil
	}
	if p.Activity != nil {
		u.Activity = p.Activity.clone()
	}
}

func (a Activity) clone() Activity {
	out := a
	out.Devices = append([]DeviceSession(nil), a.Devices...)
	if out.Devices == nil {
		out.Devices = []DeviceSession{}
	}
	return out
}

// Clone returns a deep copy of the activity.
func (a Activity) Clone() Activity { return a.clone() }
