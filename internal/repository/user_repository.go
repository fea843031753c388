package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/storefront-auth/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique index violation.
const mysqlDuplicateEntry = 1062

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id,email,password_hash,full_name,role,status,is_email_verified,login_attempts,
is_locked,locked_until,last_login,password_reset_token,password_reset_expires,activity,created_at,updated_at`

// Create inserts u and sets its ID.  Email is normalized before insert.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Activity.Version == 0 {
		u.Activity = model.NewActivity()
	}
	activity, err := json.Marshal(u.Activity)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, full_name, role, status, is_email_verified, activity)
		 VALUES (?,?,?,?,?,?,?)`,
		u.Email, u.PasswordHash, u.FullName, string(u.Role), string(u.Status), u.IsEmailVerified, activity)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// FindByEmail fetches a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
	return scanUser(row)
}

// FindByID fetches a user by id.
func (r *UserRepo) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// Update writes only the columns set in p.  Activity is the hot column, so a
// login touching counters and devices never rewrites profile fields.
func (r *UserRepo) Update(ctx context.Context, id uint64, p model.UserPatch) error {
	if p.Empty() {
		return nil
	}
	var (
		sets []string
		args []interface{}
	)
	set := func(col string, v interface{}) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if p.PasswordHash != nil {
		set("password_hash", *p.PasswordHash)
	}
	if p.FullName != nil {
		set("full_name", *p.FullName)
	}
	if p.Role != nil {
		set("role", string(*p.Role))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.IsEmailVerified != nil {
		set("is_email_verified", *p.IsEmailVerified)
	}
	if p.LoginAttempts != nil {
		set("login_attempts", *p.LoginAttempts)
	}
	if p.IsLocked != nil {
		set("is_locked", *p.IsLocked)
	}
	switch {
	case p.ClearLock:
		sets = append(sets, "locked_until=NULL")
	case p.LockedUntil != nil:
		set("locked_until", p.LockedUntil.UTC())
	}
	if p.LastLogin != nil {
		set("last_login", p.LastLogin.UTC())
	}
	if p.ClearResetToken {
		sets = append(sets, "password_reset_token=NULL", "password_reset_expires=NULL")
	}
	if p.Activity != nil {
		a := p.Activity.Clone()
		if err := a.Normalize(); err != nil {
			return err
		}
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode activity: %w", err)
		}
		set("activity", b)
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for rows matched but unchanged; confirm the row exists.
		var one int
		if err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=?", id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                      model.User
		role, status           string
		lockedUntil, lastLogin sql.NullTime
		resetToken             sql.NullString
		resetExpires           sql.NullTime
		activity               []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &role, &status, &u.IsEmailVerified,
		&u.LoginAttempts, &u.IsLocked, &lockedUntil, &lastLogin, &resetToken, &resetExpires, &activity,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	u.Status = model.Status(status)
	u.LockedUntil = nullTime(lockedUntil)
	u.LastLogin = nullTime(lastLogin)
	u.PasswordResetExpires = nullTime(resetExpires)
	if resetToken.Valid {
		s := resetToken.String
		u.PasswordResetToken = &s
	}
	u.Activity = model.NewActivity()
	if len(activity) > 0 {
		if err := json.Unmarshal(activity, &u.Activity); err != nil {
			return nil, fmt.Errorf("decode activity for user %d: %w", u.ID, err)
		}
	}
	if err := u.Activity.Normalize(); err != nil {
		return nil, fmt.Errorf("user %d: %w", u.ID, err)
	}
	return &u, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
