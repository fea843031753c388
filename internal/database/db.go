package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps lockout math consistent
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const usersTable = `CREATE TABLE IF NOT EXISTS users (
  id                     BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
  email                  VARCHAR(255)    NOT NULL,
  password_hash          VARCHAR(255)    NOT NULL,
  full_name              VARCHAR(255)    NOT NULL DEFAULT '',
  role                   VARCHAR(16)     NOT NULL DEFAULT 'CUSTOMER',
  status                 VARCHAR(16)     NOT NULL DEFAULT 'PENDING',
  is_email_verified      TINYINT(1)      NOT NULL DEFAULT 0,
  login_attempts         INT UNSIGNED    NOT NULL DEFAULT 0,
  is_locked              TINYINT(1)      NOT NULL DEFAULT 0,
  locked_until           DATETIME        NULL,
  last_login             DATETIME        NULL,
  password_reset_token   VARCHAR(128)    NULL,
  password_reset_expires DATETIME        NULL,
  activity               JSON            NULL,
  created_at             DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at             DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  UNIQUE KEY uq_users_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the users table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, usersTable)
	return err
}
