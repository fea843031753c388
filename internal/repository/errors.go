// Package repository holds the MySQL and Redis data access used by the auth
// services.  Sentinel errors let the service layer tell a missing row or key
// apart from an infrastructure failure.
package repository

import "errors"

// ErrNotFound is returned when no user row matches the lookup.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by Create when the unique email index rejects
// the insert.
var ErrEmailExists = errors.New("email already exists")

// ErrKeyNotFound is returned by the key-value store for missing or expired
// keys.
var ErrKeyNotFound = errors.New("key not found")
