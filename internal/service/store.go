package service

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/storefront-auth/internal/model"
)

// UserStore is the durable user record store.  Lookups return
// repository.ErrNotFound when no row matches; Update applies only the
// fields set in the patch.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id uint64) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
	Update(ctx context.Context, id uint64, p model.UserPatch) error
}

// KV is the expiring key-value store.  Get and TTL return
// repository.ErrKeyNotFound for missing keys; Delete reports whether the
// first key existed.
type KV interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Mailer hands a message to the outbound mail transport.  A nil error means
// the message was accepted for delivery.
type Mailer interface {
	Send(ctx context.Context, msg model.MailMessage) error
}

const lockStripes = 64

// userLocks serializes read-modify-write cycles on one user's counters
// and device list within this process.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) lock(id uint64) (unlock func()) {
	m := &l.stripes[id%lockStripes]
	m.Lock()
	return m.Unlock
}
