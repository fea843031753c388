package service

import (
	"context"
	"fmt"
	"time"
)

// Operations throttled per identity.
const (
	OpRegister          = "register"
	OpEmailVerification = "email_verification"
	OpPasswordReset     = "password_reset"
)

// RateLimiter is a fixed-window counter per operation and identity.  The
// window starts at the first hit and is not extended by later hits.
type RateLimiter struct {
	kv     KV
	limit  int
	window time.Duration
}

func NewRateLimiter(kv KV, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{kv: kv, limit: limit, window: window}
}

func rateKey(operation, identity string) string {
	return "rate_limit:" + operation + ":" + identity
}

// Check counts one attempt and returns ErrRateLimited, with RetryAfter set
// to the rest of the window, once the count exceeds the limit.
func (l *RateLimiter) Check(ctx context.Context, operation, identity string) error {
	key := rateKey(operation, identity)
	n, err := l.kv.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", operation, err)
	}
	ttl := time.Duration(-1)
	if n == 1 {
		if err := l.kv.Expire(ctx, key, l.window); err != nil {
			return fmt.Errorf("rate limit %s: expire: %w", operation, err)
		}
		ttl = l.window
	} else {
		if ttl, err = l.kv.TTL(ctx, key); err != nil {
			return fmt.Errorf("rate limit %s: ttl: %w", operation, err)
		}
		if ttl < 0 {
			// A previous Expire never landed; start the window now.
			if err := l.kv.Expire(ctx, key, l.window); err != nil {
				return fmt.Errorf("rate limit %s: expire: %w", operation, err)
			}
			ttl = l.window
		}
	}
	if n > int64(l.limit) {
		return ErrRateLimited.withRetry(ttl)
	}
	return nil
}
