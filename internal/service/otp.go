package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

const otpLength = 6

// OTPStore issues and verifies one-time passcodes.  One code is outstanding
// per (purpose, email): the record lives at otp:{purpose}:{email} and its
// verify counter at the same key with an :attempts suffix.  Every verify call
// counts against the code, matching or not, so guesses are bounded by
// MaxAttempts rather than by the size of the code space.
type OTPStore struct {
	kv          KV
	users       UserStore
	mailer      Mailer
	log         *zap.Logger
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// IssueRequest describes an OTP to send.  TTL falls back to the store default.
type IssueRequest struct {
	Email    string
	Purpose  model.OtpPurpose
	UserID   uint64
	Metadata map[string]string
	TTL      time.Duration
}

// IssueResult identifies the issued code without revealing it.
type IssueResult struct {
	OtpID     string
	ExpiresAt time.Time
}

func NewOTPStore(kv KV, users UserStore, mailer Mailer, log *zap.Logger, ttl time.Duration, maxAttempts int) *OTPStore {
	return &OTPStore{kv: kv, users: users, mailer: mailer, log: log, ttl: ttl, maxAttempts: maxAttempts, now: time.Now}
}

func otpKey(purpose model.OtpPurpose, email string) string {
	return "otp:" + string(purpose) + ":" + email
}

func otpAttemptsKey(purpose model.OtpPurpose, email string) string {
	return otpKey(purpose, email) + ":attempts"
}

// Issue generates a code, stores it and emails it.  Issuing again for the
// same purpose and email replaces the outstanding code.  If the email
// cannot be handed to the mailer the record is removed again.
func (s *OTPStore) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	email := repository.NormalizeEmail(req.Email)
	if !req.Purpose.Valid() {
		return nil, validationError(map[string]string{"purpose": "unknown OTP purpose"})
	}
	if req.Purpose == model.PurposeEmailVerification {
		u, err := s.users.FindByEmail(ctx, email)
		switch {
		case err == nil && u.IsEmailVerified:
			return nil, ErrAlreadyVerified
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("otp issue: load user: %w", err)
		}
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	code, err := utils.RandomDigits(otpLength)
	if err != nil {
		return nil, fmt.Errorf("otp issue: generate code: %w", err)
	}
	now := s.now().UTC()
	rec := model.OtpRecord{
		ID:          uuid.NewString(),
		Code:        code,
		Email:       email,
		Purpose:     req.Purpose,
		UserID:      req.UserID,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		MaxAttempts: s.maxAttempts,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("otp issue: encode: %w", err)
	}
	key, attemptsKey := otpKey(req.Purpose, email), otpAttemptsKey(req.Purpose, email)
	if err := s.kv.SetWithTTL(ctx, attemptsKey, []byte("0"), ttl); err != nil {
		return nil, fmt.Errorf("otp issue: store attempts: %w", err)
	}
	if err := s.kv.SetWithTTL(ctx, key, body, ttl); err != nil {
		return nil, fmt.Errorf("otp issue: store record: %w", err)
	}

	msg := otpMessage(rec, ttl)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Warn("otp email not accepted, discarding code",
			zap.String("email", email), zap.String("purpose", string(req.Purpose)), zap.Error(err))
		if _, derr := s.kv.Delete(ctx, key, attemptsKey); derr != nil {
			s.log.Error("otp cleanup failed", zap.String("key", key), zap.Error(derr))
		}
		return nil, ErrDeliveryFailed
	}
	return &IssueResult{OtpID: rec.ID, ExpiresAt: now.Add(ttl)}, nil
}

// Verify redeems a code.  The record is deleted on success and once the
// attempt budget is spent, so a code can be redeemed at most once.
func (s *OTPStore) Verify(ctx context.Context, code, email string, purpose model.OtpPurpose) (*model.OtpRecord, error) {
	email = repository.NormalizeEmail(email)
	key, attemptsKey := otpKey(purpose, email), otpAttemptsKey(purpose, email)

	body, err := s.kv.Get(ctx, key)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return nil, ErrOtpInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("otp verify: load: %w", err)
	}
	var rec model.OtpRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("otp verify: decode: %w", err)
	}
	limit := rec.MaxAttempts
	if limit <= 0 {
		limit = s.maxAttempts
	}

	n, err := s.kv.Incr(ctx, attemptsKey)
	if err != nil {
		return nil, fmt.Errorf("otp verify: count attempt: %w", err)
	}
	if n == 1 {
		// The counter was gone (expired first); tie it to the record's lifetime.
		if err := s.syncAttemptsTTL(ctx, key, attemptsKey); err != nil {
			return nil, err
		}
	}
	rec.Attempts = int(n)

	if rec.Attempts > limit {
		s.discard(ctx, key, attemptsKey)
		return nil, ErrOtpTooManyAttempts
	}
	if !utils.ConstantTimeEqual(rec.Code, code) {
		if rec.Attempts >= limit {
			s.discard(ctx, key, attemptsKey)
			return nil, ErrOtpTooManyAttempts
		}
		return nil, ErrOtpInvalid
	}
	claimed, err := s.kv.Delete(ctx, key, attemptsKey)
	if err != nil {
		return nil, fmt.Errorf("otp verify: consume: %w", err)
	}
	if !claimed {
		// A concurrent verify redeemed it first.
		return nil, ErrOtpInvalid
	}
	return &rec, nil
}

func (s *OTPStore) syncAttemptsTTL(ctx context.Context, key, attemptsKey string) error {
	ttl, err := s.kv.TTL(ctx, key)
	if errors.Is(err, repository.ErrKeyNotFound) || (err == nil && ttl <= 0) {
		s.discard(ctx, key, attemptsKey)
		return ErrOtpInvalid
	}
	if err != nil {
		return fmt.Errorf("otp verify: ttl: %w", err)
	}
	if err := s.kv.Expire(ctx, attemptsKey, ttl); err != nil {
		return fmt.Errorf("otp verify: expire attempts: %w", err)
	}
	return nil
}

func (s *OTPStore) discard(ctx context.Context, keys ...string) {
	if _, err := s.kv.Delete(ctx, keys...); err != nil {
		s.log.Error("otp discard failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func otpMessage(rec model.OtpRecord, ttl time.Duration) model.MailMessage {
	data := map[string]string{
		"code":       rec.Code,
		"email":      rec.Email,
		"ttlMinutes": strconv.Itoa(int(ttl / time.Minute)),
	}
	for k, v := range rec.Metadata {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	msg := model.MailMessage{To: rec.Email, Data: data}
	switch rec.Purpose {
	case model.PurposeEmailVerification:
		msg.Subject, msg.Template = "Verify your email address", model.TemplateEmailVerification
	case model.PurposePasswordReset:
		msg.Subject, msg.Template = "Your password reset code", model.TemplatePasswordReset
	case model.PurposeLoginVerification:
		msg.Subject, msg.Template = "Your login verification code", model.TemplateLoginVerification
	case model.PurposePhoneVerification:
		msg.Subject, msg.Template = "Your phone verification code", model.TemplatePhoneVerification
	}
	return msg
}
