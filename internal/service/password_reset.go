package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

// resetTokenBytes is the entropy of a reset token before hex encoding.
const resetTokenBytes = 32

func resetTokenKey(email, token string) string {
	return "reset_token:" + email + ":" + token
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

type otpRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Code  string `json:"code" validate:"required,otp"`
}

type resetRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	ResetToken  string `json:"resetToken" validate:"required,hexadecimal,len=64"`
	NewPassword string `json:"newPassword" validate:"required,password"`
}

// ResetTokenResult is handed back after a reset OTP is verified.
type ResetTokenResult struct {
	ResetToken string
	ExpiresAt  time.Time
}

// SendPasswordReset emails a PASSWORD_RESET code to an existing account.
func (s *AuthService) SendPasswordReset(ctx context.Context, email string) (*IssueResult, error) {
	email = repository.NormalizeEmail(email)
	if err := check(emailRequest{Email: email}); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, OpPasswordReset, email); err != nil {
		return nil, err
	}
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("send password reset: %w", err)
	}
	return s.otp.Issue(ctx, IssueRequest{Email: email, Purpose: model.PurposePasswordReset, UserID: u.ID})
}

// ResendPasswordResetOtp issues a new reset code, replacing the outstanding
// one.  It shares the send rate limit.
func (s *AuthService) ResendPasswordResetOtp(ctx context.Context, email string) (*IssueResult, error) {
	return s.SendPasswordReset(ctx, email)
}

// VerifyPasswordResetOtp redeems a reset code for a single-use reset token.
func (s *AuthService) VerifyPasswordResetOtp(ctx context.Context, email, code string) (*ResetTokenResult, error) {
	email = repository.NormalizeEmail(email)
	if err := check(otpRequest{Email: email, Code: code}); err != nil {
		return nil, err
	}
	if _, err := s.otp.Verify(ctx, code, email, model.PurposePasswordReset); err != nil {
		return nil, err
	}

	token, err := utils.RandomHex(resetTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("reset token: %w", err)
	}
	now := s.now().UTC()
	body, err := json.Marshal(model.ResetToken{Email: email, ResetToken: token, CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("reset token: encode: %w", err)
	}
	if err := s.kv.SetWithTTL(ctx, resetTokenKey(email, token), body, s.policy.ResetTokenTTL); err != nil {
		return nil, fmt.Errorf("reset token: store: %w", err)
	}
	return &ResetTokenResult{ResetToken: token, ExpiresAt: now.Add(s.policy.ResetTokenTTL)}, nil
}

// ResetPasswordWithToken sets a new password.  The token is claimed before
// the write so it can be used once; the confirmation email is best-effort.
func (s *AuthService) ResetPasswordWithToken(ctx context.Context, email, token, newPassword string) error {
	email = repository.NormalizeEmail(email)
	if err := check(resetRequest{Email: email, ResetToken: token, NewPassword: newPassword}); err != nil {
		return err
	}
	key := resetTokenKey(email, token)

	body, err := s.kv.Get(ctx, key)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("reset password: load token: %w", err)
	}
	var rec model.ResetToken
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("reset password: decode token: %w", err)
	}
	if rec.Email != email || !utils.ConstantTimeEqual(rec.ResetToken, token) {
		return ErrResetTokenInvalid
	}
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("reset password: load user: %w", err)
	}
	hash, err := utils.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("reset password: hash: %w", err)
	}

	claimed, err := s.kv.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("reset password: claim token: %w", err)
	}
	if !claimed {
		return ErrResetTokenInvalid
	}
	if err := s.users.Update(ctx, u.ID, model.UserPatch{PasswordHash: &hash, ClearResetToken: true}); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	s.sendBestEffort(ctx, model.MailMessage{
		To:       email,
		Subject:  "Your password was changed",
		Template: model.TemplatePasswordChanged,
		Data:     map[string]string{"fullName": u.FullName, "changedAt": s.now().UTC().Format(time.RFC1123)},
	})
	return nil
}

func (s *AuthService) sendBestEffort(ctx context.Context, msg model.MailMessage) {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Warn("best-effort email not sent",
			zap.String("to", msg.To), zap.String("template", msg.Template), zap.Error(err))
	}
}
