package model

import "time"

// OtpPurpose scopes an OTP to the flow that issued it.
type OtpPurpose string

const (
	PurposeEmailVerification OtpPurpose = "EMAIL_VERIFICATION"
	PurposePasswordReset     OtpPurpose = "PASSWORD_RESET"
	PurposeLoginVerification OtpPurpose = "LOGIN_VERIFICATION"
	PurposePhoneVerification OtpPurpose = "PHONE_VERIFICATION"
)

// Valid reports whether p is a known purpose.
func (p OtpPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset, PurposeLoginVerification, PurposePhoneVerification:
		return true
	}
	return false
}

// OtpRecord is the JSON value stored in Redis for an outstanding code.
// Attempts is kept in a sibling counter key and copied in on read.
type OtpRecord struct {
	ID          string            `json:"id"`
	Code        string            `json:"code"`
	Email       string            `json:"email"`
	Purpose     OtpPurpose        `json:"purpose"`
	UserID      uint64            `json:"userId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
}

// ResetToken is the JSON value stored under reset_token:{email}:{token}.
type ResetToken struct {
	Email      string    `json:"email"`
	ResetToken string    `json:"resetToken"`
	CreatedAt  time.Time `json:"createdAt"`
}
