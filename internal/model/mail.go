package model

// Mail templates rendered by the mail worker.
const (
	TemplateEmailVerification = "email_verification"
	TemplatePasswordReset     = "password_reset"
	TemplatePasswordChanged   = "password_changed"
	TemplateWelcome           = "welcome"
	TemplateLoginVerification = "login_verification"
	TemplatePhoneVerification = "phone_verification"
)

// MailMessage is one outbound email.  Template names the body the mail
// worker renders with Data.
type MailMessage struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}
