package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

// Deps are the collaborators the auth service is built on.
type Deps struct {
	Users  UserStore
	KV     KV
	Mailer Mailer
	Logger *zap.Logger
}

// Options carries the secrets and policy knobs loaded from config.
type Options struct {
	Tokens     TokenConfig
	BcryptCost int
	Policy     Policy
}

// Policy groups the OTP, lockout, reset and throttling limits.
type Policy struct {
	OTPTTL           time.Duration
	OTPMaxAttempts   int
	LoginMaxAttempts int
	LockoutDuration  time.Duration
	ResetTokenTTL    time.Duration
	SendLimit        int
	SendWindow       time.Duration
}

// AuthService is the operation surface used by the HTTP layer.  Every
// method maps to one endpoint.
type AuthService struct {
	users      UserStore
	kv         KV
	mailer     Mailer
	log        *zap.Logger
	otp        *OTPStore
	limiter    *RateLimiter
	creds      *CredentialValidator
	tokens     *TokenIssuer
	locks      *userLocks
	policy     Policy
	bcryptCost int
	now        func() time.Time
}

func New(d Deps, o Options) *AuthService {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	locks := &userLocks{}
	return &AuthService{
		users:      d.Users,
		kv:         d.KV,
		mailer:     d.Mailer,
		log:        log,
		otp:        NewOTPStore(d.KV, d.Users, d.Mailer, log, o.Policy.OTPTTL, o.Policy.OTPMaxAttempts),
		limiter:    NewRateLimiter(d.KV, o.Policy.SendLimit, o.Policy.SendWindow),
		creds:      NewCredentialValidator(d.Users, locks, log, o.Policy.LoginMaxAttempts, o.Policy.LockoutDuration),
		tokens:     NewTokenIssuer(d.Users, locks, o.Tokens),
		locks:      locks,
		policy:     o.Policy,
		bcryptCost: o.BcryptCost,
		now:        time.Now,
	}
}

// setClock swaps the time source of the service and its components.
func (s *AuthService) setClock(now func() time.Time) {
	s.now = now
	s.otp.now = now
	s.creds.now = now
	s.tokens.now = now
}

// RegisterInput is the sign-up payload.  Only customers and sellers can
// self-register.
type RegisterInput struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,password"`
	FullName    string `json:"fullName" validate:"required,min=2,max=100"`
	Role        string `json:"role" validate:"omitempty,oneof=CUSTOMER SELLER"`
	AcceptTerms bool   `json:"acceptTerms" validate:"eq=true"`
}

// UserSummary is the public view of an account.
type UserSummary struct {
	ID              uint64       `json:"id"`
	Email           string       `json:"email"`
	FullName        string       `json:"fullName"`
	Role            model.Role   `json:"role"`
	Status          model.Status `json:"status"`
	IsEmailVerified bool         `json:"isEmailVerified"`
	LastLogin       *time.Time   `json:"lastLogin,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

func summarize(u *model.User) UserSummary {
	return UserSummary{
		ID:              u.ID,
		Email:           u.Email,
		FullName:        u.FullName,
		Role:            u.Role,
		Status:          u.Status,
		IsEmailVerified: u.IsEmailVerified,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
	}
}

// RegisterResult reports the new account and whether the verification
// code went out.  When it did not, the account stays PENDING and the client
// asks for a new code.
type RegisterResult struct {
	User             UserSummary
	VerificationSent bool
	OtpExpiresAt     *time.Time
}

// Register creates a PENDING, unverified account and emails a verification
// code.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Email = repository.NormalizeEmail(in.Email)
	if err := check(in); err != nil {
		return nil, err
	}
	email := in.Email
	if err := s.limiter.Check(ctx, OpRegister, email); err != nil {
		return nil, err
	}
	role := model.RoleCustomer
	if in.Role != "" {
		role = model.Role(in.Role)
	}
	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("register: hash: %w", err)
	}
	now := s.now().UTC()
	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		Status:       model.StatusPending,
		Activity:     model.NewActivity(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("register: %w", err)
	}
	s.log.Info("user registered", zap.Uint64("user_id", u.ID), zap.String("role", string(role)))

	res := &RegisterResult{User: summarize(u)}
	issued, err := s.otp.Issue(ctx, IssueRequest{
		Email:    email,
		Purpose:  model.PurposeEmailVerification,
		UserID:   u.ID,
		Metadata: map[string]string{"fullName": u.FullName},
	})
	if err != nil {
		s.log.Warn("verification code not sent", zap.Uint64("user_id", u.ID), zap.Error(err))
		return res, nil
	}
	res.VerificationSent = true
	res.OtpExpiresAt = &issued.ExpiresAt
	return res, nil
}

// SendEmailVerification issues a fresh EMAIL_VERIFICATION code.
func (s *AuthService) SendEmailVerification(ctx context.Context, email string) (*IssueResult, error) {
	email = repository.NormalizeEmail(email)
	if err := check(emailRequest{Email: email}); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, OpEmailVerification, email); err != nil {
		return nil, err
	}
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("send email verification: %w", err)
	}
	return s.otp.Issue(ctx, IssueRequest{
		Email:    email,
		Purpose:  model.PurposeEmailVerification,
		UserID:   u.ID,
		Metadata: map[string]string{"fullName": u.FullName},
	})
}

// VerifyEmail redeems a verification code and activates a PENDING account.
// Suspended accounts are marked verified but stay suspended.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (*UserSummary, error) {
	email = repository.NormalizeEmail(email)
	if err := check(otpRequest{Email: email, Code: code}); err != nil {
		return nil, err
	}
	found, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}
	if found.IsEmailVerified {
		return nil, ErrAlreadyVerified
	}
	if _, err := s.otp.Verify(ctx, code, email, model.PurposeEmailVerification); err != nil {
		return nil, err
	}

	u, err := s.activate(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	s.sendBestEffort(ctx, model.MailMessage{
		To:       u.Email,
		Subject:  "Welcome aboard",
		Template: model.TemplateWelcome,
		Data:     map[string]string{"fullName": u.FullName},
	})
	sum := summarize(u)
	return &sum, nil
}

func (s *AuthService) activate(ctx context.Context, id uint64) (*model.User, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}
	verified := true
	patch := model.UserPatch{IsEmailVerified: &verified}
	if u.Status == model.StatusPending {
		active := model.StatusActive
		patch.Status = &active
	}
	if err := s.users.Update(ctx, id, patch); err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}
	patch.Apply(u)
	return u, nil
}

// LoginInput carries the credentials and the client description.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
	Device   model.DeviceInfo
}

// LoginResult is a signed-in session: both tokens and the account.
type LoginResult struct {
	Access  utils.AccessToken
	Refresh utils.RefreshToken
	Device  model.DeviceSession
	User    UserSummary
}

// Login checks credentials, mints an access and a refresh token and
// records the device the refresh token was issued to.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = repository.NormalizeEmail(in.Email)
	if err := check(in); err != nil {
		return nil, err
	}
	u, err := s.creds.Validate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	var (
		access  utils.AccessToken
		refresh utils.RefreshToken
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		access, err = s.tokens.SignAccess(u)
		return err
	})
	g.Go(func() error {
		var err error
		refresh, err = s.tokens.SignRefresh(u)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("login: sign tokens: %w", err)
	}

	dev, err := s.tokens.StoreDevice(ctx, u.ID, refresh.JTI, in.Device)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	s.log.Info("user logged in", zap.Uint64("user_id", u.ID), zap.String("device", dev.Name))
	return &LoginResult{Access: access, Refresh: refresh, Device: dev, User: summarize(u)}, nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (s *AuthService) RefreshToken(ctx context.Context, raw string) (utils.AccessToken, error) {
	if strings.TrimSpace(raw) == "" {
		return utils.AccessToken{}, validationError(map[string]string{"refreshToken": "refreshToken is required"})
	}
	return s.tokens.Refresh(ctx, raw)
}

// Logout revokes the device session the refresh token belongs to.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return validationError(map[string]string{"refreshToken": "refreshToken is required"})
	}
	return s.tokens.RevokeDevice(ctx, raw)
}

// Me returns the account of an authenticated caller.
func (s *AuthService) Me(ctx context.Context, userID uint64) (*UserSummary, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	sum := summarize(u)
	return &sum, nil
}

// Devices lists the caller's active device sessions.
func (s *AuthService) Devices(ctx context.Context, userID uint64) ([]model.DeviceSession, error) {
	devs, err := s.tokens.Devices(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return devs, err
}
