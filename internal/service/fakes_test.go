package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/storefront-auth/internal/model"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/utils"
)

const (
	testAccessSecret  = "access-secret-for-tests"
	testRefreshSecret = "refresh-secret-for-tests"
	testPassword      = "P@ssw0rd1"
)

// memUsers is an in-memory UserStore.  It hands out copies so callers
// cannot mutate stored rows behind its back.
type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*model.User
}

func newMemUsers() *memUsers { return &memUsers{rows: map[uint64]*model.User{}} }

func copyUser(u *model.User) *model.User {
	cp := *u
	cp.Activity = u.Activity.Clone()
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) FindByID(_ context.Context, id uint64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	m.nextID++
	u.ID = m.nextID
	m.rows[u.ID] = copyUser(u)
	return nil
}

func (m *memUsers) Update(_ context.Context, id uint64, p model.UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Apply(u)
	return nil
}

// get returns the stored row for assertions.
func (m *memUsers) get(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := m.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return u
}

// set mutates a stored row directly, e.g. to suspend an account.
func (m *memUsers) set(id uint64, fn func(u *model.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.rows[id])
}

var errMailDown = errors.New("broker unreachable")

// fakeMailer records accepted messages and can be told to fail.
type fakeMailer struct {
	mu   sync.Mutex
	sent []model.MailMessage
	fail bool
}

func (f *fakeMailer) Send(_ context.Context, msg model.MailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errMailDown
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

// lastCode returns the code of the most recent message using template.
func (f *fakeMailer) lastCode(t *testing.T, template string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Template == template {
			return f.sent[i].Data["code"]
		}
	}
	t.Fatalf("no %s message sent", template)
	return ""
}

func (f *fakeMailer) count(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Template == template {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc    *AuthService
	users  *memUsers
	mailer *fakeMailer
	kv     *repository.RedisKV
	mr     *miniredis.Miniredis
	clock  *testClock
}

func testPolicy() Policy {
	return Policy{
		OTPTTL:           15 * time.Minute,
		OTPMaxAttempts:   3,
		LoginMaxAttempts: 5,
		LockoutDuration:  5 * time.Minute,
		ResetTokenTTL:    15 * time.Minute,
		SendLimit:        3,
		SendWindow:       time.Hour,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		users:  newMemUsers(),
		mailer: &fakeMailer{},
		kv:     repository.NewRedisKV(rdb),
		mr:     mr,
		clock:  &testClock{now: time.Now().UTC().Truncate(time.Second)},
	}
	h.svc = New(Deps{Users: h.users, KV: h.kv, Mailer: h.mailer, Logger: zap.NewNop()}, Options{
		Tokens: TokenConfig{
			AccessSecret:  testAccessSecret,
			RefreshSecret: testRefreshSecret,
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
		},
		BcryptCost: 4,
		Policy:     testPolicy(),
	})
	h.svc.setClock(h.clock.Now)
	return h
}

// activeUser inserts a verified, ACTIVE account with testPassword.
func (h *harness) activeUser(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	hash, err := utils.HashPassword(testPassword, 4)
	require.NoError(t, err)
	u := &model.User{
		Email:           email,
		PasswordHash:    hash,
		FullName:        "Test User",
		Role:            role,
		Status:          model.StatusActive,
		IsEmailVerified: true,
		Activity:        model.NewActivity(),
	}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

func (h *harness) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), LoginInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	return res
}
