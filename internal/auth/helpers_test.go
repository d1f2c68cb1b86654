package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/identity/internal/audit"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/events"
	"github.com/quorumlabs/identity/internal/storage/memory"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  string
)

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return testKeyPEM
}

// captureMailer records outgoing mail so tests can read OTP codes and invite
// URLs without a real SMTP hop.
type captureMailer struct {
	mu       sync.Mutex
	otpCodes map[string]string // email -> last code
	invites  map[string]string // email -> last invite URL
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		otpCodes: make(map[string]string),
		invites:  make(map[string]string),
	}
}

func (m *captureMailer) SendInvite(_ context.Context, to, inviteURL, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[to] = inviteURL
	return nil
}

func (m *captureMailer) SendOTPCode(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otpCodes[to] = code
	return nil
}

func (m *captureMailer) lastOTP(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.otpCodes[email]
}

type testEnv struct {
	store   *memory.Store
	auth    *AuthService
	invites *InviteService
	tokens  *TokenService
	mailer  *captureMailer
	hasher  PasswordHasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	provider, err := NewJWTProvider(testPrivateKeyPEM(t), "https://identity.test")
	require.NoError(t, err)

	hasher := NewBcryptHasher()
	twoFactor := NewTwoFactorManager("identity-test")
	tokens := NewTokenService(store, provider)
	mailer := newCaptureMailer()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	authSvc := NewAuthService(store, hasher, twoFactor, tokens, mailer, events.NopPublisher{}, audit.Nop{}, logger)
	inviteSvc := NewInviteService(store, hasher, twoFactor, tokens, mailer, events.NopPublisher{}, audit.Nop{}, logger, "https://app.identity.test")

	return &testEnv{
		store:   store,
		auth:    authSvc,
		invites: inviteSvc,
		tokens:  tokens,
		mailer:  mailer,
		hasher:  hasher,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// createUser seeds an active user with a hashed password.
func (e *testEnv) createUser(t *testing.T, email, password string, role domain.Role, mutate func(*domain.User)) *domain.User {
	t.Helper()

	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, e.store.Users().Create(context.Background(), user))
	return user
}

// createOrg seeds an organization with the given MFA method.
func (e *testEnv) createOrg(t *testing.T, name string, method domain.MFAMethod, adminID uuid.UUID) *domain.Organization {
	t.Helper()

	now := time.Now().UTC()
	org := &domain.Organization{
		ID:          uuid.New(),
		Name:        name,
		Slug:        slugify(name),
		MFAMethod:   method,
		AdminUserID: adminID,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.store.Organizations().Create(context.Background(), org))
	return org
}
