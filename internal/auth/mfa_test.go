package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/domain"
)

func requireKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok, "expected an application error, got %v", err)
	require.Equal(t, want, kind)
}

func TestVerifyOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "otp@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
		u.MFAMethod = domain.MFAOTP
	})

	login := func(t *testing.T) (string, string) {
		t.Helper()
		res, err := env.auth.Authenticate(ctx, "otp@b.com", "Passw0rd!", ClientMeta{})
		require.NoError(t, err)
		require.NotEmpty(t, res.PreAuthToken)
		return res.PreAuthToken, env.mailer.lastOTP("otp@b.com")
	}

	t.Run("garbage pre-auth token", func(t *testing.T) {
		_, err := env.auth.VerifyOTP(ctx, "not-a-token", "123456", ClientMeta{})
		requireKind(t, err, apperr.Authentication)
	})

	t.Run("pre-auth token for unknown user", func(t *testing.T) {
		preAuth, err := env.tokens.IssuePreAuth(uuid.New())
		require.NoError(t, err)
		_, err = env.auth.VerifyOTP(ctx, preAuth, "123456", ClientMeta{})
		requireKind(t, err, apperr.NotFound)
	})

	t.Run("access token cannot stand in for a pre-auth token", func(t *testing.T) {
		pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
		require.NoError(t, err)
		_, err = env.auth.VerifyOTP(ctx, pair.AccessToken, "123456", ClientMeta{})
		requireKind(t, err, apperr.Authentication)
	})

	t.Run("no pending OTP", func(t *testing.T) {
		preAuth, err := env.tokens.IssuePreAuth(user.ID)
		require.NoError(t, err)
		_, err = env.auth.VerifyOTP(ctx, preAuth, "123456", ClientMeta{})
		requireKind(t, err, apperr.Validation)
	})

	t.Run("wrong code", func(t *testing.T) {
		preAuth, code := login(t)
		wrong := "000000"
		if code == wrong {
			wrong = "000001"
		}
		_, err := env.auth.VerifyOTP(ctx, preAuth, wrong, ClientMeta{})
		requireKind(t, err, apperr.Validation)
		require.Contains(t, err.Error(), "Invalid OTP")
	})

	t.Run("correct code returns tokens and is single-use", func(t *testing.T) {
		preAuth, code := login(t)

		res, err := env.auth.VerifyOTP(ctx, preAuth, code, ClientMeta{})
		require.NoError(t, err)
		require.NotNil(t, res.Tokens)
		require.Equal(t, user.ID, res.User.ID)

		// Pending fields cleared, so the same code cannot replay.
		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.Nil(t, stored.OTPHash)
		require.Nil(t, stored.OTPExpiresAt)

		_, err = env.auth.VerifyOTP(ctx, preAuth, code, ClientMeta{})
		requireKind(t, err, apperr.Validation)
		require.Contains(t, err.Error(), "no OTP found")
	})

	t.Run("expired code is rejected and cleared", func(t *testing.T) {
		preAuth, code := login(t)
		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		// Force the stored pair into the past.
		require.NoError(t, env.store.Users().SetPendingOTP(ctx, user.ID, *stored.OTPHash, time.Now().Add(-time.Minute)))

		_, err = env.auth.VerifyOTP(ctx, preAuth, code, ClientMeta{})
		requireKind(t, err, apperr.Validation)
		require.Contains(t, err.Error(), "expired")

		stored, err = env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.Nil(t, stored.OTPHash)
	})

	t.Run("concurrent redemptions produce one winner", func(t *testing.T) {
		preAuth, code := login(t)

		const attempts = 8
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.auth.VerifyOTP(ctx, preAuth, code, ClientMeta{})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			requireKind(t, err, apperr.Validation)
		}
		require.Equal(t, 1, wins)
	})
}

func TestVerifyTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	preAuthFor := func(t *testing.T, userID uuid.UUID) string {
		t.Helper()
		preAuth, err := env.tokens.IssuePreAuth(userID)
		require.NoError(t, err)
		return preAuth
	}

	t.Run("garbage pre-auth token", func(t *testing.T) {
		_, err := env.auth.VerifyTOTP(ctx, "not-a-token", "123456", ClientMeta{})
		requireKind(t, err, apperr.Authentication)
	})

	t.Run("no secret", func(t *testing.T) {
		user := env.createUser(t, "bare@b.com", "Passw0rd!", domain.RoleOperator, nil)
		_, err := env.auth.VerifyTOTP(ctx, preAuthFor(t, user.ID), "123456", ClientMeta{})
		requireKind(t, err, apperr.Validation)
	})

	t.Run("first successful verify completes enrollment", func(t *testing.T) {
		user := env.createUser(t, "enroll@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
			u.MFAMethod = domain.MFATOTP
		})
		setup, err := env.auth.SetupTOTP(ctx, user.ID)
		require.NoError(t, err)

		code, err := totp.GenerateCode(setup.Secret, time.Now())
		require.NoError(t, err)

		res, err := env.auth.VerifyTOTP(ctx, preAuthFor(t, user.ID), code, ClientMeta{})
		require.NoError(t, err)
		require.NotNil(t, res.Tokens)

		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, stored.TOTPEnabled)
	})

	t.Run("invalid code", func(t *testing.T) {
		user := env.createUser(t, "invalid@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
			u.MFAMethod = domain.MFATOTP
		})
		_, err := env.auth.SetupTOTP(ctx, user.ID)
		require.NoError(t, err)

		_, err = env.auth.VerifyTOTP(ctx, preAuthFor(t, user.ID), "000000", ClientMeta{})
		requireKind(t, err, apperr.Validation)
	})
}

func TestConfirmTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "confirm@b.com", "Passw0rd!", domain.RoleOperator, nil)

	t.Run("not initialized", func(t *testing.T) {
		err := env.auth.ConfirmTOTP(ctx, user.ID, "123456")
		requireKind(t, err, apperr.Validation)
	})

	t.Run("confirm flips enabled", func(t *testing.T) {
		setup, err := env.auth.SetupTOTP(ctx, user.ID)
		require.NoError(t, err)

		code, err := totp.GenerateCode(setup.Secret, time.Now())
		require.NoError(t, err)
		require.NoError(t, env.auth.ConfirmTOTP(ctx, user.ID, code))

		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, stored.TOTPEnabled)
	})
}

func TestChangeMFAMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("client_user is always rejected", func(t *testing.T) {
		admin := env.createUser(t, "admin@org.com", "Passw0rd!", domain.RoleClientAdmin, nil)
		org := env.createOrg(t, "Acme", domain.MFAOTP, admin.ID)
		member := env.createUser(t, "member@org.com", "Passw0rd!", domain.RoleClientUser, func(u *domain.User) {
			u.OrganizationID = &org.ID
		})

		for _, method := range []domain.MFAMethod{domain.MFANone, domain.MFAOTP, domain.MFATOTP} {
			_, err := env.auth.ChangeMFAMethod(ctx, member.ID, method)
			requireKind(t, err, apperr.Authorization)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		user := env.createUser(t, "op@b.com", "Passw0rd!", domain.RoleOperator, nil)
		_, err := env.auth.ChangeMFAMethod(ctx, user.ID, domain.MFAMethod("sms"))
		requireKind(t, err, apperr.Validation)
	})

	t.Run("switch to totp requires re-confirmation", func(t *testing.T) {
		user := env.createUser(t, "switch@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
			u.MFAMethod = domain.MFAOTP
		})

		res, err := env.auth.ChangeMFAMethod(ctx, user.ID, domain.MFATOTP)
		require.NoError(t, err)
		require.True(t, res.RequiresTOTPConfirmation)
		require.NotNil(t, res.TOTPSetup)

		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.Equal(t, domain.MFATOTP, stored.MFAMethod)
		require.NotNil(t, stored.TOTPSecret)
		require.False(t, stored.TOTPEnabled)
	})

	t.Run("switch to otp clears the totp secret", func(t *testing.T) {
		secret := "JBSWY3DPEHPK3PXP"
		user := env.createUser(t, "back@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
			u.MFAMethod = domain.MFATOTP
			u.TOTPSecret = &secret
			u.TOTPEnabled = true
		})

		res, err := env.auth.ChangeMFAMethod(ctx, user.ID, domain.MFAOTP)
		require.NoError(t, err)
		require.False(t, res.RequiresTOTPConfirmation)

		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.Equal(t, domain.MFAOTP, stored.MFAMethod)
		require.Nil(t, stored.TOTPSecret)
		require.False(t, stored.TOTPEnabled)
	})
}

func TestChangeOrganizationMFAMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.createUser(t, "orgadmin@org.com", "Passw0rd!", domain.RoleClientAdmin, nil)
	org := env.createOrg(t, "Quorum", domain.MFAOTP, admin.ID)
	require.NoError(t, env.store.Users().SetOrganization(ctx, admin.ID, org.ID))
	member := env.createUser(t, "orgmember@org.com", "Passw0rd!", domain.RoleClientUser, func(u *domain.User) {
		u.OrganizationID = &org.ID
	})

	t.Run("operator is rejected", func(t *testing.T) {
		op := env.createUser(t, "op@quorum.com", "Passw0rd!", domain.RoleOperator, nil)
		_, err := env.auth.ChangeOrganizationMFAMethod(ctx, op.ID, domain.MFATOTP)
		requireKind(t, err, apperr.Authorization)
	})

	t.Run("member is rejected", func(t *testing.T) {
		_, err := env.auth.ChangeOrganizationMFAMethod(ctx, member.ID, domain.MFATOTP)
		requireKind(t, err, apperr.Authorization)
	})

	t.Run("admin without an organization is rejected", func(t *testing.T) {
		stray := env.createUser(t, "stray@quorum.com", "Passw0rd!", domain.RoleClientAdmin, nil)
		_, err := env.auth.ChangeOrganizationMFAMethod(ctx, stray.ID, domain.MFATOTP)
		requireKind(t, err, apperr.Authorization)
	})

	t.Run("organization always keeps a concrete method", func(t *testing.T) {
		_, err := env.auth.ChangeOrganizationMFAMethod(ctx, admin.ID, domain.MFANone)
		requireKind(t, err, apperr.Validation)
	})

	t.Run("admin switches the member policy", func(t *testing.T) {
		updated, err := env.auth.ChangeOrganizationMFAMethod(ctx, admin.ID, domain.MFATOTP)
		require.NoError(t, err)
		require.Equal(t, domain.MFATOTP, updated.MFAMethod)

		// Members now get a TOTP challenge at login.
		res, err := env.auth.Authenticate(ctx, "orgmember@org.com", "Passw0rd!", ClientMeta{})
		require.NoError(t, err)
		require.True(t, res.RequiresTwoFactor)
		require.Equal(t, domain.MFATOTP, res.TwoFactorMethod)
	})
}
