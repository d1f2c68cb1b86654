package auth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/domain"
)

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "a@b.com", "Passw0rd!", domain.RoleOperator, nil)

	t.Run("no MFA returns tokens directly", func(t *testing.T) {
		res, err := env.auth.Authenticate(ctx, "a@b.com", "Passw0rd!", ClientMeta{})
		require.NoError(t, err)
		require.False(t, res.RequiresTwoFactor)
		require.NotNil(t, res.Tokens)
		require.NotEmpty(t, res.Tokens.AccessToken)
		require.NotEmpty(t, res.Tokens.RefreshToken)
		require.Equal(t, "a@b.com", res.User.Email)
	})

	t.Run("email is case and whitespace insensitive", func(t *testing.T) {
		res, err := env.auth.Authenticate(ctx, "  A@B.COM ", "Passw0rd!", ClientMeta{})
		require.NoError(t, err)
		require.NotNil(t, res.Tokens)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		_, errWrong := env.auth.Authenticate(ctx, "a@b.com", "nope", ClientMeta{})
		_, errUnknown := env.auth.Authenticate(ctx, "ghost@b.com", "Passw0rd!", ClientMeta{})
		require.Error(t, errWrong)
		require.Error(t, errUnknown)
		require.Equal(t, errWrong.Error(), errUnknown.Error())

		kind, ok := apperr.KindOf(errWrong)
		require.True(t, ok)
		require.Equal(t, apperr.Authentication, kind)
	})

	t.Run("inactive user rejected with same error", func(t *testing.T) {
		user := env.createUser(t, "inactive@b.com", "Passw0rd!", domain.RoleOperator, nil)
		require.NoError(t, env.store.Users().Deactivate(ctx, user.ID))

		_, err := env.auth.Authenticate(ctx, "inactive@b.com", "Passw0rd!", ClientMeta{})
		require.EqualError(t, err, "invalid credentials")
	})
}

func TestAuthenticateSanitizesUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	secret := "JBSWY3DPEHPK3PXP"
	env.createUser(t, "s@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
		u.TOTPSecret = &secret
	})

	res, err := env.auth.Authenticate(ctx, "s@b.com", "Passw0rd!", ClientMeta{})
	require.NoError(t, err)

	raw, err := json.Marshal(res.User)
	require.NoError(t, err)
	require.NotContains(t, string(raw), secret)
	require.NotContains(t, string(raw), "password")
	require.NotContains(t, string(raw), "otp_hash")
}

func TestAuthenticateOTPChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "otp@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
		u.MFAMethod = domain.MFAOTP
	})

	res, err := env.auth.Authenticate(ctx, "otp@b.com", "Passw0rd!", ClientMeta{})
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	require.Equal(t, domain.MFAOTP, res.TwoFactorMethod)
	require.Equal(t, user.ID, res.UserID)
	require.NotEmpty(t, res.PreAuthToken)
	require.Nil(t, res.Tokens)

	// Code was emailed and its hash stored.
	require.Len(t, env.mailer.lastOTP("otp@b.com"), 6)
	stored, err := env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.OTPHash)
	require.NotNil(t, stored.OTPExpiresAt)
}

func TestAuthenticateTOTPChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("enrolled user gets bare challenge", func(t *testing.T) {
		secret := "JBSWY3DPEHPK3PXP"
		env.createUser(t, "totp@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
			u.MFAMethod = domain.MFATOTP
			u.TOTPSecret = &secret
			u.TOTPEnabled = true
		})

		res, err := env.auth.Authenticate(ctx, "totp@b.com", "Passw0rd!", ClientMeta{})
		require.NoError(t, err)
		require.True(t, res.RequiresTwoFactor)
		require.Equal(t, domain.MFATOTP, res.TwoFactorMethod)
		require.NotEmpty(t, res.PreAuthToken)
		require.False(t, res.RequiresTOTPSetup)
		require.Nil(t, res.TOTP)
	})

	t.Run("unenrolled user gets inline setup payload", func(t *testing.T) {
		user := env.createUser(t, "fresh@b.com", "Passw0rd!", domain.RoleOperator, func(u *domain.User) {
			u.MFAMethod = domain.MFATOTP
		})

		res, err := env.auth.Authenticate(ctx, "fresh@b.com", "Passw0rd!", ClientMeta{})
		require.NoError(t, err)
		require.True(t, res.RequiresTwoFactor)
		require.True(t, res.RequiresTOTPSetup)
		require.NotNil(t, res.TOTP)
		require.NotEmpty(t, res.TOTP.Secret)
		require.NotEmpty(t, res.TOTP.QRCode)

		// Secret persisted for the verify step.
		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.TOTPSecret)
		require.Equal(t, res.TOTP.Secret, *stored.TOTPSecret)
		require.False(t, stored.TOTPEnabled)
	})
}

func TestOrganizationMethodOverridesPersonal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.createUser(t, "admin@org.com", "Passw0rd!", domain.RoleClientAdmin, nil)
	org := env.createOrg(t, "Acme Corp", domain.MFAOTP, admin.ID)

	env.createUser(t, "member@org.com", "Passw0rd!", domain.RoleClientUser, func(u *domain.User) {
		u.OrganizationID = &org.ID
		u.MFAMethod = domain.MFANone // personal setting must lose
	})

	res, err := env.auth.Authenticate(ctx, "member@org.com", "Passw0rd!", ClientMeta{})
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	require.Equal(t, domain.MFAOTP, res.TwoFactorMethod)
}

// A founding client_admin who requested TOTP must keep it at login even
// though the organization's member policy defaults to OTP.
func TestFoundingAdminKeepsRequestedTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sa := env.createUser(t, "sa@test.com", "Passw0rd!", domain.RoleSuperAdmin, nil)

	invite, err := env.invites.CreateInvite(ctx, sa, "founder@acme.com", domain.RoleClientAdmin, "Acme Widgets")
	require.NoError(t, err)

	accepted, err := env.invites.AcceptInvite(ctx, invite.Token, "Fay", "Founder", "Passw0rd!", domain.MFATOTP, ClientMeta{})
	require.NoError(t, err)
	require.True(t, accepted.RequiresTOTPSetup)
	require.NotNil(t, accepted.TOTP)

	org, err := env.store.Organizations().GetByID(ctx, *accepted.User.OrganizationID)
	require.NoError(t, err)
	require.Equal(t, domain.MFAOTP, org.MFAMethod)

	res, err := env.auth.Authenticate(ctx, "founder@acme.com", "Passw0rd!", ClientMeta{})
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	require.Equal(t, domain.MFATOTP, res.TwoFactorMethod)
	require.True(t, res.RequiresTOTPSetup)
	require.NotNil(t, res.TOTP)
	require.Equal(t, accepted.TOTP.Secret, res.TOTP.Secret)

	// The secret enrolled at acceptance completes the login.
	code, err := totp.GenerateCode(res.TOTP.Secret, time.Now())
	require.NoError(t, err)
	done, err := env.auth.VerifyTOTP(ctx, res.PreAuthToken, code, ClientMeta{})
	require.NoError(t, err)
	require.NotNil(t, done.Tokens)
}
