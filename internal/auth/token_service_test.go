package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/domain"
)

func TestIssuePair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "issue@test.com", "Passw0rd!", domain.RoleOperator, nil)

	pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{UserAgent: "go-test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	// Stored hashed, not raw.
	_, err = env.store.RefreshTokens().GetByHash(ctx, pair.RefreshToken)
	require.Error(t, err)
	stored, err := env.store.RefreshTokens().GetByHash(ctx, hashToken(pair.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, user.ID, stored.UserID)
	require.False(t, stored.Revoked)
}

func TestRotate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "rotate@test.com", "Passw0rd!", domain.RoleOperator, nil)

	pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)

	t.Run("first rotation succeeds", func(t *testing.T) {
		next, err := env.tokens.Rotate(ctx, pair.RefreshToken, ClientMeta{})
		require.NoError(t, err)
		require.NotEmpty(t, next.AccessToken)
		require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

		old, err := env.store.RefreshTokens().GetByHash(ctx, hashToken(pair.RefreshToken))
		require.NoError(t, err)
		require.True(t, old.Revoked)
		require.NotNil(t, old.ReplacedBy)
	})

	t.Run("replay fails with authentication error", func(t *testing.T) {
		_, err := env.tokens.Rotate(ctx, pair.RefreshToken, ClientMeta{})
		require.Error(t, err)
		kind, ok := apperr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, apperr.Authentication, kind)
	})

	t.Run("unknown token fails", func(t *testing.T) {
		_, err := env.tokens.Rotate(ctx, "not-a-token", ClientMeta{})
		kind, ok := apperr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, apperr.Authentication, kind)
	})
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "race@test.com", "Passw0rd!", domain.RoleOperator, nil)

	pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.tokens.Rotate(ctx, pair.RefreshToken, ClientMeta{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		kind, ok := apperr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, apperr.Authentication, kind)
	}
	require.Equal(t, 1, wins)

	old, err := env.store.RefreshTokens().GetByHash(ctx, hashToken(pair.RefreshToken))
	require.NoError(t, err)
	require.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
}

func TestPreAuthTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "pre@test.com", "Passw0rd!", domain.RoleOperator, nil)

	preAuth, err := env.tokens.IssuePreAuth(user.ID)
	require.NoError(t, err)

	got, err := env.tokens.ValidatePreAuth(preAuth)
	require.NoError(t, err)
	require.Equal(t, user.ID, got)

	// An access token carries a different scope and must not pass.
	pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)
	_, err = env.tokens.ValidatePreAuth(pair.AccessToken)
	requireKind(t, err, apperr.Authentication)

	_, err = env.tokens.ValidatePreAuth("not-a-token")
	requireKind(t, err, apperr.Authentication)
}

func TestRotateInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "gone@test.com", "Passw0rd!", domain.RoleOperator, nil)

	pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, env.store.Users().Deactivate(ctx, user.ID))

	_, err = env.tokens.Rotate(ctx, pair.RefreshToken, ClientMeta{})
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.Authentication, kind)
}

func TestRevokeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "revoke@test.com", "Passw0rd!", domain.RoleOperator, nil)

	pair, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, env.tokens.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, env.tokens.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, env.tokens.Revoke(ctx, "never-issued"))

	_, err = env.tokens.Rotate(ctx, pair.RefreshToken, ClientMeta{})
	require.Error(t, err)
}

func TestRevokeAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "all@test.com", "Passw0rd!", domain.RoleOperator, nil)

	a, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)
	b, err := env.tokens.IssuePair(ctx, user, ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, env.tokens.RevokeAll(ctx, user.ID))

	_, err = env.tokens.Rotate(ctx, a.RefreshToken, ClientMeta{})
	require.Error(t, err)
	_, err = env.tokens.Rotate(ctx, b.RefreshToken, ClientMeta{})
	require.Error(t, err)
}
