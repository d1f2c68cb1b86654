// Package memory implements storage.Store with in-process maps. It backs
// unit tests and local development without Postgres. Every operation takes
// the store mutex, so the conditional updates (OTP clear, rotation revoke)
// keep their at-most-one-winner semantics; WithTx serializes transactions on
// a second mutex, snapshots the maps, and restores them when fn fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/storage"
)

type Store struct {
	mu            sync.Mutex
	txMu          sync.Mutex
	users         map[uuid.UUID]*domain.User
	organizations map[uuid.UUID]*domain.Organization
	invites       map[uuid.UUID]*domain.Invite
	refreshTokens map[uuid.UUID]*domain.RefreshToken
}

func New() *Store {
	return &Store{
		users:         make(map[uuid.UUID]*domain.User),
		organizations: make(map[uuid.UUID]*domain.Organization),
		invites:       make(map[uuid.UUID]*domain.Invite),
		refreshTokens: make(map[uuid.UUID]*domain.RefreshToken),
	}
}

func (s *Store) Users() storage.Users                 { return &usersRepo{s} }
func (s *Store) Organizations() storage.Organizations { return &organizationsRepo{s} }
func (s *Store) Invites() storage.Invites             { return &invitesRepo{s} }
func (s *Store) RefreshTokens() storage.RefreshTokens { return &refreshTokensRepo{s} }

// WithTx runs fn against the store and rolls the maps back to a snapshot if
// fn fails. Transactions are serialized on txMu so a failing transaction can
// never restore over changes a concurrent one committed in between.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	users, orgs, invites, tokens := s.snapshot()
	if err := fn(s); err != nil {
		s.mu.Lock()
		s.users, s.organizations, s.invites, s.refreshTokens = users, orgs, invites, tokens
		s.mu.Unlock()
		return err
	}
	return nil
}

// snapshot deep-copies the maps so WithTx can restore pre-transaction state
// on failure. Record structs are copied by value; the pointer fields inside
// are never mutated in place by the repos, only replaced.
func (s *Store) snapshot() (map[uuid.UUID]*domain.User, map[uuid.UUID]*domain.Organization, map[uuid.UUID]*domain.Invite, map[uuid.UUID]*domain.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make(map[uuid.UUID]*domain.User, len(s.users))
	for id, u := range s.users {
		c := *u
		users[id] = &c
	}
	orgs := make(map[uuid.UUID]*domain.Organization, len(s.organizations))
	for id, o := range s.organizations {
		c := *o
		orgs[id] = &c
	}
	invites := make(map[uuid.UUID]*domain.Invite, len(s.invites))
	for id, i := range s.invites {
		c := *i
		invites[id] = &c
	}
	tokens := make(map[uuid.UUID]*domain.RefreshToken, len(s.refreshTokens))
	for id, t := range s.refreshTokens {
		c := *t
		tokens[id] = &c
	}
	return users, orgs, invites, tokens
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

// userCopy detaches the stored record so callers cannot mutate state behind
// the mutex. The organization join is resolved here, like the SQL driver's
// LEFT JOIN.
func (s *Store) userCopy(u *domain.User) *domain.User {
	c := *u
	c.TOTPSecret = copyPtr(u.TOTPSecret)
	c.OTPHash = copyPtr(u.OTPHash)
	c.OTPExpiresAt = copyPtr(u.OTPExpiresAt)
	c.OrganizationID = copyPtr(u.OrganizationID)
	c.InvitedBy = copyPtr(u.InvitedBy)
	if u.OrganizationID != nil {
		if org, ok := s.organizations[*u.OrganizationID]; ok {
			oc := *org
			c.Organization = &oc
		}
	}
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type usersRepo struct{ s *Store }

func (r *usersRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.s.userCopy(u), nil
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return r.s.userCopy(u), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *usersRepo) Create(ctx context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return storage.ErrConflict
		}
	}
	c := *u
	r.s.users[u.ID] = &c
	return nil
}

func (r *usersRepo) SetPendingOTP(ctx context.Context, userID uuid.UUID, otpHash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.OTPHash = &otpHash
	u.OTPExpiresAt = &expiresAt
	u.UpdatedAt = time.Now()
	return nil
}

func (r *usersRepo) ClearPendingOTP(ctx context.Context, userID uuid.UUID, expectHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if u.OTPHash == nil || *u.OTPHash != expectHash {
		return false, nil
	}
	u.OTPHash = nil
	u.OTPExpiresAt = nil
	u.UpdatedAt = time.Now()
	return true, nil
}

func (r *usersRepo) SetTOTPSecret(ctx context.Context, userID uuid.UUID, secret string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.TOTPSecret = &secret
	u.TOTPEnabled = false
	u.UpdatedAt = time.Now()
	return nil
}

func (r *usersRepo) EnableTOTP(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.TOTPEnabled = true
	u.UpdatedAt = time.Now()
	return nil
}

func (r *usersRepo) SetMFAMethod(ctx context.Context, userID uuid.UUID, method domain.MFAMethod, totpSecret *string, totpEnabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.MFAMethod = method
	u.TOTPSecret = copyPtr(totpSecret)
	u.TOTPEnabled = totpEnabled
	u.UpdatedAt = time.Now()
	return nil
}

func (r *usersRepo) SetOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.OrganizationID = &orgID
	u.UpdatedAt = time.Now()
	return nil
}

func (r *usersRepo) Deactivate(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Active = false
	u.UpdatedAt = time.Now()
	return nil
}

type organizationsRepo struct{ s *Store }

func (r *organizationsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.organizations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (r *organizationsRepo) Create(ctx context.Context, o *domain.Organization) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.organizations {
		if existing.Slug == o.Slug {
			return storage.ErrConflict
		}
	}
	c := *o
	r.s.organizations[o.ID] = &c
	return nil
}

func (r *organizationsRepo) SetMFAMethod(ctx context.Context, orgID uuid.UUID, method domain.MFAMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.organizations[orgID]
	if !ok {
		return storage.ErrNotFound
	}
	o.MFAMethod = method
	o.UpdatedAt = time.Now()
	return nil
}

type invitesRepo struct{ s *Store }

func (r *invitesRepo) annotate(i *domain.Invite) *domain.Invite {
	c := *i
	c.OrganizationID = copyPtr(i.OrganizationID)
	c.AcceptedAt = copyPtr(i.AcceptedAt)
	c.AcceptedBy = copyPtr(i.AcceptedBy)
	if inviter, ok := r.s.users[i.InvitedBy]; ok {
		c.InviterName = inviter.FullName()
		c.InviterEmail = inviter.Email
	}
	if i.AcceptedBy != nil {
		if acc, ok := r.s.users[*i.AcceptedBy]; ok {
			c.AcceptedByName = acc.FullName()
			c.AcceptedByEmail = acc.Email
		}
	}
	return &c
}

func (r *invitesRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.invites[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.annotate(i), nil
}

func (r *invitesRepo) GetByToken(ctx context.Context, token string) (*domain.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.invites {
		if i.Token == token {
			return r.annotate(i), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *invitesRepo) GetPendingByEmail(ctx context.Context, email string) (*domain.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *domain.Invite
	for _, i := range r.s.invites {
		if i.Email == email && i.Status == domain.InvitePending {
			if latest == nil || i.CreatedAt.After(latest.CreatedAt) {
				latest = i
			}
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return r.annotate(latest), nil
}

func (r *invitesRepo) Create(ctx context.Context, i *domain.Invite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.invites {
		if existing.Token == i.Token {
			return storage.ErrConflict
		}
	}
	c := *i
	r.s.invites[i.ID] = &c
	return nil
}

func (r *invitesRepo) ListByInviter(ctx context.Context, inviterID uuid.UUID, status *domain.InviteStatus) ([]domain.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Invite
	for _, i := range r.s.invites {
		if i.InvitedBy != inviterID {
			continue
		}
		if status != nil && i.Status != *status {
			continue
		}
		out = append(out, *r.annotate(i))
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (r *invitesRepo) MarkAccepted(ctx context.Context, id, acceptedBy uuid.UUID, at time.Time) error {
	return r.transition(id, domain.InvitePending, func(i *domain.Invite) {
		i.Status = domain.InviteAccepted
		i.AcceptedBy = &acceptedBy
		i.AcceptedAt = &at
	})
}

func (r *invitesRepo) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, domain.InvitePending, func(i *domain.Invite) {
		i.Status = domain.InviteExpired
	})
}

func (r *invitesRepo) MarkRevoked(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, domain.InvitePending, func(i *domain.Invite) {
		i.Status = domain.InviteRevoked
	})
}

func (r *invitesRepo) Refresh(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.invites[id]
	if !ok {
		return storage.ErrNotFound
	}
	if i.Status != domain.InvitePending && i.Status != domain.InviteExpired {
		return storage.ErrNotFound
	}
	i.Status = domain.InvitePending
	i.Token = token
	i.ExpiresAt = expiresAt
	i.UpdatedAt = time.Now()
	return nil
}

func (r *invitesRepo) transition(id uuid.UUID, from domain.InviteStatus, apply func(*domain.Invite)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.invites[id]
	if !ok || i.Status != from {
		return storage.ErrNotFound
	}
	apply(i)
	i.UpdatedAt = time.Now()
	return nil
}

func (r *invitesRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, i := range r.s.invites {
		if i.Status == domain.InvitePending && i.ExpiresAt.Before(now) {
			i.Status = domain.InviteExpired
			i.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

type refreshTokensRepo struct{ s *Store }

func (r *refreshTokensRepo) Create(ctx context.Context, t *domain.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.refreshTokens {
		if existing.TokenHash == t.TokenHash {
			return storage.ErrConflict
		}
	}
	c := *t
	r.s.refreshTokens[t.ID] = &c
	return nil
}

func (r *refreshTokensRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.refreshTokens {
		if t.TokenHash == tokenHash {
			c := *t
			c.ReplacedBy = copyPtr(t.ReplacedBy)
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *refreshTokensRepo) RevokeForRotation(ctx context.Context, id, successor uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refreshTokens[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	t.ReplacedBy = &successor
	return true, nil
}

func (r *refreshTokensRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.refreshTokens {
		if t.TokenHash == tokenHash {
			t.Revoked = true
			return nil
		}
	}
	return nil
}

func (r *refreshTokensRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.refreshTokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.refreshTokens {
		if t.ExpiresAt.Before(now) {
			delete(r.s.refreshTokens, id)
		}
	}
	return nil
}
