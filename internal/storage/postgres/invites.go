package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/storage"
)

type invitesRepo struct {
	db dbtx
}

// inviteColumns joins the inviter and, when present, the accepting user so
// list and detail projections come back annotated in one query.
const inviteColumns = `
	i.id, i.email, i.role, i.invited_by, i.organization_id, i.organization_name,
	i.token, i.status, i.expires_at, i.accepted_at, i.accepted_by,
	i.created_at, i.updated_at,
	concat_ws(' ', nullif(inv.first_name, ''), nullif(inv.last_name, '')), inv.email,
	coalesce(concat_ws(' ', nullif(acc.first_name, ''), nullif(acc.last_name, '')), ''),
	coalesce(acc.email, '')`

const inviteJoin = `
	FROM invites i
	JOIN users inv ON inv.id = i.invited_by
	LEFT JOIN users acc ON acc.id = i.accepted_by`

func scanInvite(row interface{ Scan(dest ...any) error }) (*domain.Invite, error) {
	var i domain.Invite
	err := row.Scan(
		&i.ID, &i.Email, &i.Role, &i.InvitedBy, &i.OrganizationID, &i.OrganizationName,
		&i.Token, &i.Status, &i.ExpiresAt, &i.AcceptedAt, &i.AcceptedBy,
		&i.CreatedAt, &i.UpdatedAt,
		&i.InviterName, &i.InviterEmail,
		&i.AcceptedByName, &i.AcceptedByEmail,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &i, nil
}

func (r *invitesRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invite, error) {
	row := r.db.QueryRow(ctx, `SELECT`+inviteColumns+inviteJoin+` WHERE i.id = $1`, id)
	return scanInvite(row)
}

func (r *invitesRepo) GetByToken(ctx context.Context, token string) (*domain.Invite, error) {
	row := r.db.QueryRow(ctx, `SELECT`+inviteColumns+inviteJoin+` WHERE i.token = $1`, token)
	return scanInvite(row)
}

func (r *invitesRepo) GetPendingByEmail(ctx context.Context, email string) (*domain.Invite, error) {
	row := r.db.QueryRow(ctx, `SELECT`+inviteColumns+inviteJoin+`
		WHERE i.email = $1 AND i.status = 'pending'
		ORDER BY i.created_at DESC
		LIMIT 1`, email)
	return scanInvite(row)
}

func (r *invitesRepo) Create(ctx context.Context, i *domain.Invite) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO invites (
			id, email, role, invited_by, organization_id, organization_name,
			token, status, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		i.ID, i.Email, i.Role, i.InvitedBy, i.OrganizationID, i.OrganizationName,
		i.Token, i.Status, i.ExpiresAt, i.CreatedAt, i.UpdatedAt,
	)
	return mapErr(err)
}

func (r *invitesRepo) ListByInviter(ctx context.Context, inviterID uuid.UUID, status *domain.InviteStatus) ([]domain.Invite, error) {
	query := `SELECT` + inviteColumns + inviteJoin + ` WHERE i.invited_by = $1`
	args := []any{inviterID}
	if status != nil {
		query += ` AND i.status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY i.created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, mapErr(rows.Err())
}

func (r *invitesRepo) MarkAccepted(ctx context.Context, id, acceptedBy uuid.UUID, at time.Time) error {
	return r.setStatus(ctx, `
		UPDATE invites
		SET status = 'accepted', accepted_by = $2, accepted_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, acceptedBy, at)
}

func (r *invitesRepo) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, `
		UPDATE invites
		SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id)
}

func (r *invitesRepo) MarkRevoked(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, `
		UPDATE invites
		SET status = 'revoked', updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id)
}

func (r *invitesRepo) Refresh(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	return r.setStatus(ctx, `
		UPDATE invites
		SET status = 'pending', token = $2, expires_at = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'expired')`,
		id, token, expiresAt)
}

// setStatus enforces the monotonic transition guards in SQL: the WHERE
// clauses above only move out of the states the state machine permits.
func (r *invitesRepo) setStatus(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *invitesRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE invites
		SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
