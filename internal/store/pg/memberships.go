package pg

import (
	"context"
	"database/sql"
	"time"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/tenancy"
)

const membershipColumns = `id, organization_id, user_id, role, is_primary, invited_by,
	invitation_token, invitation_accepted_at, perm_version, created_at, updated_at`

func (q *queries) InsertMembership(ctx context.Context, m *tenancy.Membership) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var accepted sql.NullTime
	if m.InvitationAcceptedAt != nil {
		accepted = sql.NullTime{Time: *m.InvitationAcceptedAt, Valid: true}
	}
	err := q.db.QueryRowContext(ctx, `
		insert into memberships (id, organization_id, user_id, role, is_primary, invited_by,
			invitation_token, invitation_accepted_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		returning updated_at
	`, m.ID, m.OrganizationID, m.UserID, string(m.Role), m.IsPrimary, nullIfEmpty(m.InvitedBy),
		nullIfEmpty(m.InvitationTokenHash), accepted, m.CreatedAt,
	).Scan(&m.UpdatedAt)
	return mapError(err)
}

func (q *queries) GetMembership(ctx context.Context, id string) (tenancy.Membership, error) {
	return scanMembership(q.db.QueryRowContext(ctx, `select `+membershipColumns+` from memberships where id = $1`, id))
}

func (q *queries) LockMembership(ctx context.Context, id string) (tenancy.Membership, error) {
	return scanMembership(q.db.QueryRowContext(ctx, `select `+membershipColumns+` from memberships where id = $1 for update`, id))
}

func (q *queries) FindMembership(ctx context.Context, organizationID, userID string) (tenancy.Membership, error) {
	return scanMembership(q.db.QueryRowContext(ctx, `
		select `+membershipColumns+` from memberships
		where organization_id = $1 and user_id = $2
	`, organizationID, userID))
}

func (q *queries) FindMembershipByToken(ctx context.Context, tokenHash string) (tenancy.Membership, error) {
	return scanMembership(q.db.QueryRowContext(ctx, `
		select `+membershipColumns+` from memberships where invitation_token = $1
	`, tokenHash))
}

func (q *queries) ListMemberships(ctx context.Context, organizationID string) ([]tenancy.Membership, error) {
	return q.listMemberships(ctx, `
		select `+membershipColumns+` from memberships
		where organization_id = $1
		order by id
	`, organizationID)
}

func (q *queries) ListUserMemberships(ctx context.Context, userID string) ([]tenancy.Membership, error) {
	return q.listMemberships(ctx, `
		select `+membershipColumns+` from memberships
		where user_id = $1
		order by id
	`, userID)
}

func (q *queries) listMemberships(ctx context.Context, query string, arg string) ([]tenancy.Membership, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenancy.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountOwners locks the accepted owner rows so concurrent demotions serialize.
func (q *queries) CountOwners(ctx context.Context, organizationID string) (int, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id from memberships
		where organization_id = $1 and role = 'owner' and invitation_accepted_at is not null
		for update
	`, organizationID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func (q *queries) UpdateMembershipRole(ctx context.Context, id string, role tenancy.Role) error {
	return expectOne(q.db.ExecContext(ctx, `
		update memberships
		set role = $2, perm_version = perm_version + 1, updated_at = now()
		where id = $1
	`, id, string(role)))
}

func (q *queries) MarkInvitationAccepted(ctx context.Context, id string, at time.Time) error {
	return expectOne(q.db.ExecContext(ctx, `
		update memberships set invitation_accepted_at = $2, updated_at = $2
		where id = $1 and invitation_accepted_at is null
	`, id, at.UTC()))
}

func (q *queries) RefreshInvitation(ctx context.Context, m tenancy.Membership, at time.Time) error {
	return expectOne(q.db.ExecContext(ctx, `
		update memberships
		set invitation_token = $2, role = $3, invited_by = $4, created_at = $5, updated_at = $5,
			perm_version = perm_version + case when role = $3 then 0 else 1 end
		where id = $1 and invitation_accepted_at is null
	`, m.ID, nullIfEmpty(m.InvitationTokenHash), string(m.Role), nullIfEmpty(m.InvitedBy), at.UTC()))
}

func (q *queries) SetPrimaryMembership(ctx context.Context, userID, membershipID string) error {
	if _, err := q.db.ExecContext(ctx, `
		update memberships set is_primary = false, updated_at = now()
		where user_id = $1 and id <> $2 and is_primary
	`, userID, membershipID); err != nil {
		return mapError(err)
	}
	return expectOne(q.db.ExecContext(ctx, `
		update memberships set is_primary = true, updated_at = now()
		where id = $1 and user_id = $2
	`, membershipID, userID))
}

// DeleteMembership relies on the user_permissions foreign key cascade.
func (q *queries) DeleteMembership(ctx context.Context, id string) error {
	return expectOne(q.db.ExecContext(ctx, `delete from memberships where id = $1`, id))
}

func scanMembership(row rowScanner) (tenancy.Membership, error) {
	var (
		m                tenancy.Membership
		role             string
		invitedBy, token sql.NullString
		accepted         sql.NullTime
	)
	err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &role, &m.IsPrimary, &invitedBy,
		&token, &accepted, &m.PermVersion, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return tenancy.Membership{}, mapError(err)
	}
	m.Role = tenancy.Role(role)
	m.InvitedBy = invitedBy.String
	m.InvitationTokenHash = token.String
	if accepted.Valid {
		t := accepted.Time
		m.InvitationAcceptedAt = &t
	}
	return m, nil
}
