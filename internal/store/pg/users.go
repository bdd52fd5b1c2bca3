package pg

import (
	"context"
	"database/sql"
	"strings"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/tenancy"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_verified, two_factor_enabled,
	is_active, default_organization_id, last_login_at, created_at, updated_at`

func (q *queries) InsertUser(ctx context.Context, u *tenancy.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(u.Email)
	err := q.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, first_name, last_name, is_verified,
			two_factor_enabled, is_active, default_organization_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, u.ID, u.Email, nullIfEmpty(u.PasswordHash), u.FirstName, u.LastName, u.IsVerified,
		u.TwoFactorEnabled, u.IsActive, nullIfEmpty(u.DefaultOrganizationID),
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapError(err)
}

func (q *queries) GetUser(ctx context.Context, id string) (tenancy.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (tenancy.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, strings.ToLower(email)))
}

func (q *queries) UpdateUser(ctx context.Context, u tenancy.User) error {
	var lastLogin sql.NullTime
	if u.LastLoginAt != nil {
		lastLogin = sql.NullTime{Time: *u.LastLoginAt, Valid: true}
	}
	return expectOne(q.db.ExecContext(ctx, `
		update users
		set email = $2, password_hash = $3, first_name = $4, last_name = $5, is_verified = $6,
			two_factor_enabled = $7, is_active = $8, default_organization_id = $9,
			last_login_at = $10, updated_at = now()
		where id = $1
	`, u.ID, strings.ToLower(u.Email), nullIfEmpty(u.PasswordHash), u.FirstName, u.LastName, u.IsVerified,
		u.TwoFactorEnabled, u.IsActive, nullIfEmpty(u.DefaultOrganizationID), lastLogin))
}

func scanUser(row rowScanner) (tenancy.User, error) {
	var (
		u         tenancy.User
		hash, org sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &hash, &u.FirstName, &u.LastName, &u.IsVerified,
		&u.TwoFactorEnabled, &u.IsActive, &org, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return tenancy.User{}, mapError(err)
	}
	u.PasswordHash = hash.String
	u.DefaultOrganizationID = org.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}
