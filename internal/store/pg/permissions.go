package pg

import (
	"context"
	"errors"
	"fmt"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/tenancy"
)

func (q *queries) UpsertPermissions(ctx context.Context, perms []tenancy.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := q.db.ExecContext(ctx, `
			insert into permissions (id, name, description, category)
			values ($1, $2, $3, $4)
			on conflict (name) do update
			set description = excluded.description, category = excluded.category
		`, id, p.Name, nullIfEmpty(p.Description), p.Category); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (q *queries) ListPermissions(ctx context.Context) ([]tenancy.Permission, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id, name, coalesce(description, ''), category
		from permissions
		order by category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenancy.Permission
	for rows.Next() {
		var p tenancy.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *queries) GetPermissionByName(ctx context.Context, name string) (tenancy.Permission, error) {
	var p tenancy.Permission
	err := q.db.QueryRowContext(ctx, `
		select id, name, coalesce(description, ''), category from permissions where name = $1
	`, name).Scan(&p.ID, &p.Name, &p.Description, &p.Category)
	if err != nil {
		if err = mapError(err); errors.Is(err, tenancy.ErrNotFound) {
			return tenancy.Permission{}, fmt.Errorf("%w: permission %s", tenancy.ErrNotFound, name)
		}
		return tenancy.Permission{}, err
	}
	return p, nil
}

func (q *queries) RoleDefaults(ctx context.Context, role tenancy.Role) ([]string, error) {
	return q.names(ctx, `
		select p.name
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role = $1
		order by p.name
	`, string(role))
}

func (q *queries) ReplaceRoleDefaults(ctx context.Context, role tenancy.Role, permissions []string) error {
	if _, err := q.db.ExecContext(ctx, `delete from role_permissions where role = $1`, string(role)); err != nil {
		return mapError(err)
	}
	if err := expectOne(q.db.ExecContext(ctx, `
		update permission_generation set generation = generation + 1
	`)); err != nil {
		return fmt.Errorf("permission generation: %w", err)
	}
	for _, name := range permissions {
		res, err := q.db.ExecContext(ctx, `
			insert into role_permissions (role, permission_id)
			select $1, id from permissions where name = $2
		`, string(role), name)
		if err := expectOne(res, err); err != nil {
			return fmt.Errorf("permission %s: %w", name, err)
		}
	}
	return nil
}

func (q *queries) PermissionGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := q.db.QueryRowContext(ctx, `select generation from permission_generation`).Scan(&gen)
	return gen, mapError(err)
}

func (q *queries) ListOverrides(ctx context.Context, membershipID string) ([]tenancy.Override, error) {
	rows, err := q.db.QueryContext(ctx, `
		select p.name, up.is_granted
		from user_permissions up
		join permissions p on p.id = up.permission_id
		where up.organization_user_id = $1
		order by p.name
	`, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenancy.Override
	for rows.Next() {
		o := tenancy.Override{MembershipID: membershipID}
		if err := rows.Scan(&o.Permission, &o.Granted); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *queries) UpsertOverride(ctx context.Context, o tenancy.Override) error {
	res, err := q.db.ExecContext(ctx, `
		with bumped as (
			update memberships set perm_version = perm_version + 1, updated_at = now()
			where id = $1
			returning id
		)
		insert into user_permissions (organization_user_id, permission_id, is_granted)
		select b.id, p.id, $3 from bumped b, permissions p where p.name = $2
		on conflict (organization_user_id, permission_id) do update
		set is_granted = excluded.is_granted
	`, o.MembershipID, o.Permission, o.Granted)
	if err := expectOne(res, err); err != nil {
		return fmt.Errorf("override %s: %w", o.Permission, err)
	}
	return nil
}

func (q *queries) DeleteOverride(ctx context.Context, membershipID, permission string) error {
	return expectOne(q.db.ExecContext(ctx, `
		with bumped as (
			update memberships set perm_version = perm_version + 1, updated_at = now()
			where id = $1
			returning id
		)
		delete from user_permissions up
		using permissions p, bumped b
		where p.id = up.permission_id and up.organization_user_id = b.id and p.name = $2
	`, membershipID, permission))
}

func (q *queries) names(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result = append(result, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
