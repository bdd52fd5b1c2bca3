package pg

import (
	"context"
	"database/sql"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/tenancy"
)

const linkColumns = `id, firm_organization_id, client_organization_id, relationship_status,
	managed_by_user_id, services_provided, created_at, updated_at`

func (q *queries) InsertClientLink(ctx context.Context, link *tenancy.ClientLink) error {
	if link.ID == "" {
		link.ID = ids.New()
	}
	err := q.db.QueryRowContext(ctx, `
		insert into firm_client_links (id, firm_organization_id, client_organization_id,
			relationship_status, managed_by_user_id, services_provided)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, link.ID, link.FirmOrganizationID, link.ClientOrganizationID, string(link.Status),
		nullIfEmpty(link.ManagedByUserID), nullIfEmpty(link.ServicesProvided),
	).Scan(&link.CreatedAt, &link.UpdatedAt)
	return mapError(err)
}

func (q *queries) GetClientLink(ctx context.Context, id string) (tenancy.ClientLink, error) {
	return scanLink(q.db.QueryRowContext(ctx, `select `+linkColumns+` from firm_client_links where id = $1`, id))
}

func (q *queries) LockClientLink(ctx context.Context, id string) (tenancy.ClientLink, error) {
	return scanLink(q.db.QueryRowContext(ctx, `select `+linkColumns+` from firm_client_links where id = $1 for update`, id))
}

func (q *queries) FindClientLink(ctx context.Context, firmOrganizationID, clientOrganizationID string) (tenancy.ClientLink, error) {
	return scanLink(q.db.QueryRowContext(ctx, `
		select `+linkColumns+` from firm_client_links
		where firm_organization_id = $1 and client_organization_id = $2
	`, firmOrganizationID, clientOrganizationID))
}

func (q *queries) ListClientLinks(ctx context.Context, organizationID string) ([]tenancy.ClientLink, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+linkColumns+` from firm_client_links
		where firm_organization_id = $1 or client_organization_id = $1
		order by id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenancy.ClientLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *queries) UpdateClientLinkStatus(ctx context.Context, id string, status tenancy.LinkStatus) error {
	return expectOne(q.db.ExecContext(ctx, `
		update firm_client_links set relationship_status = $2, updated_at = now() where id = $1
	`, id, string(status)))
}

func scanLink(row rowScanner) (tenancy.ClientLink, error) {
	var (
		l                 tenancy.ClientLink
		status            string
		manager, services sql.NullString
	)
	err := row.Scan(&l.ID, &l.FirmOrganizationID, &l.ClientOrganizationID, &status,
		&manager, &services, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return tenancy.ClientLink{}, mapError(err)
	}
	l.Status, err = tenancy.ParseLinkStatus(status)
	if err != nil {
		return tenancy.ClientLink{}, err
	}
	l.ManagedByUserID = manager.String
	l.ServicesProvided = services.String
	return l, nil
}
