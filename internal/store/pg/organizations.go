package pg

import (
	"context"
	"database/sql"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/tenancy"
)

const organizationColumns = `id, name, registration_number, vat_number, business_type,
	fiscal_year_start_day, fiscal_year_start_month, default_currency, email, phone, country,
	data_retention_months, is_active, created_at, updated_at`

func (q *queries) InsertOrganization(ctx context.Context, org *tenancy.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	err := q.db.QueryRowContext(ctx, `
		insert into organizations (id, name, registration_number, vat_number, business_type,
			fiscal_year_start_day, fiscal_year_start_month, default_currency, email, phone, country,
			data_retention_months, is_active)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning created_at, updated_at
	`, org.ID, org.Name, nullIfEmpty(org.RegistrationNumber), nullIfEmpty(org.VATNumber), org.BusinessType,
		org.FiscalYearStartDay, org.FiscalYearStartMonth, org.DefaultCurrency,
		nullIfEmpty(org.Email), nullIfEmpty(org.Phone), nullIfEmpty(org.Country),
		org.DataRetentionMonths, org.IsActive,
	).Scan(&org.CreatedAt, &org.UpdatedAt)
	return mapError(err)
}

func (q *queries) GetOrganization(ctx context.Context, id string) (tenancy.Organization, error) {
	row := q.db.QueryRowContext(ctx, `select `+organizationColumns+` from organizations where id = $1`, id)
	return scanOrganization(row)
}

func (q *queries) UpdateOrganization(ctx context.Context, org tenancy.Organization) error {
	return expectOne(q.db.ExecContext(ctx, `
		update organizations
		set name = $2, vat_number = $3, business_type = $4,
			fiscal_year_start_day = $5, fiscal_year_start_month = $6,
			default_currency = $7, is_active = $8, updated_at = now()
		where id = $1
	`, org.ID, org.Name, nullIfEmpty(org.VATNumber), org.BusinessType,
		org.FiscalYearStartDay, org.FiscalYearStartMonth, org.DefaultCurrency, org.IsActive))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (tenancy.Organization, error) {
	var (
		org                        tenancy.Organization
		reg, vat, email, phone, co sql.NullString
	)
	err := row.Scan(&org.ID, &org.Name, &reg, &vat, &org.BusinessType,
		&org.FiscalYearStartDay, &org.FiscalYearStartMonth, &org.DefaultCurrency,
		&email, &phone, &co, &org.DataRetentionMonths, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return tenancy.Organization{}, mapError(err)
	}
	org.RegistrationNumber = reg.String
	org.VATNumber = vat.String
	org.Email = email.String
	org.Phone = phone.String
	org.Country = co.String
	return org, nil
}
