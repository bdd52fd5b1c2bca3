package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"teamledger.io/internal/books"
	"teamledger.io/internal/ids"
)

// BooksStore implements books.Store on the same pool as Store.
type BooksStore struct {
	bookQueries
	db *sql.DB
}

var _ books.Store = (*BooksStore)(nil)

// Books returns the chart of accounts and VAT store sharing s's pool.
func (s *Store) Books() *BooksStore {
	return &BooksStore{bookQueries: bookQueries{db: s.db}, db: s.db}
}

func (s *BooksStore) WithTx(ctx context.Context, fn func(q books.Queries) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&bookQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type bookQueries struct {
	db dbtx
}

var _ books.Queries = (*bookQueries)(nil)

func collect[T any](rows *sql.Rows, err error, scan func(rowScanner) (T, error)) ([]T, error) {
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const categoryColumns = `id, name, category_type, balance_sheet_category, pl_category, is_system, display_order`

func (q *bookQueries) UpsertCategories(ctx context.Context, cats []books.Category) error {
	for i := range cats {
		c := &cats[i]
		if c.ID == "" {
			c.ID = ids.New()
		}
		err := q.db.QueryRowContext(ctx, `
			insert into account_categories (id, name, category_type, balance_sheet_category, pl_category, is_system, display_order)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (name) do update
			set category_type = excluded.category_type,
				balance_sheet_category = excluded.balance_sheet_category,
				pl_category = excluded.pl_category,
				is_system = excluded.is_system,
				display_order = excluded.display_order
			returning id
		`, c.ID, c.Name, string(c.Type), nullIfEmpty(c.BalanceSheetCategory), nullIfEmpty(c.PLCategory),
			c.IsSystem, c.DisplayOrder).Scan(&c.ID)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (q *bookQueries) ListCategories(ctx context.Context) ([]books.Category, error) {
	rows, err := q.db.QueryContext(ctx, `select `+categoryColumns+` from account_categories order by display_order, name`)
	return collect(rows, err, scanCategory)
}

func (q *bookQueries) GetCategory(ctx context.Context, id string) (books.Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, `select `+categoryColumns+` from account_categories where id = $1`, id))
}

func scanCategory(row rowScanner) (books.Category, error) {
	var (
		c      books.Category
		typ    string
		bs, pl sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &typ, &bs, &pl, &c.IsSystem, &c.DisplayOrder); err != nil {
		return books.Category{}, mapError(err)
	}
	c.Type = books.CategoryType(typ)
	c.BalanceSheetCategory = bs.String
	c.PLCategory = pl.String
	return c, nil
}

func (q *bookQueries) UpsertTemplate(ctx context.Context, t *books.Template) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	err := q.db.QueryRowContext(ctx, `
		insert into account_templates (id, name, business_type, is_system_template)
		values ($1, $2, $3, $4)
		on conflict (business_type, name) do update
		set is_system_template = excluded.is_system_template, updated_at = now()
		returning id
	`, t.ID, t.Name, t.BusinessType, t.IsSystem).Scan(&t.ID)
	if err != nil {
		return mapError(err)
	}
	if _, err := q.db.ExecContext(ctx, `delete from template_accounts where template_id = $1`, t.ID); err != nil {
		return mapError(err)
	}
	for i := range t.Accounts {
		a := &t.Accounts[i]
		if err := q.db.QueryRowContext(ctx, `select id from account_categories where name = $1`, a.Category).Scan(&a.CategoryID); err != nil {
			return fmt.Errorf("category %s: %w", a.Category, mapError(err))
		}
		if _, err := q.db.ExecContext(ctx, `
			insert into template_accounts (id, template_id, code, name, description, category_id,
				is_bank_account, is_system_account, tax_code)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, ids.New(), t.ID, a.Code, a.Name, nullIfEmpty(a.Description), a.CategoryID,
			a.IsBankAccount, a.IsSystemAccount, nullIfEmpty(a.TaxCode)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (q *bookQueries) ListTemplates(ctx context.Context) ([]books.Template, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id, name, business_type, is_system_template from account_templates order by business_type, name
	`)
	tpls, err := collect(rows, err, scanTemplate)
	if err != nil {
		return nil, err
	}
	for i := range tpls {
		if tpls[i].Accounts, err = q.templateAccounts(ctx, tpls[i].ID); err != nil {
			return nil, err
		}
	}
	return tpls, nil
}

func (q *bookQueries) GetTemplate(ctx context.Context, id string) (books.Template, error) {
	t, err := scanTemplate(q.db.QueryRowContext(ctx, `
		select id, name, business_type, is_system_template from account_templates where id = $1
	`, id))
	if err != nil {
		return books.Template{}, err
	}
	t.Accounts, err = q.templateAccounts(ctx, t.ID)
	return t, err
}

func scanTemplate(row rowScanner) (books.Template, error) {
	var t books.Template
	if err := row.Scan(&t.ID, &t.Name, &t.BusinessType, &t.IsSystem); err != nil {
		return books.Template{}, mapError(err)
	}
	return t, nil
}

func (q *bookQueries) templateAccounts(ctx context.Context, templateID string) ([]books.TemplateAccount, error) {
	rows, err := q.db.QueryContext(ctx, `
		select ta.code, ta.name, ta.description, c.name, ta.category_id,
			ta.is_bank_account, ta.is_system_account, ta.tax_code
		from template_accounts ta
		join account_categories c on c.id = ta.category_id
		where ta.template_id = $1
		order by ta.code
	`, templateID)
	return collect(rows, err, func(row rowScanner) (books.TemplateAccount, error) {
		var (
			a         books.TemplateAccount
			desc, tax sql.NullString
		)
		if err := row.Scan(&a.Code, &a.Name, &desc, &a.Category, &a.CategoryID,
			&a.IsBankAccount, &a.IsSystemAccount, &tax); err != nil {
			return books.TemplateAccount{}, mapError(err)
		}
		a.Description = desc.String
		a.TaxCode = tax.String
		return a, nil
	})
}

const accountColumns = `id, organization_id, code, name, description, category_id,
	is_bank_account, is_system_account, tax_code, is_archived, created_at, updated_at`

func (q *bookQueries) InsertAccount(ctx context.Context, a *books.Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	err := q.db.QueryRowContext(ctx, `
		insert into accounts (id, organization_id, code, name, description, category_id,
			is_bank_account, is_system_account, tax_code, is_archived)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning created_at, updated_at
	`, a.ID, a.OrganizationID, a.Code, a.Name, nullIfEmpty(a.Description), a.CategoryID,
		a.IsBankAccount, a.IsSystemAccount, nullIfEmpty(a.TaxCode), a.IsArchived,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapError(err)
}

func (q *bookQueries) GetAccount(ctx context.Context, id string) (books.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
}

func (q *bookQueries) ListAccounts(ctx context.Context, organizationID string, includeArchived bool) ([]books.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+accountColumns+` from accounts
		where organization_id = $1 and ($2 or not is_archived)
		order by code
	`, organizationID, includeArchived)
	return collect(rows, err, scanAccount)
}

func (q *bookQueries) UpdateAccount(ctx context.Context, a books.Account) error {
	return expectOne(q.db.ExecContext(ctx, `
		update accounts
		set name = $2, description = $3, tax_code = $4, is_archived = $5, updated_at = now()
		where id = $1
	`, a.ID, a.Name, nullIfEmpty(a.Description), nullIfEmpty(a.TaxCode), a.IsArchived))
}

func scanAccount(row rowScanner) (books.Account, error) {
	var (
		a         books.Account
		desc, tax sql.NullString
	)
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &desc, &a.CategoryID,
		&a.IsBankAccount, &a.IsSystemAccount, &tax, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return books.Account{}, mapError(err)
	}
	a.Description = desc.String
	a.TaxCode = tax.String
	return a, nil
}

const schemeColumns = `id, organization_id, scheme_type, flat_rate_percentage, effective_from, effective_to, created_at`

func (q *bookQueries) ListSchemes(ctx context.Context, organizationID string) ([]books.Scheme, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+schemeColumns+` from vat_schemes where organization_id = $1 order by effective_from
	`, organizationID)
	return collect(rows, err, scanScheme)
}

func (q *bookQueries) InsertScheme(ctx context.Context, s *books.Scheme) error {
	if s.ID == "" {
		s.ID = ids.New()
	}
	err := q.db.QueryRowContext(ctx, `
		insert into vat_schemes (id, organization_id, scheme_type, flat_rate_percentage, effective_from, effective_to)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, s.ID, s.OrganizationID, string(s.Type), s.FlatRatePercentage, s.EffectiveFrom, nullDate(s.EffectiveTo),
	).Scan(&s.CreatedAt)
	return mapError(err)
}

func (q *bookQueries) CloseScheme(ctx context.Context, id string, to time.Time) error {
	return expectOne(q.db.ExecContext(ctx, `
		update vat_schemes set effective_to = $2, updated_at = now() where id = $1
	`, id, to))
}

func scanScheme(row rowScanner) (books.Scheme, error) {
	var (
		s   books.Scheme
		typ string
		to  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OrganizationID, &typ, &s.FlatRatePercentage, &s.EffectiveFrom, &to, &s.CreatedAt)
	if err != nil {
		return books.Scheme{}, mapError(err)
	}
	s.Type = books.SchemeType(typ)
	if to.Valid {
		s.EffectiveTo = &to.Time
	}
	return s, nil
}

const rateColumns = `id, organization_id, name, code, rate, is_default, effective_from, effective_to, created_at`

func (q *bookQueries) ListRates(ctx context.Context, organizationID string) ([]books.Rate, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+rateColumns+` from vat_rates where organization_id = $1 order by code, effective_from
	`, organizationID)
	return collect(rows, err, scanRate)
}

func (q *bookQueries) InsertRate(ctx context.Context, r *books.Rate) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	err := q.db.QueryRowContext(ctx, `
		insert into vat_rates (id, organization_id, name, code, rate, is_default, effective_from, effective_to)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, r.ID, r.OrganizationID, r.Name, r.Code, r.Rate, r.IsDefault, r.EffectiveFrom, nullDate(r.EffectiveTo),
	).Scan(&r.CreatedAt)
	return mapError(err)
}

func (q *bookQueries) CloseRates(ctx context.Context, organizationID, code string, to time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		update vat_rates set effective_to = $3, is_default = false, updated_at = now()
		where organization_id = $1 and code = $2 and effective_to is null
	`, organizationID, code, to)
	return mapError(err)
}

func (q *bookQueries) ClearDefaultRate(ctx context.Context, organizationID string) error {
	_, err := q.db.ExecContext(ctx, `
		update vat_rates set is_default = false, updated_at = now()
		where organization_id = $1 and is_default
	`, organizationID)
	return mapError(err)
}

func scanRate(row rowScanner) (books.Rate, error) {
	var (
		r  books.Rate
		to sql.NullTime
	)
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Code, &r.Rate, &r.IsDefault, &r.EffectiveFrom, &to, &r.CreatedAt)
	if err != nil {
		return books.Rate{}, mapError(err)
	}
	if to.Valid {
		r.EffectiveTo = &to.Time
	}
	return r, nil
}

func (q *bookQueries) GetReturnPeriod(ctx context.Context, organizationID string) (books.ReturnPeriod, error) {
	var (
		p     books.ReturnPeriod
		typ   string
		month sql.NullInt32
		due   sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		select id, organization_id, period_type, quarters_start_month, next_due_date, updated_at
		from vat_return_periods where organization_id = $1
	`, organizationID).Scan(&p.ID, &p.OrganizationID, &typ, &month, &due, &p.UpdatedAt)
	if err != nil {
		return books.ReturnPeriod{}, mapError(err)
	}
	p.Type = books.PeriodType(typ)
	p.QuartersStartMonth = int(month.Int32)
	if due.Valid {
		p.NextDueDate = &due.Time
	}
	return p, nil
}

func (q *bookQueries) UpsertReturnPeriod(ctx context.Context, p *books.ReturnPeriod) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	month := sql.NullInt32{Int32: int32(p.QuartersStartMonth), Valid: p.QuartersStartMonth != 0}
	err := q.db.QueryRowContext(ctx, `
		insert into vat_return_periods (id, organization_id, period_type, quarters_start_month, next_due_date)
		values ($1, $2, $3, $4, $5)
		on conflict (organization_id) do update
		set period_type = excluded.period_type,
			quarters_start_month = excluded.quarters_start_month,
			next_due_date = excluded.next_due_date,
			updated_at = now()
		returning id, updated_at
	`, p.ID, p.OrganizationID, string(p.Type), month, nullDate(p.NextDueDate)).Scan(&p.ID, &p.UpdatedAt)
	return mapError(err)
}

func nullDate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
