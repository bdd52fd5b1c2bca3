package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"teamledger.io/internal/books"
	"teamledger.io/internal/tenancy"
)

var accountCols = []string{"id", "organization_id", "code", "name", "description", "category_id",
	"is_bank_account", "is_system_account", "tax_code", "is_archived", "created_at", "updated_at"}

func TestInsertAccountDuplicateCode(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "accounts_organization_id_code_key"})

	a := books.Account{OrganizationID: "o1", Code: "1200", Name: "Bank", CategoryID: "c1"}
	if err := s.Books().InsertAccount(context.Background(), &a); !errors.Is(err, tenancy.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestListAccountsHidesArchivedByDefault(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("from accounts where organization_id = \\$1 and \\(\\$2 or not is_archived\\) order by code").
		WithArgs("o1", false).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("a1", "o1", "1200", "Bank", nil, "c1", true, true, nil, false, now, now).
			AddRow("a2", "o1", "4000", "Sales", "turnover", "c2", false, false, "T1", false, now, now))

	got, err := s.Books().ListAccounts(context.Background(), "o1", false)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(got) != 2 || !got[0].IsBankAccount || got[0].Description != "" || got[1].TaxCode != "T1" {
		t.Fatalf("unexpected accounts %+v", got)
	}
}

func TestUpdateAccountMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update accounts set name").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Books().UpdateAccount(context.Background(), books.Account{ID: "gone", Name: "X"})
	if !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertSchemeSecondOpenScheme(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into vat_schemes").
		WithArgs(sqlmock.AnyArg(), "o1", "flat_rate", "12.5", sqlmock.AnyArg(), nil).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "vat_schemes_one_open"})

	sc := books.Scheme{
		OrganizationID:     "o1",
		Type:               books.SchemeFlatRate,
		FlatRatePercentage: decimal.NewNullDecimal(decimal.RequireFromString("12.5")),
		EffectiveFrom:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.Books().InsertScheme(context.Background(), &sc); !errors.Is(err, tenancy.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestListRatesScansDecimals(t *testing.T) {
	s, mock := newMock(t)
	from := time.Date(2011, 1, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2029, 12, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from vat_rates where organization_id = \\$1 order by code, effective_from").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "code", "rate", "is_default",
			"effective_from", "effective_to", "created_at"}).
			AddRow("r1", "o1", "Standard", "T1", "20.00", false, from, to, from).
			AddRow("r2", "o1", "Reduced", "T5", "5.00", true, from, nil, from))

	got, err := s.Books().ListRates(context.Background(), "o1")
	if err != nil {
		t.Fatalf("ListRates: %v", err)
	}
	if len(got) != 2 || !got[0].Rate.Equal(decimal.NewFromInt(20)) || got[0].EffectiveTo == nil || !got[0].EffectiveTo.Equal(to) {
		t.Fatalf("unexpected first rate %+v", got[0])
	}
	if got[1].EffectiveTo != nil || !got[1].IsDefault {
		t.Fatalf("unexpected second rate %+v", got[1])
	}
}

func TestCloseRatesClearsDefault(t *testing.T) {
	s, mock := newMock(t)
	to := time.Date(2029, 12, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("update vat_rates set effective_to = \\$3, is_default = false").
		WithArgs("o1", "T1", to).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Books().CloseRates(context.Background(), "o1", "T1", to); err != nil {
		t.Fatalf("CloseRates: %v", err)
	}
}

func TestUpsertReturnPeriodMonthlyHasNoStartMonth(t *testing.T) {
	s, mock := newMock(t)
	due := time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into vat_return_periods .* on conflict \\(organization_id\\) do update").
		WithArgs(sqlmock.AnyArg(), "o1", "monthly", nil, due).
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow("p1", due))

	p := books.ReturnPeriod{OrganizationID: "o1", Type: books.PeriodMonthly, NextDueDate: &due}
	if err := s.Books().UpsertReturnPeriod(context.Background(), &p); err != nil {
		t.Fatalf("UpsertReturnPeriod: %v", err)
	}
	if p.ID != "p1" {
		t.Fatalf("existing id not returned: %s", p.ID)
	}
}

func TestUpsertTemplateUnknownCategoryRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into account_templates").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t1"))
	mock.ExpectExec("delete from template_accounts where template_id = \\$1").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select id from account_categories where name = \\$1").
		WithArgs("Nowhere").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.Books().WithTx(context.Background(), func(q books.Queries) error {
		return q.UpsertTemplate(context.Background(), &books.Template{
			Name:         "Odd",
			BusinessType: "odd",
			Accounts:     []books.TemplateAccount{{Code: "1", Name: "X", Category: "Nowhere"}},
		})
	})
	if !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
