// Package books holds an organization's chart of accounts and VAT
// configuration. Every operation is gated by the tenancy permissions
// view_accounts, manage_accounts, view_vat and manage_vat, either through a
// direct membership or an active firm-client link.
package books

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryType is the accounting class of an account category.
type CategoryType string

const (
	CategoryAsset     CategoryType = "asset"
	CategoryLiability CategoryType = "liability"
	CategoryEquity    CategoryType = "equity"
	CategoryIncome    CategoryType = "income"
	CategoryExpense   CategoryType = "expense"
)

// Category groups accounts for the balance sheet and profit and loss reports.
type Category struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Type                 CategoryType `json:"type"`
	BalanceSheetCategory string       `json:"balance_sheet_category,omitempty"`
	PLCategory           string       `json:"pl_category,omitempty"`
	IsSystem             bool         `json:"is_system"`
	DisplayOrder         int          `json:"display_order"`
}

// Account is one line of an organization's chart of accounts.
type Account struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	CategoryID      string    `json:"category_id"`
	IsBankAccount   bool      `json:"is_bank_account"`
	IsSystemAccount bool      `json:"is_system_account"`
	TaxCode         string    `json:"tax_code,omitempty"`
	IsArchived      bool      `json:"is_archived"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Template is a starter chart of accounts for one business type.
type Template struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	BusinessType string            `json:"business_type"`
	IsSystem     bool              `json:"is_system"`
	Accounts     []TemplateAccount `json:"accounts"`
}

// TemplateAccount is copied into an organization by ApplyTemplate.
// Category names the account category; CategoryID is filled by the store.
type TemplateAccount struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category"`
	CategoryID      string `json:"category_id,omitempty"`
	IsBankAccount   bool   `json:"is_bank_account"`
	IsSystemAccount bool   `json:"is_system_account"`
	TaxCode         string `json:"tax_code,omitempty"`
}

// SchemeType is a VAT accounting scheme.
type SchemeType string

const (
	SchemeStandard         SchemeType = "standard"
	SchemeFlatRate         SchemeType = "flat_rate"
	SchemeCashAccounting   SchemeType = "cash_accounting"
	SchemeAnnualAccounting SchemeType = "annual_accounting"
)

// Scheme is a VAT scheme in force between EffectiveFrom and EffectiveTo,
// both inclusive. An open scheme has no EffectiveTo.
type Scheme struct {
	ID                 string              `json:"id"`
	OrganizationID     string              `json:"organization_id"`
	Type               SchemeType          `json:"scheme_type"`
	FlatRatePercentage decimal.NullDecimal `json:"flat_rate_percentage"`
	EffectiveFrom      time.Time           `json:"effective_from"`
	EffectiveTo        *time.Time          `json:"effective_to,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Rate is a VAT rate an organization can code transactions with.
type Rate struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	Rate           decimal.Decimal `json:"rate"`
	IsDefault      bool            `json:"is_default"`
	EffectiveFrom  time.Time       `json:"effective_from"`
	EffectiveTo    *time.Time      `json:"effective_to,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PeriodType is how often VAT returns are filed.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodAnnual    PeriodType = "annual"
)

// ReturnPeriod is an organization's VAT filing cycle.
type ReturnPeriod struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization_id"`
	Type               PeriodType `json:"period_type"`
	QuartersStartMonth int        `json:"quarters_start_month,omitempty"`
	NextDueDate        *time.Time `json:"next_due_date,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// VATSettings is everything configured for an organization's VAT.
type VATSettings struct {
	Schemes      []Scheme      `json:"schemes"`
	Current      *Scheme       `json:"current_scheme,omitempty"`
	Rates        []Rate        `json:"rates"`
	ReturnPeriod *ReturnPeriod `json:"return_period,omitempty"`
}

// NewAccount carries the fields accepted when creating an account.
type NewAccount struct {
	Code          string
	Name          string
	Description   string
	CategoryID    string
	IsBankAccount bool
	TaxCode       string
}

// AccountUpdate holds optional changes to an account. Codes are immutable.
type AccountUpdate struct {
	Name        *string
	Description *string
	TaxCode     *string
	IsArchived  *bool
}

// NewScheme starts a VAT scheme.
type NewScheme struct {
	Type               SchemeType
	FlatRatePercentage decimal.NullDecimal
	EffectiveFrom      time.Time
}

// NewRate adds a VAT rate.
type NewRate struct {
	Name          string
	Code          string
	Rate          decimal.Decimal
	IsDefault     bool
	EffectiveFrom time.Time
}
