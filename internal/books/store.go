package books

import (
	"context"
	"time"
)

// Queries is the persistence surface used by Service, available directly on
// a Store and inside Store.WithTx.
type Queries interface {
	// UpsertCategories inserts or updates categories by name and fills their ids.
	UpsertCategories(ctx context.Context, cats []Category) error
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)

	// UpsertTemplate replaces a template's accounts, matching on business
	// type and name. Account categories are resolved by name.
	UpsertTemplate(ctx context.Context, t *Template) error
	ListTemplates(ctx context.Context) ([]Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)

	InsertAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context, organizationID string, includeArchived bool) ([]Account, error)
	UpdateAccount(ctx context.Context, a Account) error

	ListSchemes(ctx context.Context, organizationID string) ([]Scheme, error)
	InsertScheme(ctx context.Context, s *Scheme) error
	CloseScheme(ctx context.Context, id string, to time.Time) error

	ListRates(ctx context.Context, organizationID string) ([]Rate, error)
	InsertRate(ctx context.Context, r *Rate) error
	// CloseRates ends the open rates with code on day to.
	CloseRates(ctx context.Context, organizationID, code string, to time.Time) error
	ClearDefaultRate(ctx context.Context, organizationID string) error

	GetReturnPeriod(ctx context.Context, organizationID string) (ReturnPeriod, error)
	UpsertReturnPeriod(ctx context.Context, p *ReturnPeriod) error
}

// Store adds transactional grouping to Queries.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
