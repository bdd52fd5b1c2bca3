package books

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"teamledger.io/internal/audit"
	"teamledger.io/internal/obs"
	"teamledger.io/internal/tenancy"
)

// Gate is the slice of tenancy.Service that books depends on.
type Gate interface {
	AuthorizeClientAccess(ctx context.Context, actorID, organizationID, permission string) (tenancy.AccessDecision, error)
	LookupOrganization(ctx context.Context, organizationID string) (tenancy.Organization, error)
}

// Service manages charts of accounts and VAT configuration.
type Service struct {
	store Store
	gate  Gate
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, gate Gate, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("books store is required")
	}
	if gate == nil {
		return nil, errors.New("books gate is required")
	}
	s := &Service{store: store, gate: gate, log: obs.Logger(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("books")
	return s, nil
}

// Seed loads the built-in categories and templates. It is idempotent.
func (s *Service) Seed(ctx context.Context) error {
	tpls := BuiltinTemplates()
	err := s.store.WithTx(ctx, func(q Queries) error {
		if err := q.UpsertCategories(ctx, BuiltinCategories()); err != nil {
			return fmt.Errorf("upsert categories: %w", err)
		}
		for i := range tpls {
			if err := q.UpsertTemplate(ctx, &tpls[i]); err != nil {
				return fmt.Errorf("template %s: %w", tpls[i].BusinessType, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("account catalog seeded", zap.Int("categories", len(categories)), zap.Int("templates", len(tpls)))
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	return s.store.ListTemplates(ctx)
}

// ListAccounts returns the organization's chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context, actorID, organizationID string, includeArchived bool) ([]Account, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermViewAccounts)
	if err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx, org, includeArchived)
}

var accountCode = regexp.MustCompile(`^[0-9A-Za-z-]{1,20}$`)

// CreateAccount adds an account. Codes are unique within an organization.
func (s *Service) CreateAccount(ctx context.Context, actorID, organizationID string, in NewAccount) (Account, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermManageAccounts)
	if err != nil {
		return Account{}, err
	}
	a := Account{
		OrganizationID: org,
		Code:           strings.TrimSpace(in.Code),
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		CategoryID:     strings.TrimSpace(in.CategoryID),
		IsBankAccount:  in.IsBankAccount,
		TaxCode:        strings.TrimSpace(in.TaxCode),
	}
	if !accountCode.MatchString(a.Code) {
		return Account{}, fmt.Errorf("%w: account code must be 1-20 letters, digits or dashes", tenancy.ErrInvalidArgument)
	}
	if a.Name == "" {
		return Account{}, fmt.Errorf("%w: account name is required", tenancy.ErrInvalidArgument)
	}
	if _, err := s.store.GetCategory(ctx, a.CategoryID); err != nil {
		if errors.Is(err, tenancy.ErrNotFound) {
			return Account{}, fmt.Errorf("%w: unknown category %q", tenancy.ErrInvalidArgument, a.CategoryID)
		}
		return Account{}, err
	}
	if err := s.store.InsertAccount(ctx, &a); err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, "account.created", zap.String("organization_id", org), zap.String("account_id", a.ID), zap.String("code", a.Code))
	return a, nil
}

// UpdateAccount edits an account's mutable fields. System accounts cannot be archived.
func (s *Service) UpdateAccount(ctx context.Context, actorID, organizationID, accountID string, upd AccountUpdate) (Account, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermManageAccounts)
	if err != nil {
		return Account{}, err
	}
	var out Account
	err = s.store.WithTx(ctx, func(q Queries) error {
		a, err := q.GetAccount(ctx, strings.TrimSpace(accountID))
		if err != nil {
			return err
		}
		if a.OrganizationID != org {
			return fmt.Errorf("%w: account %s", tenancy.ErrNotFound, accountID)
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return fmt.Errorf("%w: account name is required", tenancy.ErrInvalidArgument)
			}
			a.Name = name
		}
		if upd.Description != nil {
			a.Description = strings.TrimSpace(*upd.Description)
		}
		if upd.TaxCode != nil {
			a.TaxCode = strings.TrimSpace(*upd.TaxCode)
		}
		if upd.IsArchived != nil {
			if *upd.IsArchived && a.IsSystemAccount {
				return fmt.Errorf("%w: system account %s cannot be archived", tenancy.ErrInvalidState, a.Code)
			}
			a.IsArchived = *upd.IsArchived
		}
		if err := q.UpdateAccount(ctx, a); err != nil {
			return err
		}
		out, err = q.GetAccount(ctx, a.ID)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, "account.updated", zap.String("organization_id", org), zap.String("account_id", out.ID))
	return out, nil
}

// ApplyTemplate copies a template's accounts into an organization, skipping
// codes it already has. An empty templateID selects the template for the
// organization's business type. It returns the accounts created.
func (s *Service) ApplyTemplate(ctx context.Context, actorID, organizationID, templateID string) ([]Account, error) {
	org, err := s.gated(ctx, actorID, organizationID, tenancy.PermManageAccounts)
	if err != nil {
		return nil, err
	}
	tpl, err := s.pickTemplate(ctx, org, strings.TrimSpace(templateID))
	if err != nil {
		return nil, err
	}
	var created []Account
	err = s.store.WithTx(ctx, func(q Queries) error {
		existing, err := q.ListAccounts(ctx, org, true)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, a := range existing {
			have[strings.ToLower(a.Code)] = true
		}
		for _, ta := range tpl.Accounts {
			if have[strings.ToLower(ta.Code)] {
				continue
			}
			a := Account{
				OrganizationID:  org,
				Code:            ta.Code,
				Name:            ta.Name,
				Description:     ta.Description,
				CategoryID:      ta.CategoryID,
				IsBankAccount:   ta.IsBankAccount,
				IsSystemAccount: ta.IsSystemAccount,
				TaxCode:         ta.TaxCode,
			}
			if err := q.InsertAccount(ctx, &a); err != nil {
				return fmt.Errorf("account %s: %w", ta.Code, err)
			}
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "accounts.template_applied",
		zap.String("organization_id", org), zap.String("template_id", tpl.ID), zap.Int("created", len(created)))
	return created, nil
}

func (s *Service) pickTemplate(ctx context.Context, organizationID, templateID string) (Template, error) {
	if templateID != "" {
		return s.store.GetTemplate(ctx, templateID)
	}
	org, err := s.gate.LookupOrganization(ctx, organizationID)
	if err != nil {
		return Template{}, err
	}
	tpls, err := s.store.ListTemplates(ctx)
	if err != nil {
		return Template{}, err
	}
	for _, t := range tpls {
		if t.BusinessType == org.BusinessType {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: no template for business type %q", tenancy.ErrNotFound, org.BusinessType)
}

// gated authorizes actorID for permission in organizationID, directly or
// through a client link, and returns the trimmed organization id.
func (s *Service) gated(ctx context.Context, actorID, organizationID, permission string) (string, error) {
	org := strings.TrimSpace(organizationID)
	if org == "" {
		return "", fmt.Errorf("%w: organization_id is required", tenancy.ErrInvalidArgument)
	}
	if _, err := s.gate.AuthorizeClientAccess(ctx, actorID, org, permission); err != nil {
		return "", err
	}
	return org, nil
}

func (s *Service) record(ctx context.Context, actorID, event string, fields ...zap.Field) {
	if actorID != "" {
		fields = append(fields, zap.String("actor_id", actorID))
	}
	if err := audit.LogEvent(ctx, event, fields...); err != nil {
		s.log.Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}
