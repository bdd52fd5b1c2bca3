package books

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/tenancy"
)

// MemoryStore is an in-process Store with the uniqueness rules of the
// PostgreSQL schema. Transactions work on a copy that is swapped in on success.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type memState struct {
	categories map[string]Category // by id
	templates  map[string]Template // by id
	accounts   map[string]Account
	schemes    map[string]Scheme
	rates      map[string]Rate
	periods    map[string]ReturnPeriod // by organization
}

func newMemState() *memState {
	return &memState{
		categories: map[string]Category{},
		templates:  map[string]Template{},
		accounts:   map[string]Account{},
		schemes:    map[string]Scheme{},
		rates:      map[string]Rate{},
		periods:    map[string]ReturnPeriod{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.categories {
		c.categories[k] = v
	}
	for k, v := range st.templates {
		v.Accounts = append([]TemplateAccount(nil), v.Accounts...)
		c.templates[k] = v
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.schemes {
		c.schemes[k] = v
	}
	for k, v := range st.rates {
		c.rates[k] = v
	}
	for k, v := range st.periods {
		c.periods[k] = v
	}
	return c
}

func (s *MemoryStore) WithTx(_ context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.st.clone()
	if err := fn(draft); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func locked[T any](s *MemoryStore, fn func(st *memState) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *MemoryStore) exec(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *MemoryStore) UpsertCategories(ctx context.Context, cats []Category) error {
	return s.exec(func(st *memState) error { return st.UpsertCategories(ctx, cats) })
}

func (s *MemoryStore) ListCategories(ctx context.Context) ([]Category, error) {
	return locked(s, func(st *memState) ([]Category, error) { return st.ListCategories(ctx) })
}

func (s *MemoryStore) GetCategory(ctx context.Context, id string) (Category, error) {
	return locked(s, func(st *memState) (Category, error) { return st.GetCategory(ctx, id) })
}

func (s *MemoryStore) UpsertTemplate(ctx context.Context, t *Template) error {
	return s.exec(func(st *memState) error { return st.UpsertTemplate(ctx, t) })
}

func (s *MemoryStore) ListTemplates(ctx context.Context) ([]Template, error) {
	return locked(s, func(st *memState) ([]Template, error) { return st.ListTemplates(ctx) })
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	return locked(s, func(st *memState) (Template, error) { return st.GetTemplate(ctx, id) })
}

func (s *MemoryStore) InsertAccount(ctx context.Context, a *Account) error {
	return s.exec(func(st *memState) error { return st.InsertAccount(ctx, a) })
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (Account, error) {
	return locked(s, func(st *memState) (Account, error) { return st.GetAccount(ctx, id) })
}

func (s *MemoryStore) ListAccounts(ctx context.Context, organizationID string, includeArchived bool) ([]Account, error) {
	return locked(s, func(st *memState) ([]Account, error) {
		return st.ListAccounts(ctx, organizationID, includeArchived)
	})
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, a Account) error {
	return s.exec(func(st *memState) error { return st.UpdateAccount(ctx, a) })
}

func (s *MemoryStore) ListSchemes(ctx context.Context, organizationID string) ([]Scheme, error) {
	return locked(s, func(st *memState) ([]Scheme, error) { return st.ListSchemes(ctx, organizationID) })
}

func (s *MemoryStore) InsertScheme(ctx context.Context, sc *Scheme) error {
	return s.exec(func(st *memState) error { return st.InsertScheme(ctx, sc) })
}

func (s *MemoryStore) CloseScheme(ctx context.Context, id string, to time.Time) error {
	return s.exec(func(st *memState) error { return st.CloseScheme(ctx, id, to) })
}

func (s *MemoryStore) ListRates(ctx context.Context, organizationID string) ([]Rate, error) {
	return locked(s, func(st *memState) ([]Rate, error) { return st.ListRates(ctx, organizationID) })
}

func (s *MemoryStore) InsertRate(ctx context.Context, r *Rate) error {
	return s.exec(func(st *memState) error { return st.InsertRate(ctx, r) })
}

func (s *MemoryStore) CloseRates(ctx context.Context, organizationID, code string, to time.Time) error {
	return s.exec(func(st *memState) error { return st.CloseRates(ctx, organizationID, code, to) })
}

func (s *MemoryStore) ClearDefaultRate(ctx context.Context, organizationID string) error {
	return s.exec(func(st *memState) error { return st.ClearDefaultRate(ctx, organizationID) })
}

func (s *MemoryStore) GetReturnPeriod(ctx context.Context, organizationID string) (ReturnPeriod, error) {
	return locked(s, func(st *memState) (ReturnPeriod, error) { return st.GetReturnPeriod(ctx, organizationID) })
}

func (s *MemoryStore) UpsertReturnPeriod(ctx context.Context, p *ReturnPeriod) error {
	return s.exec(func(st *memState) error { return st.UpsertReturnPeriod(ctx, p) })
}

// --- state ---

func (st *memState) categoryByName(name string) (Category, bool) {
	for _, c := range st.categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

func (st *memState) UpsertCategories(_ context.Context, cats []Category) error {
	for i := range cats {
		if existing, ok := st.categoryByName(cats[i].Name); ok {
			cats[i].ID = existing.ID
		} else if cats[i].ID == "" {
			cats[i].ID = ids.New()
		}
		st.categories[cats[i].ID] = cats[i]
	}
	return nil
}

func (st *memState) ListCategories(context.Context) ([]Category, error) {
	out := make([]Category, 0, len(st.categories))
	for _, c := range st.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (st *memState) GetCategory(_ context.Context, id string) (Category, error) {
	c, ok := st.categories[id]
	if !ok {
		return Category{}, fmt.Errorf("%w: category %s", tenancy.ErrNotFound, id)
	}
	return c, nil
}

func (st *memState) UpsertTemplate(_ context.Context, t *Template) error {
	accounts := make([]TemplateAccount, len(t.Accounts))
	for i, a := range t.Accounts {
		c, ok := st.categoryByName(a.Category)
		if !ok {
			return fmt.Errorf("%w: category %s", tenancy.ErrNotFound, a.Category)
		}
		a.CategoryID = c.ID
		accounts[i] = a
	}
	for id, existing := range st.templates {
		if existing.BusinessType == t.BusinessType && existing.Name == t.Name {
			t.ID = id
		}
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	t.Accounts = accounts
	stored := *t
	stored.Accounts = append([]TemplateAccount(nil), accounts...)
	st.templates[t.ID] = stored
	return nil
}

func (st *memState) ListTemplates(context.Context) ([]Template, error) {
	out := make([]Template, 0, len(st.templates))
	for _, t := range st.templates {
		t.Accounts = append([]TemplateAccount(nil), t.Accounts...)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessType < out[j].BusinessType })
	return out, nil
}

func (st *memState) GetTemplate(_ context.Context, id string) (Template, error) {
	t, ok := st.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: template %s", tenancy.ErrNotFound, id)
	}
	t.Accounts = append([]TemplateAccount(nil), t.Accounts...)
	return t, nil
}

func (st *memState) InsertAccount(_ context.Context, a *Account) error {
	if _, ok := st.categories[a.CategoryID]; !ok {
		return fmt.Errorf("%w: category %s", tenancy.ErrNotFound, a.CategoryID)
	}
	for _, other := range st.accounts {
		if other.OrganizationID == a.OrganizationID && strings.EqualFold(other.Code, a.Code) {
			return fmt.Errorf("%w: account code %s", tenancy.ErrAlreadyExists, a.Code)
		}
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	st.accounts[a.ID] = *a
	return nil
}

func (st *memState) GetAccount(_ context.Context, id string) (Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: account %s", tenancy.ErrNotFound, id)
	}
	return a, nil
}

func (st *memState) ListAccounts(_ context.Context, organizationID string, includeArchived bool) ([]Account, error) {
	var out []Account
	for _, a := range st.accounts {
		if a.OrganizationID != organizationID || (a.IsArchived && !includeArchived) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (st *memState) UpdateAccount(_ context.Context, a Account) error {
	if _, ok := st.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account %s", tenancy.ErrNotFound, a.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	st.accounts[a.ID] = a
	return nil
}

func (st *memState) ListSchemes(_ context.Context, organizationID string) ([]Scheme, error) {
	var out []Scheme
	for _, s := range st.schemes {
		if s.OrganizationID == organizationID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveFrom.Before(out[j].EffectiveFrom) })
	return out, nil
}

func (st *memState) InsertScheme(_ context.Context, s *Scheme) error {
	for _, other := range st.schemes {
		if other.OrganizationID == s.OrganizationID && other.EffectiveTo == nil && s.EffectiveTo == nil {
			return fmt.Errorf("%w: organization already has an open VAT scheme", tenancy.ErrAlreadyExists)
		}
	}
	if s.ID == "" {
		s.ID = ids.New()
	}
	s.CreatedAt = time.Now().UTC()
	st.schemes[s.ID] = *s
	return nil
}

func (st *memState) CloseScheme(_ context.Context, id string, to time.Time) error {
	s, ok := st.schemes[id]
	if !ok {
		return fmt.Errorf("%w: scheme %s", tenancy.ErrNotFound, id)
	}
	if to.Before(s.EffectiveFrom) {
		return fmt.Errorf("%w: scheme would end before it starts", tenancy.ErrInvalidArgument)
	}
	s.EffectiveTo = &to
	st.schemes[id] = s
	return nil
}

func (st *memState) ListRates(_ context.Context, organizationID string) ([]Rate, error) {
	var out []Rate
	for _, r := range st.rates {
		if r.OrganizationID == organizationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	return out, nil
}

func (st *memState) InsertRate(_ context.Context, r *Rate) error {
	for _, other := range st.rates {
		if other.OrganizationID != r.OrganizationID {
			continue
		}
		if other.Code == r.Code && other.EffectiveFrom.Equal(r.EffectiveFrom) {
			return fmt.Errorf("%w: rate %s from %s", tenancy.ErrAlreadyExists, r.Code, r.EffectiveFrom.Format(time.DateOnly))
		}
		if r.IsDefault && other.IsDefault {
			return fmt.Errorf("%w: default rate", tenancy.ErrAlreadyExists)
		}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	r.CreatedAt = time.Now().UTC()
	st.rates[r.ID] = *r
	return nil
}

func (st *memState) CloseRates(_ context.Context, organizationID, code string, to time.Time) error {
	for id, r := range st.rates {
		if r.OrganizationID == organizationID && r.Code == code && r.EffectiveTo == nil {
			end := to
			r.EffectiveTo = &end
			r.IsDefault = false
			st.rates[id] = r
		}
	}
	return nil
}

func (st *memState) ClearDefaultRate(_ context.Context, organizationID string) error {
	for id, r := range st.rates {
		if r.OrganizationID == organizationID && r.IsDefault {
			r.IsDefault = false
			st.rates[id] = r
		}
	}
	return nil
}

func (st *memState) GetReturnPeriod(_ context.Context, organizationID string) (ReturnPeriod, error) {
	p, ok := st.periods[organizationID]
	if !ok {
		return ReturnPeriod{}, fmt.Errorf("%w: return period", tenancy.ErrNotFound)
	}
	return p, nil
}

func (st *memState) UpsertReturnPeriod(_ context.Context, p *ReturnPeriod) error {
	if existing, ok := st.periods[p.OrganizationID]; ok {
		p.ID = existing.ID
	} else if p.ID == "" {
		p.ID = ids.New()
	}
	p.UpdatedAt = time.Now().UTC()
	st.periods[p.OrganizationID] = *p
	return nil
}
