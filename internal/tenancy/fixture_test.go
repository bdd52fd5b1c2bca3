package tenancy

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *MemoryStore
	svc   *Service
	cache *mapCache

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: NewMemoryStore(),
		cache: newMapCache(),
		now:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(f.store,
		WithCache(f.cache),
		WithClock(f.clock),
		WithLogger(zap.NewNop()),
		WithInvitationTTL(72*time.Hour),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	if err := svc.Seed(f.ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// user inserts a registered user directly; hashing is covered separately.
func (f *fixture) user(email string) User {
	f.t.Helper()
	u := User{Email: email, PasswordHash: "$argon2id$placeholder", IsActive: true}
	if err := f.store.InsertUser(f.ctx, &u); err != nil {
		f.t.Fatalf("insert user %s: %v", email, err)
	}
	return u
}

func (f *fixture) org(owner User, name string) Organization {
	f.t.Helper()
	org, err := f.svc.CreateOrganization(f.ctx, owner.ID, NewOrganization{
		Name:                 name,
		BusinessType:         "limited_company",
		FiscalYearStartDay:   6,
		FiscalYearStartMonth: 4,
	})
	if err != nil {
		f.t.Fatalf("create organization %s: %v", name, err)
	}
	return org
}

func (f *fixture) membership(org Organization, u User) Membership {
	f.t.Helper()
	m, err := f.store.FindMembership(f.ctx, org.ID, u.ID)
	if err != nil {
		f.t.Fatalf("find membership: %v", err)
	}
	return m
}

func (f *fixture) join(org Organization, inviter, u User, role Role) Membership {
	f.t.Helper()
	inv, err := f.svc.InviteMember(f.ctx, inviter.ID, org.ID, u.Email, role)
	if err != nil {
		f.t.Fatalf("invite %s: %v", u.Email, err)
	}
	m, err := f.svc.AcceptInvitation(f.ctx, u.ID, inv.Token)
	if err != nil {
		f.t.Fatalf("accept %s: %v", u.Email, err)
	}
	return m
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]string
	hits    int
}

func newMapCache() *mapCache { return &mapCache{entries: map[string][]string{}} }

func (c *mapCache) Get(_ context.Context, id string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[id]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Set(_ context.Context, id string, perms []string) {
	c.mu.Lock()
	c.entries[id] = perms
	c.mu.Unlock()
}

func (c *mapCache) Invalidate(_ context.Context, ids ...string) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.entries, id)
	}
	c.mu.Unlock()
}

func (c *mapCache) Purge(context.Context) {
	c.mu.Lock()
	c.entries = map[string][]string{}
	c.mu.Unlock()
}
