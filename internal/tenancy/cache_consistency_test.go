package tenancy

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// interleavingStore runs afterOverrides once, right after an override read
// outside a transaction, to commit a write between a resolution and its cache fill.
type interleavingStore struct {
	*MemoryStore
	afterOverrides func()
}

func (s *interleavingStore) ListOverrides(ctx context.Context, membershipID string) ([]Override, error) {
	out, err := s.MemoryStore.ListOverrides(ctx, membershipID)
	if hook := s.afterOverrides; hook != nil {
		s.afterOverrides = nil
		hook()
	}
	return out, err
}

func (f *fixture) replica(store Store, cache PermissionCache) *Service {
	f.t.Helper()
	svc, err := NewService(store, WithCache(cache), WithClock(f.clock), WithLogger(zap.NewNop()))
	if err != nil {
		f.t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestDenyCommittedDuringResolutionIsNotMasked(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner@example.com")
	member := f.user("member@example.com")
	org := f.org(owner, "Acme Ltd")
	m := f.join(org, owner, member, RoleMember)

	racing := &interleavingStore{MemoryStore: f.store}
	reader := f.replica(racing, f.cache)
	racing.afterOverrides = func() {
		if _, err := f.svc.SetOverride(f.ctx, owner.ID, org.ID, m.ID, PermViewAccounts, false); err != nil {
			t.Fatalf("deny override: %v", err)
		}
	}

	stale, err := reader.EffectivePermissions(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if !contains(stale, PermViewAccounts) {
		t.Fatalf("read started before the deny should see the default: %v", stale)
	}

	if _, err := f.svc.Authorize(f.ctx, member.ID, org.ID, PermViewAccounts); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("denied override committed but still authorized: %v", err)
	}
	fresh, err := reader.EffectivePermissions(f.ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if contains(fresh, PermViewAccounts) {
		t.Fatalf("stale set served after deny: %v", fresh)
	}
}

func TestSeparateCachesFollowCommittedChanges(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner@example.com")
	member := f.user("member@example.com")
	org := f.org(owner, "Acme Ltd")
	m := f.join(org, owner, member, RoleMember)

	other := f.replica(f.store, newMapCache())
	warm := func() []string {
		t.Helper()
		perms, err := other.EffectivePermissions(f.ctx, m.ID)
		if err != nil {
			t.Fatalf("effective permissions: %v", err)
		}
		return perms
	}
	if perms := warm(); !contains(perms, PermViewAccounts) || !contains(perms, PermViewTeam) {
		t.Fatalf("unexpected member defaults: %v", perms)
	}

	if _, err := f.svc.SetOverride(f.ctx, owner.ID, org.ID, m.ID, PermViewAccounts, false); err != nil {
		t.Fatalf("deny override: %v", err)
	}
	if _, err := other.Authorize(f.ctx, member.ID, org.ID, PermViewAccounts); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("other cache still allows denied permission: %v", err)
	}

	if err := f.svc.SetRoleDefaults(f.ctx, RoleMember, []string{PermViewAccounts}); err != nil {
		t.Fatalf("set role defaults: %v", err)
	}
	if perms := warm(); contains(perms, PermViewTeam) {
		t.Fatalf("role default change not visible through other cache: %v", perms)
	}

	if err := f.svc.RemoveMember(f.ctx, owner.ID, org.ID, m.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if _, err := other.EffectivePermissions(f.ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed membership should be NotFound, got %v", err)
	}
}

func TestChangeRoleToSameRoleIsSilent(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner@example.com")
	acct := f.user("acct@example.com")
	org := f.org(owner, "Acme Ltd")
	m := f.join(org, owner, acct, RoleAccountant)

	got, err := f.svc.ChangeRole(f.ctx, owner.ID, org.ID, m.ID, RoleAccountant)
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if got.Role != RoleAccountant {
		t.Fatalf("unexpected role %s", got.Role)
	}
	after := f.membership(org, acct)
	if after.PermVersion != m.PermVersion {
		t.Fatalf("no-op role change bumped version %d -> %d", m.PermVersion, after.PermVersion)
	}
}
