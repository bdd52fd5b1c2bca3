package tenancy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"teamledger.io/internal/ids"
)

// MemoryStore is an in-process Store with the same uniqueness and cascade
// rules as the PostgreSQL schema. Transactions copy the state and swap it in
// on success.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. Service.Seed loads the catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type memState struct {
	orgs         map[string]Organization
	users        map[string]User
	emails       map[string]string
	memberships  map[string]Membership
	perms        map[string]Permission
	roleDefaults map[Role][]string
	overrides    map[string]map[string]bool
	links        map[string]ClientLink
	generation   int64
}

func newMemState() *memState {
	return &memState{
		orgs:         map[string]Organization{},
		users:        map[string]User{},
		emails:       map[string]string{},
		memberships:  map[string]Membership{},
		perms:        map[string]Permission{},
		roleDefaults: map[Role][]string{},
		overrides:    map[string]map[string]bool{},
		links:        map[string]ClientLink{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.orgs {
		c.orgs[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.emails {
		c.emails[k] = v
	}
	for k, v := range st.memberships {
		c.memberships[k] = v
	}
	for k, v := range st.perms {
		c.perms[k] = v
	}
	for k, v := range st.roleDefaults {
		c.roleDefaults[k] = append([]string(nil), v...)
	}
	for k, v := range st.overrides {
		inner := make(map[string]bool, len(v))
		for p, g := range v {
			inner[p] = g
		}
		c.overrides[k] = inner
	}
	for k, v := range st.links {
		c.links[k] = v
	}
	c.generation = st.generation
	return c
}

// WithTx runs fn against a private copy of the state and publishes it when fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.st.clone()
	if err := fn(draft); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *MemoryStore) do(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *MemoryStore) InsertOrganization(ctx context.Context, org *Organization) error {
	return s.do(func(st *memState) error { return st.InsertOrganization(ctx, org) })
}

func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (org Organization, err error) {
	err = s.do(func(st *memState) error { org, err = st.GetOrganization(ctx, id); return err })
	return org, err
}

func (s *MemoryStore) UpdateOrganization(ctx context.Context, org Organization) error {
	return s.do(func(st *memState) error { return st.UpdateOrganization(ctx, org) })
}

func (s *MemoryStore) InsertUser(ctx context.Context, u *User) error {
	return s.do(func(st *memState) error { return st.InsertUser(ctx, u) })
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (u User, err error) {
	err = s.do(func(st *memState) error { u, err = st.GetUser(ctx, id); return err })
	return u, err
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (u User, err error) {
	err = s.do(func(st *memState) error { u, err = st.GetUserByEmail(ctx, email); return err })
	return u, err
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u User) error {
	return s.do(func(st *memState) error { return st.UpdateUser(ctx, u) })
}

func (s *MemoryStore) InsertMembership(ctx context.Context, m *Membership) error {
	return s.do(func(st *memState) error { return st.InsertMembership(ctx, m) })
}

func (s *MemoryStore) GetMembership(ctx context.Context, id string) (m Membership, err error) {
	err = s.do(func(st *memState) error { m, err = st.GetMembership(ctx, id); return err })
	return m, err
}

func (s *MemoryStore) LockMembership(ctx context.Context, id string) (m Membership, err error) {
	return s.GetMembership(ctx, id)
}

func (s *MemoryStore) FindMembership(ctx context.Context, organizationID, userID string) (m Membership, err error) {
	err = s.do(func(st *memState) error { m, err = st.FindMembership(ctx, organizationID, userID); return err })
	return m, err
}

func (s *MemoryStore) FindMembershipByToken(ctx context.Context, tokenHash string) (m Membership, err error) {
	err = s.do(func(st *memState) error { m, err = st.FindMembershipByToken(ctx, tokenHash); return err })
	return m, err
}

func (s *MemoryStore) ListMemberships(ctx context.Context, organizationID string) (out []Membership, err error) {
	err = s.do(func(st *memState) error { out, err = st.ListMemberships(ctx, organizationID); return err })
	return out, err
}

func (s *MemoryStore) ListUserMemberships(ctx context.Context, userID string) (out []Membership, err error) {
	err = s.do(func(st *memState) error { out, err = st.ListUserMemberships(ctx, userID); return err })
	return out, err
}

func (s *MemoryStore) CountOwners(ctx context.Context, organizationID string) (n int, err error) {
	err = s.do(func(st *memState) error { n, err = st.CountOwners(ctx, organizationID); return err })
	return n, err
}

func (s *MemoryStore) UpdateMembershipRole(ctx context.Context, id string, role Role) error {
	return s.do(func(st *memState) error { return st.UpdateMembershipRole(ctx, id, role) })
}

func (s *MemoryStore) MarkInvitationAccepted(ctx context.Context, id string, at time.Time) error {
	return s.do(func(st *memState) error { return st.MarkInvitationAccepted(ctx, id, at) })
}

func (s *MemoryStore) RefreshInvitation(ctx context.Context, m Membership, at time.Time) error {
	return s.do(func(st *memState) error { return st.RefreshInvitation(ctx, m, at) })
}

func (s *MemoryStore) SetPrimaryMembership(ctx context.Context, userID, membershipID string) error {
	return s.do(func(st *memState) error { return st.SetPrimaryMembership(ctx, userID, membershipID) })
}

func (s *MemoryStore) DeleteMembership(ctx context.Context, id string) error {
	return s.do(func(st *memState) error { return st.DeleteMembership(ctx, id) })
}

func (s *MemoryStore) UpsertPermissions(ctx context.Context, perms []Permission) error {
	return s.do(func(st *memState) error { return st.UpsertPermissions(ctx, perms) })
}

func (s *MemoryStore) ListPermissions(ctx context.Context) (out []Permission, err error) {
	err = s.do(func(st *memState) error { out, err = st.ListPermissions(ctx); return err })
	return out, err
}

func (s *MemoryStore) GetPermissionByName(ctx context.Context, name string) (p Permission, err error) {
	err = s.do(func(st *memState) error { p, err = st.GetPermissionByName(ctx, name); return err })
	return p, err
}

func (s *MemoryStore) RoleDefaults(ctx context.Context, role Role) (out []string, err error) {
	err = s.do(func(st *memState) error { out, err = st.RoleDefaults(ctx, role); return err })
	return out, err
}

func (s *MemoryStore) ReplaceRoleDefaults(ctx context.Context, role Role, permissions []string) error {
	return s.do(func(st *memState) error { return st.ReplaceRoleDefaults(ctx, role, permissions) })
}

func (s *MemoryStore) PermissionGeneration(ctx context.Context) (gen int64, err error) {
	err = s.do(func(st *memState) error { gen, err = st.PermissionGeneration(ctx); return err })
	return gen, err
}

func (s *MemoryStore) ListOverrides(ctx context.Context, membershipID string) (out []Override, err error) {
	err = s.do(func(st *memState) error { out, err = st.ListOverrides(ctx, membershipID); return err })
	return out, err
}

func (s *MemoryStore) UpsertOverride(ctx context.Context, o Override) error {
	return s.do(func(st *memState) error { return st.UpsertOverride(ctx, o) })
}

func (s *MemoryStore) DeleteOverride(ctx context.Context, membershipID, permission string) error {
	return s.do(func(st *memState) error { return st.DeleteOverride(ctx, membershipID, permission) })
}

func (s *MemoryStore) InsertClientLink(ctx context.Context, link *ClientLink) error {
	return s.do(func(st *memState) error { return st.InsertClientLink(ctx, link) })
}

func (s *MemoryStore) GetClientLink(ctx context.Context, id string) (l ClientLink, err error) {
	err = s.do(func(st *memState) error { l, err = st.GetClientLink(ctx, id); return err })
	return l, err
}

func (s *MemoryStore) LockClientLink(ctx context.Context, id string) (ClientLink, error) {
	return s.GetClientLink(ctx, id)
}

func (s *MemoryStore) FindClientLink(ctx context.Context, firmOrganizationID, clientOrganizationID string) (l ClientLink, err error) {
	err = s.do(func(st *memState) error {
		l, err = st.FindClientLink(ctx, firmOrganizationID, clientOrganizationID)
		return err
	})
	return l, err
}

func (s *MemoryStore) ListClientLinks(ctx context.Context, organizationID string) (out []ClientLink, err error) {
	err = s.do(func(st *memState) error { out, err = st.ListClientLinks(ctx, organizationID); return err })
	return out, err
}

func (s *MemoryStore) UpdateClientLinkStatus(ctx context.Context, id string, status LinkStatus) error {
	return s.do(func(st *memState) error { return st.UpdateClientLinkStatus(ctx, id, status) })
}

// memState implements Queries without locking; MemoryStore serializes access.

func (st *memState) InsertOrganization(_ context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	if _, ok := st.orgs[org.ID]; ok {
		return fmt.Errorf("%w: organization %s", ErrAlreadyExists, org.ID)
	}
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	st.orgs[org.ID] = *org
	return nil
}

func (st *memState) GetOrganization(_ context.Context, id string) (Organization, error) {
	org, ok := st.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (st *memState) UpdateOrganization(_ context.Context, org Organization) error {
	if _, ok := st.orgs[org.ID]; !ok {
		return ErrNotFound
	}
	org.UpdatedAt = time.Now().UTC()
	st.orgs[org.ID] = org
	return nil
}

func (st *memState) InsertUser(_ context.Context, u *User) error {
	email := strings.ToLower(u.Email)
	if _, ok := st.emails[email]; ok {
		return fmt.Errorf("%w: email %s", ErrAlreadyExists, email)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = now, now
	st.users[u.ID] = *u
	st.emails[email] = u.ID
	return nil
}

func (st *memState) GetUser(_ context.Context, id string) (User, error) {
	u, ok := st.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (st *memState) GetUserByEmail(_ context.Context, email string) (User, error) {
	id, ok := st.emails[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return st.users[id], nil
}

func (st *memState) UpdateUser(_ context.Context, u User) error {
	prev, ok := st.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.Email = strings.ToLower(u.Email)
	if u.Email != prev.Email {
		if _, taken := st.emails[u.Email]; taken {
			return fmt.Errorf("%w: email %s", ErrAlreadyExists, u.Email)
		}
		delete(st.emails, prev.Email)
		st.emails[u.Email] = u.ID
	}
	u.UpdatedAt = time.Now().UTC()
	st.users[u.ID] = u
	return nil
}

func (st *memState) InsertMembership(_ context.Context, m *Membership) error {
	if _, ok := st.orgs[m.OrganizationID]; !ok {
		return fmt.Errorf("%w: organization %s", ErrNotFound, m.OrganizationID)
	}
	if _, ok := st.users[m.UserID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, m.UserID)
	}
	for _, existing := range st.memberships {
		if existing.OrganizationID == m.OrganizationID && existing.UserID == m.UserID {
			return fmt.Errorf("%w: user is already a member of the organization", ErrAlreadyExists)
		}
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	st.memberships[m.ID] = *m
	return nil
}

func (st *memState) GetMembership(_ context.Context, id string) (Membership, error) {
	m, ok := st.memberships[id]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return m, nil
}

func (st *memState) LockMembership(ctx context.Context, id string) (Membership, error) {
	return st.GetMembership(ctx, id)
}

func (st *memState) FindMembership(_ context.Context, organizationID, userID string) (Membership, error) {
	for _, m := range st.memberships {
		if m.OrganizationID == organizationID && m.UserID == userID {
			return m, nil
		}
	}
	return Membership{}, ErrNotFound
}

func (st *memState) FindMembershipByToken(_ context.Context, tokenHash string) (Membership, error) {
	if tokenHash == "" {
		return Membership{}, ErrNotFound
	}
	for _, m := range st.memberships {
		if m.InvitationTokenHash == tokenHash {
			return m, nil
		}
	}
	return Membership{}, ErrNotFound
}

func (st *memState) ListMemberships(_ context.Context, organizationID string) ([]Membership, error) {
	var out []Membership
	for _, m := range st.memberships {
		if m.OrganizationID == organizationID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (st *memState) ListUserMemberships(_ context.Context, userID string) ([]Membership, error) {
	var out []Membership
	for _, m := range st.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func sortMemberships(ms []Membership) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}

func (st *memState) CountOwners(_ context.Context, organizationID string) (int, error) {
	n := 0
	for _, m := range st.memberships {
		if m.OrganizationID == organizationID && m.Role == RoleOwner && m.Active() {
			n++
		}
	}
	return n, nil
}

func (st *memState) UpdateMembershipRole(_ context.Context, id string, role Role) error {
	m, ok := st.memberships[id]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	m.PermVersion++
	m.UpdatedAt = time.Now().UTC()
	st.memberships[id] = m
	return nil
}

func (st *memState) bumpPermVersion(id string) {
	if m, ok := st.memberships[id]; ok {
		m.PermVersion++
		st.memberships[id] = m
	}
}

func (st *memState) MarkInvitationAccepted(_ context.Context, id string, at time.Time) error {
	m, ok := st.memberships[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	m.InvitationAcceptedAt = &at
	m.UpdatedAt = at
	st.memberships[id] = m
	return nil
}

func (st *memState) RefreshInvitation(_ context.Context, m Membership, at time.Time) error {
	cur, ok := st.memberships[m.ID]
	if !ok || cur.InvitationAcceptedAt != nil {
		return ErrNotFound
	}
	for id, other := range st.memberships {
		if id != m.ID && other.InvitationTokenHash != "" && other.InvitationTokenHash == m.InvitationTokenHash {
			return fmt.Errorf("%w: invitation token", ErrAlreadyExists)
		}
	}
	at = at.UTC()
	if cur.Role != m.Role {
		cur.PermVersion++
	}
	cur.Role = m.Role
	cur.InvitedBy = m.InvitedBy
	cur.InvitationTokenHash = m.InvitationTokenHash
	cur.CreatedAt = at
	cur.UpdatedAt = at
	st.memberships[m.ID] = cur
	return nil
}

func (st *memState) SetPrimaryMembership(_ context.Context, userID, membershipID string) error {
	target, ok := st.memberships[membershipID]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}
	for id, m := range st.memberships {
		if m.UserID != userID {
			continue
		}
		m.IsPrimary = id == membershipID
		st.memberships[id] = m
	}
	return nil
}

func (st *memState) DeleteMembership(_ context.Context, id string) error {
	if _, ok := st.memberships[id]; !ok {
		return ErrNotFound
	}
	delete(st.memberships, id)
	delete(st.overrides, id)
	return nil
}

func (st *memState) UpsertPermissions(_ context.Context, perms []Permission) error {
	for _, p := range perms {
		if existing, ok := st.perms[p.Name]; ok {
			p.ID = existing.ID
		} else if p.ID == "" {
			p.ID = ids.New()
		}
		st.perms[p.Name] = p
	}
	return nil
}

func (st *memState) ListPermissions(_ context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(st.perms))
	for _, p := range st.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (st *memState) GetPermissionByName(_ context.Context, name string) (Permission, error) {
	p, ok := st.perms[name]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, name)
	}
	return p, nil
}

func (st *memState) RoleDefaults(_ context.Context, role Role) ([]string, error) {
	return append([]string(nil), st.roleDefaults[role]...), nil
}

func (st *memState) ReplaceRoleDefaults(_ context.Context, role Role, permissions []string) error {
	for _, name := range permissions {
		if _, ok := st.perms[name]; !ok {
			return fmt.Errorf("%w: permission %s", ErrNotFound, name)
		}
	}
	st.roleDefaults[role] = append([]string(nil), permissions...)
	st.generation++
	return nil
}

func (st *memState) PermissionGeneration(context.Context) (int64, error) {
	return st.generation, nil
}

func (st *memState) ListOverrides(_ context.Context, membershipID string) ([]Override, error) {
	var out []Override
	for perm, granted := range st.overrides[membershipID] {
		out = append(out, Override{MembershipID: membershipID, Permission: perm, Granted: granted})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission < out[j].Permission })
	return out, nil
}

func (st *memState) UpsertOverride(_ context.Context, o Override) error {
	if _, ok := st.memberships[o.MembershipID]; !ok {
		return fmt.Errorf("%w: membership %s", ErrNotFound, o.MembershipID)
	}
	if _, ok := st.perms[o.Permission]; !ok {
		return fmt.Errorf("%w: permission %s", ErrNotFound, o.Permission)
	}
	inner, ok := st.overrides[o.MembershipID]
	if !ok {
		inner = map[string]bool{}
		st.overrides[o.MembershipID] = inner
	}
	inner[o.Permission] = o.Granted
	st.bumpPermVersion(o.MembershipID)
	return nil
}

func (st *memState) DeleteOverride(_ context.Context, membershipID, permission string) error {
	inner, ok := st.overrides[membershipID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := inner[permission]; !ok {
		return ErrNotFound
	}
	delete(inner, permission)
	st.bumpPermVersion(membershipID)
	return nil
}

func (st *memState) InsertClientLink(_ context.Context, link *ClientLink) error {
	if link.FirmOrganizationID == link.ClientOrganizationID {
		return fmt.Errorf("%w: firm and client must differ", ErrInvalidArgument)
	}
	for _, orgID := range []string{link.FirmOrganizationID, link.ClientOrganizationID} {
		if _, ok := st.orgs[orgID]; !ok {
			return fmt.Errorf("%w: organization %s", ErrNotFound, orgID)
		}
	}
	for _, existing := range st.links {
		if existing.FirmOrganizationID == link.FirmOrganizationID && existing.ClientOrganizationID == link.ClientOrganizationID {
			return fmt.Errorf("%w: client link", ErrAlreadyExists)
		}
	}
	if link.ID == "" {
		link.ID = ids.New()
	}
	now := time.Now().UTC()
	link.CreatedAt, link.UpdatedAt = now, now
	st.links[link.ID] = *link
	return nil
}

func (st *memState) GetClientLink(_ context.Context, id string) (ClientLink, error) {
	l, ok := st.links[id]
	if !ok {
		return ClientLink{}, ErrNotFound
	}
	return l, nil
}

func (st *memState) LockClientLink(ctx context.Context, id string) (ClientLink, error) {
	return st.GetClientLink(ctx, id)
}

func (st *memState) FindClientLink(_ context.Context, firmOrganizationID, clientOrganizationID string) (ClientLink, error) {
	for _, l := range st.links {
		if l.FirmOrganizationID == firmOrganizationID && l.ClientOrganizationID == clientOrganizationID {
			return l, nil
		}
	}
	return ClientLink{}, ErrNotFound
}

func (st *memState) ListClientLinks(_ context.Context, organizationID string) ([]ClientLink, error) {
	var out []ClientLink
	for _, l := range st.links {
		if l.FirmOrganizationID == organizationID || l.ClientOrganizationID == organizationID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *memState) UpdateClientLinkStatus(_ context.Context, id string, status LinkStatus) error {
	l, ok := st.links[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.UpdatedAt = time.Now().UTC()
	st.links[id] = l
	return nil
}
