package tenancy

import (
	"context"
	"time"
)

// Queries is the persistence surface used by Service. Every method is
// available both directly on a Store and inside Store.WithTx.
type Queries interface {
	InsertOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	UpdateOrganization(ctx context.Context, org Organization) error

	InsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, u User) error

	InsertMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, id string) (Membership, error)
	// LockMembership loads a membership and holds it until the transaction ends.
	LockMembership(ctx context.Context, id string) (Membership, error)
	FindMembership(ctx context.Context, organizationID, userID string) (Membership, error)
	FindMembershipByToken(ctx context.Context, tokenHash string) (Membership, error)
	ListMemberships(ctx context.Context, organizationID string) ([]Membership, error)
	ListUserMemberships(ctx context.Context, userID string) ([]Membership, error)
	// CountOwners counts accepted owner memberships, locking them for the transaction.
	CountOwners(ctx context.Context, organizationID string) (int, error)
	// UpdateMembershipRole, UpsertOverride and DeleteOverride bump the
	// membership's PermVersion in the same statement.
	UpdateMembershipRole(ctx context.Context, id string, role Role) error
	MarkInvitationAccepted(ctx context.Context, id string, at time.Time) error
	// RefreshInvitation reissues an unaccepted invitation: new token digest,
	// role and inviter, with created_at reset to at.
	RefreshInvitation(ctx context.Context, m Membership, at time.Time) error
	SetPrimaryMembership(ctx context.Context, userID, membershipID string) error
	// DeleteMembership removes the membership and its overrides.
	DeleteMembership(ctx context.Context, id string) error

	UpsertPermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	RoleDefaults(ctx context.Context, role Role) ([]string, error)
	// ReplaceRoleDefaults also advances the permission generation.
	ReplaceRoleDefaults(ctx context.Context, role Role, permissions []string) error
	PermissionGeneration(ctx context.Context) (int64, error)

	ListOverrides(ctx context.Context, membershipID string) ([]Override, error)
	UpsertOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, membershipID, permission string) error

	InsertClientLink(ctx context.Context, link *ClientLink) error
	GetClientLink(ctx context.Context, id string) (ClientLink, error)
	LockClientLink(ctx context.Context, id string) (ClientLink, error)
	FindClientLink(ctx context.Context, firmOrganizationID, clientOrganizationID string) (ClientLink, error)
	ListClientLinks(ctx context.Context, organizationID string) ([]ClientLink, error)
	UpdateClientLinkStatus(ctx context.Context, id string, status LinkStatus) error
}

// Store adds transactional grouping to Queries. fn's writes are committed
// only when it returns nil.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// PermissionCache memoizes effective permission sets. Keys embed the
// membership's PermVersion and the permission generation, so an entry written
// from an older read is never looked up again.
type PermissionCache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, perms []string)
	Invalidate(ctx context.Context, keys ...string)
	Purge(ctx context.Context)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]string, bool) { return nil, false }
func (nopCache) Set(context.Context, string, []string)        {}
func (nopCache) Invalidate(context.Context, ...string)        {}
func (nopCache) Purge(context.Context)                        {}
