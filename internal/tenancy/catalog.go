package tenancy

const (
	PermViewAccounts       = "view_accounts"
	PermManageAccounts     = "manage_accounts"
	PermViewVAT            = "view_vat"
	PermManageVAT          = "manage_vat"
	PermViewTeam           = "view_team"
	PermInviteMembers      = "invite_members"
	PermManageTeam         = "manage_team"
	PermManagePermissions  = "manage_permissions"
	PermManageOrganization = "manage_organization"
	PermViewBilling        = "view_billing"
	PermManageClients      = "manage_clients"
	PermAccessClients      = "access_clients"
)

const (
	CategoryAccounts     = "accounts"
	CategoryVAT          = "vat"
	CategoryTeam         = "team"
	CategoryOrganization = "organization"
	CategoryClients      = "clients"
)

// Access classifies a permission as reading or changing data.
type Access int

const (
	AccessRead Access = iota + 1
	AccessWrite
)

type catalogEntry struct {
	Permission
	access Access
}

var catalog = []catalogEntry{
	{Permission{Name: PermViewAccounts, Category: CategoryAccounts, Description: "View the chart of accounts and balances"}, AccessRead},
	{Permission{Name: PermManageAccounts, Category: CategoryAccounts, Description: "Create, edit and archive accounts"}, AccessWrite},
	{Permission{Name: PermViewVAT, Category: CategoryVAT, Description: "View VAT schemes, rates and return periods"}, AccessRead},
	{Permission{Name: PermManageVAT, Category: CategoryVAT, Description: "Change VAT configuration"}, AccessWrite},
	{Permission{Name: PermViewTeam, Category: CategoryTeam, Description: "List team members and their permissions"}, AccessRead},
	{Permission{Name: PermInviteMembers, Category: CategoryTeam, Description: "Invite new members to the organization"}, AccessWrite},
	{Permission{Name: PermManageTeam, Category: CategoryTeam, Description: "Change member roles and remove members"}, AccessWrite},
	{Permission{Name: PermManagePermissions, Category: CategoryTeam, Description: "Grant or revoke individual permissions"}, AccessWrite},
	{Permission{Name: PermManageOrganization, Category: CategoryOrganization, Description: "Edit organization settings and approve accountants"}, AccessWrite},
	{Permission{Name: PermViewBilling, Category: CategoryOrganization, Description: "View subscription and billing state"}, AccessRead},
	{Permission{Name: PermManageClients, Category: CategoryClients, Description: "Add and manage client organizations"}, AccessWrite},
	{Permission{Name: PermAccessClients, Category: CategoryClients, Description: "Act on behalf of linked client organizations"}, AccessRead},
}

// BuiltinPermissions returns the seeded permission catalog.
func BuiltinPermissions() []Permission {
	out := make([]Permission, len(catalog))
	for i, e := range catalog {
		out[i] = e.Permission
	}
	return out
}

// AccessOf reports the access kind of a permission. Unknown names are treated as writes.
func AccessOf(name string) Access {
	for _, e := range catalog {
		if e.Name == name {
			return e.access
		}
	}
	return AccessWrite
}

// IsBuiltinPermission reports whether name belongs to the seeded catalog.
func IsBuiltinPermission(name string) bool {
	for _, e := range catalog {
		if e.Name == name {
			return true
		}
	}
	return false
}

// DefaultRoleGrants returns the seeded role default grants.
func DefaultRoleGrants() map[Role][]string {
	all := make([]string, 0, len(catalog))
	adminSet := make([]string, 0, len(catalog))
	for _, e := range catalog {
		all = append(all, e.Name)
		if e.Name != PermManageOrganization {
			adminSet = append(adminSet, e.Name)
		}
	}
	return map[Role][]string{
		RoleOwner: all,
		RoleAdmin: adminSet,
		RoleAccountant: {
			PermViewAccounts, PermManageAccounts,
			PermViewVAT, PermManageVAT,
			PermViewTeam, PermAccessClients,
		},
		RoleMember: {PermViewAccounts, PermViewTeam},
	}
}
