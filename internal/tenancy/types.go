package tenancy

import "time"

// Organization is a tenant business entity.
type Organization struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	RegistrationNumber   string    `json:"registration_number,omitempty"`
	VATNumber            string    `json:"vat_number,omitempty"`
	BusinessType         string    `json:"business_type"`
	FiscalYearStartDay   int       `json:"fiscal_year_start_day"`
	FiscalYearStartMonth int       `json:"fiscal_year_start_month"`
	DefaultCurrency      string    `json:"default_currency"`
	Email                string    `json:"email,omitempty"`
	Phone                string    `json:"phone,omitempty"`
	Country              string    `json:"country,omitempty"`
	DataRetentionMonths  int       `json:"data_retention_months"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// User is an account holder.
type User struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	FirstName             string     `json:"first_name"`
	LastName              string     `json:"last_name"`
	IsVerified            bool       `json:"is_verified"`
	TwoFactorEnabled      bool       `json:"two_factor_enabled"`
	IsActive              bool       `json:"is_active"`
	DefaultOrganizationID string     `json:"default_organization_id,omitempty"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Registered reports whether the user has set credentials. Users created by
// an invitation to an unknown email have none until they register.
func (u User) Registered() bool { return u.PasswordHash != "" }

// MembershipState is derived from the invitation columns; it is not stored.
type MembershipState string

const (
	MembershipInvited MembershipState = "invited"
	MembershipActive  MembershipState = "active"
)

// Membership binds a user to an organization with a role.
type Membership struct {
	ID                   string     `json:"id"`
	OrganizationID       string     `json:"organization_id"`
	UserID               string     `json:"user_id"`
	Role                 Role       `json:"role"`
	IsPrimary            bool       `json:"is_primary"`
	InvitedBy            string     `json:"invited_by,omitempty"`
	InvitationTokenHash  string     `json:"-"`
	InvitationAcceptedAt *time.Time `json:"invitation_accepted_at,omitempty"`
	// PermVersion changes whenever the role or an override changes.
	PermVersion int64     `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// State reports whether the membership is still waiting for acceptance.
func (m Membership) State() MembershipState {
	if m.InvitationAcceptedAt == nil {
		return MembershipInvited
	}
	return MembershipActive
}

// Active reports whether the membership has been accepted.
func (m Membership) Active() bool { return m.State() == MembershipActive }

// Invitation is returned once when a member is invited. Token is never stored.
type Invitation struct {
	Membership Membership `json:"membership"`
	Email      string     `json:"email"`
	Token      string     `json:"token"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Permission is a named capability from the seeded catalog.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
}

// Override grants or denies a single permission to one membership.
type Override struct {
	MembershipID string `json:"membership_id"`
	Permission   string `json:"permission"`
	Granted      bool   `json:"granted"`
}

// ClientLink lets a firm organization act on behalf of a client organization.
type ClientLink struct {
	ID                   string     `json:"id"`
	FirmOrganizationID   string     `json:"firm_organization_id"`
	ClientOrganizationID string     `json:"client_organization_id"`
	Status               LinkStatus `json:"status"`
	ManagedByUserID      string     `json:"managed_by_user_id,omitempty"`
	ServicesProvided     string     `json:"services_provided,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Scope reports the access level the link confers while active.
func (l ClientLink) Scope() Scope {
	if l.Status != LinkActive {
		return ScopeNone
	}
	return ScopeFromServices(l.ServicesProvided)
}

// AccessDecision is the outcome of a firm-client access check.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Scope   string `json:"scope"`
	LinkID  string `json:"link_id,omitempty"`
}

// NewOrganization carries the fields accepted when creating an organization.
type NewOrganization struct {
	Name                 string
	RegistrationNumber   string
	VATNumber            string
	BusinessType         string
	FiscalYearStartDay   int
	FiscalYearStartMonth int
	DefaultCurrency      string
	Email                string
	Phone                string
	Country              string
}

// OrganizationUpdate holds optional changes to an organization.
type OrganizationUpdate struct {
	Name                 *string
	BusinessType         *string
	VATNumber            *string
	FiscalYearStartDay   *int
	FiscalYearStartMonth *int
	DefaultCurrency      *string
	IsActive             *bool
}

// NewUser carries registration input.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// NewClientLink carries the fields accepted when a firm adds a client.
type NewClientLink struct {
	ClientOrganizationID string
	ManagedByUserID      string
	ServicesProvided     string
}

// Member is a membership joined with the user's public profile.
type Member struct {
	Membership
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}
