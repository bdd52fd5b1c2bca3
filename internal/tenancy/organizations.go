package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

const (
	defaultCurrency            = "GBP"
	defaultDataRetentionMonths = 84
)

// CreateOrganization creates an organization and makes actorID its primary owner.
func (s *Service) CreateOrganization(ctx context.Context, actorID string, in NewOrganization) (Organization, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Organization{}, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	org := Organization{
		Name:                 strings.TrimSpace(in.Name),
		RegistrationNumber:   strings.TrimSpace(in.RegistrationNumber),
		VATNumber:            strings.TrimSpace(in.VATNumber),
		BusinessType:         strings.TrimSpace(strings.ToLower(in.BusinessType)),
		FiscalYearStartDay:   in.FiscalYearStartDay,
		FiscalYearStartMonth: in.FiscalYearStartMonth,
		DefaultCurrency:      strings.TrimSpace(strings.ToUpper(in.DefaultCurrency)),
		Email:                strings.TrimSpace(strings.ToLower(in.Email)),
		Phone:                strings.TrimSpace(in.Phone),
		Country:              strings.TrimSpace(in.Country),
		DataRetentionMonths:  defaultDataRetentionMonths,
		IsActive:             true,
	}
	if org.DefaultCurrency == "" {
		org.DefaultCurrency = defaultCurrency
	}
	if err := validateOrganization(org); err != nil {
		return Organization{}, err
	}

	err := s.store.WithTx(ctx, func(q Queries) error {
		user, err := q.GetUser(ctx, actorID)
		if err != nil {
			return fmt.Errorf("creator: %w", err)
		}
		if err := q.InsertOrganization(ctx, &org); err != nil {
			return err
		}
		existing, err := q.ListUserMemberships(ctx, actorID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		m := Membership{
			OrganizationID:       org.ID,
			UserID:               actorID,
			Role:                 RoleOwner,
			IsPrimary:            !hasPrimary(existing),
			InvitationAcceptedAt: &now,
			CreatedAt:            now,
		}
		if err := q.InsertMembership(ctx, &m); err != nil {
			return err
		}
		if user.DefaultOrganizationID == "" {
			user.DefaultOrganizationID = org.ID
			return q.UpdateUser(ctx, user)
		}
		return nil
	})
	if err != nil {
		return Organization{}, err
	}
	s.record(ctx, actorID, "organization.created", zap.String("organization_id", org.ID))
	return org, nil
}

// GetOrganization returns an organization visible to actorID, either through a
// membership or through an active firm-client link.
func (s *Service) GetOrganization(ctx context.Context, actorID, organizationID string) (Organization, error) {
	if _, err := s.activeMembership(ctx, nil, actorID, organizationID, ""); err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			return Organization{}, err
		}
		if _, linkErr := s.AuthorizeClientAccess(ctx, actorID, organizationID, PermAccessClients); linkErr != nil {
			return Organization{}, err
		}
	}
	return s.store.GetOrganization(ctx, strings.TrimSpace(organizationID))
}

// UpdateOrganization applies upd; it requires manage_organization.
func (s *Service) UpdateOrganization(ctx context.Context, actorID, organizationID string, upd OrganizationUpdate) (Organization, error) {
	var org Organization
	err := s.store.WithTx(ctx, func(q Queries) error {
		if _, err := s.authorize(ctx, q, actorID, organizationID, PermManageOrganization); err != nil {
			return err
		}
		var err error
		org, err = q.GetOrganization(ctx, strings.TrimSpace(organizationID))
		if err != nil {
			return err
		}
		if upd.Name != nil {
			org.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.BusinessType != nil {
			org.BusinessType = strings.TrimSpace(strings.ToLower(*upd.BusinessType))
		}
		if upd.VATNumber != nil {
			org.VATNumber = strings.TrimSpace(*upd.VATNumber)
		}
		if upd.FiscalYearStartDay != nil {
			org.FiscalYearStartDay = *upd.FiscalYearStartDay
		}
		if upd.FiscalYearStartMonth != nil {
			org.FiscalYearStartMonth = *upd.FiscalYearStartMonth
		}
		if upd.DefaultCurrency != nil {
			org.DefaultCurrency = strings.TrimSpace(strings.ToUpper(*upd.DefaultCurrency))
		}
		if upd.IsActive != nil {
			org.IsActive = *upd.IsActive
		}
		if err := validateOrganization(org); err != nil {
			return err
		}
		return q.UpdateOrganization(ctx, org)
	})
	if err != nil {
		return Organization{}, err
	}
	s.record(ctx, actorID, "organization.updated", zap.String("organization_id", org.ID))
	return org, nil
}

// LookupOrganization reads an organization without checking the caller.
// Collaborating services call it only after authorizing.
func (s *Service) LookupOrganization(ctx context.Context, organizationID string) (Organization, error) {
	return s.store.GetOrganization(ctx, strings.TrimSpace(organizationID))
}

func validateOrganization(org Organization) error {
	if org.Name == "" {
		return fmt.Errorf("%w: organization name is required", ErrInvalidArgument)
	}
	if org.BusinessType == "" {
		return fmt.Errorf("%w: business_type is required", ErrInvalidArgument)
	}
	if err := ValidateFiscalYearStart(org.FiscalYearStartDay, org.FiscalYearStartMonth); err != nil {
		return err
	}
	if len(org.DefaultCurrency) != 3 || strings.IndexFunc(org.DefaultCurrency, func(r rune) bool { return !unicode.IsUpper(r) }) >= 0 {
		return fmt.Errorf("%w: default_currency must be a three letter code", ErrInvalidArgument)
	}
	return nil
}

// ValidateFiscalYearStart checks that day/month name a real calendar day.
// February 29 is rejected because it does not exist every year.
func ValidateFiscalYearStart(day, month int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: fiscal_year_start_month must be 1-12", ErrInvalidArgument)
	}
	last := time.Date(2001, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > last {
		return fmt.Errorf("%w: fiscal_year_start_day must be 1-%d for month %d", ErrInvalidArgument, last, month)
	}
	return nil
}

// RegisterUser creates an account, or completes the placeholder account left
// by an invitation to the same email.
func (s *Service) RegisterUser(ctx context.Context, in NewUser) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, minPasswordLength)
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)

	var user User
	err = s.store.WithTx(ctx, func(q Queries) error {
		existing, err := q.GetUserByEmail(ctx, email)
		switch {
		case err == nil && existing.Registered():
			return fmt.Errorf("%w: email %s is registered", ErrAlreadyExists, email)
		case err == nil:
			existing.PasswordHash = hash
			existing.FirstName = first
			existing.LastName = last
			existing.IsActive = true
			user = existing
			return q.UpdateUser(ctx, user)
		case errors.Is(err, ErrNotFound):
			user = User{Email: email, PasswordHash: hash, FirstName: first, LastName: last, IsActive: true}
			return q.InsertUser(ctx, &user)
		default:
			return err
		}
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, user.ID, "user.registered", zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate verifies credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !user.Registered() || !user.IsActive {
		return User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			s.log.Warn("password verification failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		return User{}, ErrInvalidCredentials
	}
	now := s.now().UTC()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUser returns userID's profile to the user themselves or to a teammate
// holding view_team in a shared organization.
func (s *Service) GetUser(ctx context.Context, actorID, userID string) (User, error) {
	actorID = strings.TrimSpace(actorID)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if actorID != userID {
		theirs, err := s.store.ListUserMemberships(ctx, userID)
		if err != nil {
			return User{}, err
		}
		allowed := false
		for _, m := range theirs {
			if _, err := s.authorize(ctx, nil, actorID, m.OrganizationID, PermViewTeam); err == nil {
				allowed = true
				break
			}
		}
		if !allowed {
			return User{}, permissionDenied(PermViewTeam)
		}
	}
	return s.store.GetUser(ctx, userID)
}

// Memberships lists the caller's own memberships.
func (s *Service) Memberships(ctx context.Context, actorID string) ([]Membership, error) {
	return s.store.ListUserMemberships(ctx, strings.TrimSpace(actorID))
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(strings.ToLower(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidArgument)
	}
	return email, nil
}

func hasPrimary(ms []Membership) bool {
	for _, m := range ms {
		if m.IsPrimary {
			return true
		}
	}
	return false
}
