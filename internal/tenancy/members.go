package tenancy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"teamledger.io/internal/ids"
	"teamledger.io/internal/obs"
)

// ListMembers lists the organization's memberships, invited ones included.
func (s *Service) ListMembers(ctx context.Context, actorID, organizationID string) ([]Member, error) {
	if _, err := s.Authorize(ctx, actorID, organizationID, PermViewTeam); err != nil {
		return nil, err
	}
	ms, err := s.store.ListMemberships(ctx, strings.TrimSpace(organizationID))
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		u, err := s.store.GetUser(ctx, m.UserID)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.ID, err)
		}
		out = append(out, Member{Membership: m, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName})
	}
	return out, nil
}

// InviteMember creates an unaccepted membership for email and returns the
// one-time token. Unknown emails get an unregistered placeholder user.
func (s *Service) InviteMember(ctx context.Context, actorID, organizationID, email string, role Role) (Invitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Invitation{}, err
	}
	if !role.Valid() {
		return Invitation{}, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}
	token, err := ids.NewToken()
	if err != nil {
		return Invitation{}, err
	}
	organizationID = strings.TrimSpace(organizationID)

	var inv Invitation
	err = s.store.WithTx(ctx, func(q Queries) error {
		inviter, err := s.authorize(ctx, q, actorID, organizationID, PermInviteMembers)
		if err != nil {
			return err
		}
		if role == RoleOwner && inviter.Role != RoleOwner {
			return fmt.Errorf("%w: only an owner may invite an owner", ErrPermissionDenied)
		}
		user, err := q.GetUserByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			user = User{Email: email, IsActive: true}
			err = q.InsertUser(ctx, &user)
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		existing, err := q.FindMembership(ctx, organizationID, user.ID)
		if err == nil {
			existing, err = q.LockMembership(ctx, existing.ID)
		}
		switch {
		case err == nil && existing.Active():
			return fmt.Errorf("%w: %s is already a member", ErrAlreadyExists, email)
		case err == nil:
			// Re-inviting replaces the pending token and restarts the expiry window.
			if existing.Role == RoleOwner && inviter.Role != RoleOwner {
				return fmt.Errorf("%w: only an owner may reissue an owner invitation", ErrPermissionDenied)
			}
			existing.Role = role
			existing.InvitedBy = inviter.UserID
			existing.InvitationTokenHash = ids.Digest(token)
			if err := q.RefreshInvitation(ctx, existing, now); err != nil {
				return err
			}
			existing.CreatedAt = now
			inv = Invitation{Membership: existing, Email: email, Token: token, ExpiresAt: now.Add(s.inviteTTL)}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}
		m := Membership{
			OrganizationID:      organizationID,
			UserID:              user.ID,
			Role:                role,
			InvitedBy:           inviter.UserID,
			InvitationTokenHash: ids.Digest(token),
			CreatedAt:           now,
		}
		if err := q.InsertMembership(ctx, &m); err != nil {
			return err
		}
		inv = Invitation{Membership: m, Email: email, Token: token, ExpiresAt: now.Add(s.inviteTTL)}
		return nil
	})
	if err != nil {
		return Invitation{}, err
	}
	obs.ObserveInvitation("issued")
	s.record(ctx, actorID, "member.invited",
		zap.String("organization_id", organizationID),
		zap.String("membership_id", inv.Membership.ID),
		zap.String("role", role.String()),
	)
	return inv, nil
}

// AcceptInvitation consumes an invitation token on behalf of the invitee.
func (s *Service) AcceptInvitation(ctx context.Context, actorID, token string) (Membership, error) {
	token = strings.TrimSpace(token)
	actorID = strings.TrimSpace(actorID)
	if token == "" || actorID == "" {
		obs.ObserveInvitation("invalid")
		return Membership{}, ErrTokenInvalid
	}
	var m Membership
	err := s.store.WithTx(ctx, func(q Queries) error {
		found, err := q.FindMembershipByToken(ctx, ids.Digest(token))
		if errors.Is(err, ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		m, err = q.LockMembership(ctx, found.ID)
		if err != nil {
			return err
		}
		if m.UserID != actorID {
			return ErrTokenInvalid
		}
		if m.Active() {
			return ErrAlreadyAccepted
		}
		now := s.now().UTC()
		if now.Sub(m.CreatedAt) > s.inviteTTL {
			return ErrTokenExpired
		}
		if err := q.MarkInvitationAccepted(ctx, m.ID, now); err != nil {
			return err
		}
		m.InvitationAcceptedAt = &now

		user, err := q.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		others, err := q.ListUserMemberships(ctx, actorID)
		if err != nil {
			return err
		}
		if !hasPrimary(others) {
			if err := q.SetPrimaryMembership(ctx, actorID, m.ID); err != nil {
				return err
			}
			m.IsPrimary = true
		}
		if user.DefaultOrganizationID == "" {
			user.DefaultOrganizationID = m.OrganizationID
			return q.UpdateUser(ctx, user)
		}
		return nil
	})
	switch {
	case err == nil:
		obs.ObserveInvitation("accepted")
	case errors.Is(err, ErrAlreadyAccepted):
		obs.ObserveInvitation("replayed")
	case errors.Is(err, ErrTokenExpired):
		obs.ObserveInvitation("expired")
	case errors.Is(err, ErrTokenInvalid):
		obs.ObserveInvitation("invalid")
	}
	if err != nil {
		return Membership{}, err
	}
	s.record(ctx, actorID, "invitation.accepted", zap.String("membership_id", m.ID), zap.String("organization_id", m.OrganizationID))
	return m, nil
}

// RemoveMember deletes a membership and its overrides. Members may always
// remove themselves; removing anyone else requires manage_team. The last
// accepted owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, organizationID, membershipID string) error {
	membershipID = strings.TrimSpace(membershipID)
	organizationID = strings.TrimSpace(organizationID)
	var target Membership
	err := s.store.WithTx(ctx, func(q Queries) error {
		actor, err := s.activeMembership(ctx, q, actorID, organizationID, PermManageTeam)
		if err != nil {
			return err
		}
		self := actor.ID == membershipID
		if !self {
			if _, err := s.authorize(ctx, q, actorID, organizationID, PermManageTeam); err != nil {
				return err
			}
		}
		target, err = lockOrgMembership(ctx, q, organizationID, membershipID)
		if err != nil {
			return err
		}
		if target.Role == RoleOwner {
			if !self && actor.Role != RoleOwner {
				return fmt.Errorf("%w: only an owner may remove an owner", ErrPermissionDenied)
			}
			if err := ensureAnotherOwner(ctx, q, target); err != nil {
				return err
			}
		}
		if err := q.DeleteMembership(ctx, target.ID); err != nil {
			return err
		}
		user, err := q.GetUser(ctx, target.UserID)
		if err != nil {
			return err
		}
		if user.DefaultOrganizationID == organizationID {
			user.DefaultOrganizationID = ""
			return q.UpdateUser(ctx, user)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.forget(ctx, target)
	s.record(ctx, actorID, "member.removed", zap.String("organization_id", organizationID), zap.String("membership_id", membershipID))
	return nil
}

// ChangeRole sets a member's role. Only owners may grant or take away the owner role.
func (s *Service) ChangeRole(ctx context.Context, actorID, organizationID, membershipID string, role Role) (Membership, error) {
	if !role.Valid() {
		return Membership{}, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}
	membershipID = strings.TrimSpace(membershipID)
	organizationID = strings.TrimSpace(organizationID)
	var target, before Membership
	err := s.store.WithTx(ctx, func(q Queries) error {
		actor, err := s.authorize(ctx, q, actorID, organizationID, PermManageTeam)
		if err != nil {
			return err
		}
		target, err = lockOrgMembership(ctx, q, organizationID, membershipID)
		if err != nil {
			return err
		}
		if (role == RoleOwner || target.Role == RoleOwner) && actor.Role != RoleOwner {
			return fmt.Errorf("%w: only an owner may change owner roles", ErrPermissionDenied)
		}
		before = target
		if target.Role == role {
			return nil
		}
		if target.Role == RoleOwner {
			if err := ensureAnotherOwner(ctx, q, target); err != nil {
				return err
			}
		}
		if err := q.UpdateMembershipRole(ctx, target.ID, role); err != nil {
			return err
		}
		target.Role = role
		target.PermVersion++
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	if before.Role == role {
		return target, nil
	}
	s.forget(ctx, before)
	s.record(ctx, actorID, "member.role_changed", zap.String("membership_id", target.ID), zap.String("role", role.String()))
	return target, nil
}

// SetPrimary marks one of the caller's accepted memberships as primary.
func (s *Service) SetPrimary(ctx context.Context, actorID, membershipID string) (Membership, error) {
	actorID = strings.TrimSpace(actorID)
	membershipID = strings.TrimSpace(membershipID)
	var m Membership
	err := s.store.WithTx(ctx, func(q Queries) error {
		var err error
		m, err = q.LockMembership(ctx, membershipID)
		if errors.Is(err, ErrNotFound) || (err == nil && m.UserID != actorID) {
			return fmt.Errorf("%w: membership %s", ErrNotFound, membershipID)
		}
		if err != nil {
			return err
		}
		if !m.Active() {
			return fmt.Errorf("%w: invitation not accepted", ErrInvalidState)
		}
		if err := q.SetPrimaryMembership(ctx, actorID, m.ID); err != nil {
			return err
		}
		m.IsPrimary = true
		user, err := q.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		user.DefaultOrganizationID = m.OrganizationID
		return q.UpdateUser(ctx, user)
	})
	if err != nil {
		return Membership{}, err
	}
	s.record(ctx, actorID, "membership.primary_set", zap.String("membership_id", m.ID))
	return m, nil
}

// SetOverride grants or denies one permission to a member. Granting requires
// the caller to hold the permission.
func (s *Service) SetOverride(ctx context.Context, actorID, organizationID, membershipID, permission string, granted bool) (Override, error) {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return Override{}, fmt.Errorf("%w: permission is required", ErrInvalidArgument)
	}
	o := Override{MembershipID: strings.TrimSpace(membershipID), Permission: permission, Granted: granted}
	var target Membership
	err := s.store.WithTx(ctx, func(q Queries) error {
		actor, locked, err := s.overrideTarget(ctx, q, actorID, organizationID, o.MembershipID)
		if err != nil {
			return err
		}
		if _, err := q.GetPermissionByName(ctx, permission); err != nil {
			return err
		}
		if granted {
			held, err := s.resolve(ctx, q, actor)
			if err != nil {
				return err
			}
			if !slices.Contains(held, permission) {
				return fmt.Errorf("%w: cannot grant %s without holding it", ErrPermissionDenied, permission)
			}
		}
		target = locked
		o.MembershipID = target.ID
		return q.UpsertOverride(ctx, o)
	})
	if err != nil {
		return Override{}, err
	}
	s.forget(ctx, target)
	s.record(ctx, actorID, "override.set",
		zap.String("membership_id", o.MembershipID),
		zap.String("permission", permission),
		zap.Bool("granted", granted),
	)
	return o, nil
}

// ClearOverride removes an override so the role default applies again.
func (s *Service) ClearOverride(ctx context.Context, actorID, organizationID, membershipID, permission string) error {
	permission = strings.TrimSpace(permission)
	membershipID = strings.TrimSpace(membershipID)
	var target Membership
	err := s.store.WithTx(ctx, func(q Queries) error {
		_, locked, err := s.overrideTarget(ctx, q, actorID, organizationID, membershipID)
		if err != nil {
			return err
		}
		target = locked
		return q.DeleteOverride(ctx, target.ID, permission)
	})
	if err != nil {
		return err
	}
	s.forget(ctx, target)
	s.record(ctx, actorID, "override.cleared", zap.String("membership_id", membershipID), zap.String("permission", permission))
	return nil
}

func (s *Service) overrideTarget(ctx context.Context, q Queries, actorID, organizationID, membershipID string) (Membership, Membership, error) {
	organizationID = strings.TrimSpace(organizationID)
	actor, err := s.authorize(ctx, q, actorID, organizationID, PermManagePermissions)
	if err != nil {
		return Membership{}, Membership{}, err
	}
	target, err := lockOrgMembership(ctx, q, organizationID, membershipID)
	if err != nil {
		return Membership{}, Membership{}, err
	}
	if target.Role == RoleOwner && actor.Role != RoleOwner {
		return Membership{}, Membership{}, fmt.Errorf("%w: only an owner may change an owner's permissions", ErrPermissionDenied)
	}
	return actor, target, nil
}

// ListOverrides lists a member's overrides; it requires view_team.
func (s *Service) ListOverrides(ctx context.Context, actorID, organizationID, membershipID string) ([]Override, error) {
	target, err := s.visibleMembership(ctx, actorID, organizationID, membershipID)
	if err != nil {
		return nil, err
	}
	return s.store.ListOverrides(ctx, target.ID)
}

// MemberPermissions returns a member's effective permissions. Members may read
// their own; reading others requires view_team.
func (s *Service) MemberPermissions(ctx context.Context, actorID, organizationID, membershipID string) ([]string, error) {
	target, err := s.visibleMembership(ctx, actorID, organizationID, membershipID)
	if err != nil {
		return nil, err
	}
	return s.cachedPermissions(ctx, target)
}

func (s *Service) visibleMembership(ctx context.Context, actorID, organizationID, membershipID string) (Membership, error) {
	organizationID = strings.TrimSpace(organizationID)
	membershipID = strings.TrimSpace(membershipID)
	actor, err := s.activeMembership(ctx, nil, actorID, organizationID, PermViewTeam)
	if err != nil {
		return Membership{}, err
	}
	if actor.ID == membershipID {
		return actor, nil
	}
	if _, err := s.Authorize(ctx, actorID, organizationID, PermViewTeam); err != nil {
		return Membership{}, err
	}
	target, err := s.store.GetMembership(ctx, membershipID)
	if errors.Is(err, ErrNotFound) || (err == nil && target.OrganizationID != organizationID) {
		return Membership{}, fmt.Errorf("%w: membership %s", ErrNotFound, membershipID)
	}
	return target, err
}

func lockOrgMembership(ctx context.Context, q Queries, organizationID, membershipID string) (Membership, error) {
	if membershipID == "" {
		return Membership{}, fmt.Errorf("%w: membership_id is required", ErrInvalidArgument)
	}
	m, err := q.LockMembership(ctx, membershipID)
	if errors.Is(err, ErrNotFound) || (err == nil && m.OrganizationID != organizationID) {
		return Membership{}, fmt.Errorf("%w: membership %s", ErrNotFound, membershipID)
	}
	return m, err
}

// ensureAnotherOwner fails when target is the organization's only accepted owner.
func ensureAnotherOwner(ctx context.Context, q Queries, target Membership) error {
	if !target.Active() {
		return nil
	}
	owners, err := q.CountOwners(ctx, target.OrganizationID)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return fmt.Errorf("%w: organization must keep at least one owner", ErrInvalidState)
	}
	return nil
}
