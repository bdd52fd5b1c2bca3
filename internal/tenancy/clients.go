package tenancy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"teamledger.io/internal/obs"
)

// CreateClientLink records that firmOrganizationID services a client. The link
// starts pending until the client activates it.
func (s *Service) CreateClientLink(ctx context.Context, actorID, firmOrganizationID string, in NewClientLink) (ClientLink, error) {
	firmOrganizationID = strings.TrimSpace(firmOrganizationID)
	clientID := strings.TrimSpace(in.ClientOrganizationID)
	if firmOrganizationID == "" || clientID == "" {
		return ClientLink{}, fmt.Errorf("%w: firm and client organization ids are required", ErrInvalidArgument)
	}
	if firmOrganizationID == clientID {
		return ClientLink{}, fmt.Errorf("%w: an organization cannot be its own client", ErrInvalidArgument)
	}
	link := ClientLink{
		FirmOrganizationID:   firmOrganizationID,
		ClientOrganizationID: clientID,
		Status:               LinkPending,
		ManagedByUserID:      strings.TrimSpace(in.ManagedByUserID),
		ServicesProvided:     NormalizeServices(in.ServicesProvided),
	}
	err := s.store.WithTx(ctx, func(q Queries) error {
		actor, err := s.authorize(ctx, q, actorID, firmOrganizationID, PermManageClients)
		if err != nil {
			return err
		}
		if link.ManagedByUserID == "" {
			link.ManagedByUserID = actor.UserID
		} else {
			manager, err := q.FindMembership(ctx, firmOrganizationID, link.ManagedByUserID)
			if errors.Is(err, ErrNotFound) || (err == nil && !manager.Active()) {
				return fmt.Errorf("%w: managed_by_user_id must be a member of the firm", ErrInvalidArgument)
			}
			if err != nil {
				return err
			}
		}
		if _, err := q.GetOrganization(ctx, clientID); err != nil {
			return fmt.Errorf("client organization: %w", err)
		}
		if _, err := q.FindClientLink(ctx, firmOrganizationID, clientID); err == nil {
			return fmt.Errorf("%w: client link already exists", ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return q.InsertClientLink(ctx, &link)
	})
	if err != nil {
		return ClientLink{}, err
	}
	s.record(ctx, actorID, "client_link.created",
		zap.String("link_id", link.ID),
		zap.String("firm_organization_id", firmOrganizationID),
		zap.String("client_organization_id", clientID),
	)
	return link, nil
}

// TransitionClientLink moves a link to next. Only the client side may
// activate a link; either side may suspend or terminate it. Unknown links and
// links the caller cannot manage fail identically.
func (s *Service) TransitionClientLink(ctx context.Context, actorID, linkID string, next LinkStatus) (ClientLink, error) {
	if !next.Valid() {
		return ClientLink{}, fmt.Errorf("%w: unknown relationship status %q", ErrInvalidArgument, next)
	}
	linkID = strings.TrimSpace(linkID)
	var link ClientLink
	err := s.store.WithTx(ctx, func(q Queries) error {
		var err error
		link, err = q.LockClientLink(ctx, linkID)
		if errors.Is(err, ErrNotFound) {
			return permissionDenied(PermManageClients)
		}
		if err != nil {
			return err
		}
		_, clientErr := s.authorize(ctx, q, actorID, link.ClientOrganizationID, PermManageOrganization)
		_, firmErr := s.authorize(ctx, q, actorID, link.FirmOrganizationID, PermManageClients)
		for _, e := range []error{clientErr, firmErr} {
			if e != nil && !errors.Is(e, ErrPermissionDenied) {
				return e
			}
		}
		clientSide, firmSide := clientErr == nil, firmErr == nil
		if !clientSide && !firmSide {
			return permissionDenied(PermManageClients)
		}
		if next == LinkActive && !clientSide {
			return fmt.Errorf("%w: only the client organization may activate a link", ErrPermissionDenied)
		}
		if !link.Status.CanTransition(next) {
			return fmt.Errorf("%w: cannot move link from %s to %s", ErrInvalidState, link.Status, next)
		}
		if err := q.UpdateClientLinkStatus(ctx, link.ID, next); err != nil {
			return err
		}
		link.Status = next
		return nil
	})
	if err != nil {
		return ClientLink{}, err
	}
	s.record(ctx, actorID, "client_link.transitioned", zap.String("link_id", link.ID), zap.String("status", string(next)))
	return link, nil
}

// ListClientLinks lists links where the organization is either firm or client.
func (s *Service) ListClientLinks(ctx context.Context, actorID, organizationID string) ([]ClientLink, error) {
	organizationID = strings.TrimSpace(organizationID)
	if _, err := s.Authorize(ctx, actorID, organizationID, PermManageClients); err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		if _, err := s.Authorize(ctx, actorID, organizationID, PermManageOrganization); err != nil {
			return nil, err
		}
	}
	return s.store.ListClientLinks(ctx, organizationID)
}

// CanAccess reports whether actingOrganizationID may act on targetOrganizationID's data.
func (s *Service) CanAccess(ctx context.Context, actingOrganizationID, targetOrganizationID string) (AccessDecision, error) {
	acting := strings.TrimSpace(actingOrganizationID)
	target := strings.TrimSpace(targetOrganizationID)
	if acting == "" || target == "" {
		return AccessDecision{}, fmt.Errorf("%w: organization ids are required", ErrInvalidArgument)
	}
	if acting == target {
		return AccessDecision{Allowed: true, Scope: ScopeWrite.String()}, nil
	}
	link, err := s.store.FindClientLink(ctx, acting, target)
	if errors.Is(err, ErrNotFound) {
		return AccessDecision{Scope: ScopeNone.String()}, nil
	}
	if err != nil {
		return AccessDecision{}, err
	}
	scope := link.Scope()
	return AccessDecision{Allowed: scope != ScopeNone, Scope: scope.String(), LinkID: link.ID}, nil
}

// AuthorizeClientAccess checks permission for actorID in targetOrganizationID,
// either directly through a membership or through a firm the actor belongs to.
// The firm path requires access_clients and the permission in the firm, an
// active link, and a link scope covering the permission's access kind.
func (s *Service) AuthorizeClientAccess(ctx context.Context, actorID, targetOrganizationID, permission string) (AccessDecision, error) {
	target := strings.TrimSpace(targetOrganizationID)
	if _, err := s.authorize(ctx, nil, actorID, target, permission); err == nil {
		obs.ObserveAuthz(permission, true)
		return AccessDecision{Allowed: true, Scope: ScopeWrite.String()}, nil
	} else if !errors.Is(err, ErrPermissionDenied) {
		return AccessDecision{}, err
	}

	memberships, err := s.store.ListUserMemberships(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return AccessDecision{}, err
	}
	for _, m := range memberships {
		if !m.Active() || m.OrganizationID == target {
			continue
		}
		link, err := s.store.FindClientLink(ctx, m.OrganizationID, target)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return AccessDecision{}, err
		}
		scope := link.Scope()
		if !scope.Allows(AccessOf(permission)) {
			continue
		}
		perms, err := s.cachedPermissions(ctx, m)
		if err != nil {
			return AccessDecision{}, err
		}
		if slices.Contains(perms, PermAccessClients) && slices.Contains(perms, permission) {
			obs.ObserveAuthz(permission, true)
			return AccessDecision{Allowed: true, Scope: scope.String(), LinkID: link.ID}, nil
		}
	}
	obs.ObserveAuthz(permission, false)
	return AccessDecision{}, permissionDenied(permission)
}
