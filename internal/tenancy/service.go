package tenancy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"teamledger.io/internal/audit"
	"teamledger.io/internal/obs"
)

// DefaultInvitationTTL is how long an invitation token stays valid when no TTL is configured.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// Service enforces the membership, permission and firm-client rules on top of a Store.
type Service struct {
	store     Store
	cache     PermissionCache
	log       *zap.Logger
	now       func() time.Time
	inviteTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCache memoizes effective permission sets.
func WithCache(c PermissionCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger replaces the shared logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInvitationTTL sets how long invitation tokens remain valid.
func WithInvitationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.inviteTTL = ttl
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("tenancy store is required")
	}
	s := &Service{
		store:     store,
		cache:     nopCache{},
		log:       obs.Logger(),
		now:       time.Now,
		inviteTTL: DefaultInvitationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("tenancy")
	return s, nil
}

// InvitationTTL reports the configured invitation lifetime.
func (s *Service) InvitationTTL() time.Duration { return s.inviteTTL }

// Seed loads the built-in permission catalog and default role grants.
func (s *Service) Seed(ctx context.Context) error {
	err := s.store.WithTx(ctx, func(q Queries) error {
		if err := q.UpsertPermissions(ctx, BuiltinPermissions()); err != nil {
			return fmt.Errorf("upsert permissions: %w", err)
		}
		for role, perms := range DefaultRoleGrants() {
			if err := q.ReplaceRoleDefaults(ctx, role, perms); err != nil {
				return fmt.Errorf("role %s defaults: %w", role, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Purge(ctx)
	s.log.Info("permission catalog seeded", zap.Int("permissions", len(catalog)))
	return nil
}

// Catalog lists every permission.
func (s *Service) Catalog(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// SetRoleDefaults replaces the default grants of a role. It is an operator
// action and performs no caller authorization.
func (s *Service) SetRoleDefaults(ctx context.Context, role Role, permissions []string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}
	perms := dedupeStrings(permissions)
	if err := s.store.WithTx(ctx, func(q Queries) error {
		return q.ReplaceRoleDefaults(ctx, role, perms)
	}); err != nil {
		return err
	}
	s.cache.Purge(ctx)
	s.record(ctx, "", "role_defaults.replaced", zap.String("role", role.String()), zap.Strings("permissions", perms))
	return nil
}

// EffectivePermissions returns the resolved permission names of a membership.
func (s *Service) EffectivePermissions(ctx context.Context, membershipID string) ([]string, error) {
	membershipID = strings.TrimSpace(membershipID)
	if membershipID == "" {
		return nil, fmt.Errorf("%w: membership_id is required", ErrInvalidArgument)
	}
	m, err := s.store.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	return s.cachedPermissions(ctx, m)
}

// cachedPermissions resolves m through the cache. m must have been read from
// the store before the generation and the resolution reads, so the key never
// describes newer state than the value stored under it.
func (s *Service) cachedPermissions(ctx context.Context, m Membership) ([]string, error) {
	gen, err := s.store.PermissionGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission generation: %w", err)
	}
	key := permissionKey(m, gen)
	if perms, ok := s.cache.Get(ctx, key); ok {
		return perms, nil
	}
	perms, err := s.resolve(ctx, s.store, m)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, perms)
	return perms, nil
}

func permissionKey(m Membership, gen int64) string {
	return fmt.Sprintf("%s:%d:%d", m.ID, m.PermVersion, gen)
}

// forget drops the entry for a membership as it was before a mutation.
// Entries are unreachable once the version moves, so this only frees space.
func (s *Service) forget(ctx context.Context, before Membership) {
	gen, err := s.store.PermissionGeneration(ctx)
	if err != nil {
		return
	}
	s.cache.Invalidate(ctx, permissionKey(before, gen))
}

func (s *Service) resolve(ctx context.Context, q Queries, m Membership) ([]string, error) {
	role, err := ParseRole(string(m.Role))
	if err != nil {
		return nil, fmt.Errorf("membership %s: %w", m.ID, err)
	}
	defaults, err := q.RoleDefaults(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("role defaults: %w", err)
	}
	overrides, err := q.ListOverrides(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}
	return Resolve(defaults, overrides), nil
}

// Authorize checks that actorID holds permission in organizationID through an
// accepted membership and returns that membership. A missing organization, a
// missing membership and a missing permission produce the same error.
func (s *Service) Authorize(ctx context.Context, actorID, organizationID, permission string) (Membership, error) {
	m, err := s.authorize(ctx, nil, actorID, organizationID, permission)
	obs.ObserveAuthz(permission, err == nil)
	return m, err
}

// authorize resolves through q when it is a transaction, bypassing the cache.
func (s *Service) authorize(ctx context.Context, q Queries, actorID, organizationID, permission string) (Membership, error) {
	m, err := s.activeMembership(ctx, q, actorID, organizationID, permission)
	if err != nil {
		return Membership{}, err
	}
	var perms []string
	if q == nil {
		perms, err = s.cachedPermissions(ctx, m)
	} else {
		perms, err = s.resolve(ctx, q, m)
	}
	if err != nil {
		return Membership{}, err
	}
	if !slices.Contains(perms, permission) {
		return Membership{}, permissionDenied(permission)
	}
	return m, nil
}

func (s *Service) activeMembership(ctx context.Context, q Queries, actorID, organizationID, permission string) (Membership, error) {
	if q == nil {
		q = s.store
	}
	actorID = strings.TrimSpace(actorID)
	organizationID = strings.TrimSpace(organizationID)
	if actorID == "" || organizationID == "" {
		return Membership{}, permissionDenied(permission)
	}
	m, err := q.FindMembership(ctx, organizationID, actorID)
	if errors.Is(err, ErrNotFound) {
		return Membership{}, permissionDenied(permission)
	}
	if err != nil {
		return Membership{}, err
	}
	if !m.Active() {
		return Membership{}, permissionDenied(permission)
	}
	return m, nil
}

func permissionDenied(permission string) error {
	if permission == "" {
		return fmt.Errorf("%w: organization membership required", ErrPermissionDenied)
	}
	return fmt.Errorf("%w: %s required", ErrPermissionDenied, permission)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// record writes an audit entry for a committed mutation.
func (s *Service) record(ctx context.Context, actorID, event string, fields ...zap.Field) {
	if actorID != "" {
		fields = append(fields, zap.String("actor_id", actorID))
	}
	if err := audit.LogEvent(ctx, event, fields...); err != nil {
		s.log.Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}
