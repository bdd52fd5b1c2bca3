package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"teamledger.io/internal/tenancy"
)

var membershipCols = []string{"id", "organization_id", "user_id", "role", "is_primary", "invited_by",
	"invitation_token", "invitation_accepted_at", "perm_version", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestGetMembershipScansNullableColumns(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	accepted := created.Add(time.Hour)
	mock.ExpectQuery("from memberships where id = \\$1").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("m1", "o1", "u1", "accountant", true, nil, "digest", accepted, int64(4), created, created))

	m, err := s.GetMembership(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if m.Role != tenancy.RoleAccountant || !m.IsPrimary || m.InvitedBy != "" || m.InvitationTokenHash != "digest" {
		t.Fatalf("unexpected membership %+v", m)
	}
	if m.PermVersion != 4 {
		t.Fatalf("perm_version not scanned: %d", m.PermVersion)
	}
	if m.InvitationAcceptedAt == nil || !m.InvitationAcceptedAt.Equal(accepted) || !m.Active() {
		t.Fatalf("accepted_at not scanned: %+v", m.InvitationAcceptedAt)
	}
}

func TestGetMembershipNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from memberships where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	if _, err := s.GetMembership(context.Background(), "missing"); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertMembershipDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into memberships").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "memberships_organization_id_user_id_key"})

	m := tenancy.Membership{OrganizationID: "o1", UserID: "u1", Role: tenancy.RoleMember}
	err := s.InsertMembership(context.Background(), &m)
	if !errors.Is(err, tenancy.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if m.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestLockMembershipUsesForUpdate(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("from memberships where id = \\$1 for update").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("m1", "o1", "u1", "owner", false, "u0", nil, nil, int64(0), now, now))
	mock.ExpectExec("set role = \\$2, perm_version = perm_version \\+ 1").
		WithArgs("m1", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(q tenancy.Queries) error {
		m, err := q.LockMembership(context.Background(), "m1")
		if err != nil {
			return err
		}
		if m.Active() {
			t.Fatalf("membership without accepted_at must be invited")
		}
		return q.UpdateMembershipRole(context.Background(), m.ID, tenancy.RoleAdmin)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from memberships").WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(q tenancy.Queries) error {
		if err := q.DeleteMembership(context.Background(), "m1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestCountOwnersLocksRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("role = 'owner' and invitation_accepted_at is not null\\s+for update").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m1").AddRow("m2"))

	n, err := s.CountOwners(context.Background(), "o1")
	if err != nil || n != 2 {
		t.Fatalf("CountOwners = %d, %v", n, err)
	}
}

func TestMarkInvitationAcceptedTwice(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update memberships set invitation_accepted_at").
		WithArgs("m1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.MarkInvitationAccepted(context.Background(), "m1", time.Now()); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshInvitationOnlyTouchesPending(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("update memberships\\s+set invitation_token = \\$2.*where id = \\$1 and invitation_accepted_at is null").
		WithArgs("m1", "digest", "admin", "u0", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := tenancy.Membership{ID: "m1", Role: tenancy.RoleAdmin, InvitedBy: "u0", InvitationTokenHash: "digest"}
	if err := s.RefreshInvitation(context.Background(), m, at); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an accepted membership, got %v", err)
	}
}

func TestSetPrimaryMembership(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update memberships set is_primary = false").
		WithArgs("u1", "m2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update memberships set is_primary = true").
		WithArgs("m2", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetPrimaryMembership(context.Background(), "u1", "m2"); err != nil {
		t.Fatalf("SetPrimaryMembership: %v", err)
	}
}

func TestReplaceRoleDefaultsUnknownPermission(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from role_permissions").WithArgs("member").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("update permission_generation set generation = generation \\+ 1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("member", "view_accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("member", "bogus").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ReplaceRoleDefaults(context.Background(), tenancy.RoleMember, []string{"view_accounts", "bogus"})
	if !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoleDefaultsAndOverrides(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from role_permissions rp").
		WithArgs("member").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("view_accounts").AddRow("view_team"))
	mock.ExpectQuery("from user_permissions up").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_granted"}).
			AddRow("invite_members", true).
			AddRow("view_team", false))

	ctx := context.Background()
	defaults, err := s.RoleDefaults(ctx, tenancy.RoleMember)
	if err != nil {
		t.Fatalf("RoleDefaults: %v", err)
	}
	overrides, err := s.ListOverrides(ctx, "m1")
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	got := tenancy.Resolve(defaults, overrides)
	if len(got) != 2 || got[0] != "invite_members" || got[1] != "view_accounts" {
		t.Fatalf("unexpected effective set %v", got)
	}
}

func TestUpsertOverrideForeignKey(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update memberships set perm_version = perm_version \\+ 1.*insert into user_permissions").
		WithArgs("gone", "view_vat", true).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "user_permissions_organization_user_id_fkey"})

	err := s.UpsertOverride(context.Background(), tenancy.Override{MembershipID: "gone", Permission: "view_vat", Granted: true})
	if !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteOverrideMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update memberships set perm_version = perm_version \\+ 1.*delete from user_permissions").
		WithArgs("m1", "view_vat").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteOverride(context.Background(), "m1", "view_vat"); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertOverrideUnknownMembership(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("with bumped as").
		WithArgs("gone", "view_vat", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpsertOverride(context.Background(), tenancy.Override{MembershipID: "gone", Permission: "view_vat"})
	if !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissionGeneration(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select generation from permission_generation").
		WillReturnRows(sqlmock.NewRows([]string{"generation"}).AddRow(int64(7)))

	gen, err := s.PermissionGeneration(context.Background())
	if err != nil || gen != 7 {
		t.Fatalf("PermissionGeneration = %d, %v", gen, err)
	}
}

func TestClientLinkCheckViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into firm_client_links").
		WillReturnError(&pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: "firm_client_links_distinct"})

	link := tenancy.ClientLink{FirmOrganizationID: "o1", ClientOrganizationID: "o1", Status: tenancy.LinkPending}
	if err := s.InsertClientLink(context.Background(), &link); !errors.Is(err, tenancy.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestScanLinkRejectsUnknownStatus(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("from firm_client_links").
		WithArgs("o1", "o2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "firm_organization_id", "client_organization_id",
			"relationship_status", "managed_by_user_id", "services_provided", "created_at", "updated_at"}).
			AddRow("l1", "o1", "o2", "on_hold", nil, "write", now, now))

	if _, err := s.FindClientLink(context.Background(), "o1", "o2"); !errors.Is(err, tenancy.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestGetUserByEmailLowercases(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("from users where email = \\$1").
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name",
			"is_verified", "two_factor_enabled", "is_active", "default_organization_id", "last_login_at",
			"created_at", "updated_at"}).
			AddRow("u1", "ana@example.com", nil, "Ana", "", false, false, true, nil, nil, now, now))

	u, err := s.GetUserByEmail(context.Background(), "Ana@Example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u.Registered() || u.LastLoginAt != nil || u.DefaultOrganizationID != "" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestMapErrorPassesThrough(t *testing.T) {
	other := errors.New("connection reset")
	if got := mapError(other); got != other {
		t.Fatalf("unexpected mapping %v", got)
	}
	if !errors.Is(mapError(sql.ErrNoRows), tenancy.ErrNotFound) {
		t.Fatalf("no rows should map to ErrNotFound")
	}
}
