package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var memberCols = []string{"tenant_id", "user_id", "role", "created_at", "updated_at"}
var membershipCols = []string{"tenant_id", "subdomain", "display_name", "role", "created_at"}
var memberWithUserCols = []string{"tenant_id", "user_id", "role", "name", "email", "created_at"}

func sampleMemberRow(role string) *sqlmock.Rows {
	return sqlmock.NewRows(memberCols).
		AddRow("org-1", "user-1", role, time.Now(), time.Now())
}

func newMemberRepo(t *testing.T) (*MemberRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMemberRepository(db), mock
}

func TestGetMember_Found(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenant_members.*WHERE tenant_id").
		WithArgs("org-1", "user-1").
		WillReturnRows(sampleMemberRow("admin"))

	member, err := repo.GetMember(context.Background(), "org-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member == nil {
		t.Fatal("expected member, got nil")
	}
	if member.Role != "admin" {
		t.Errorf("Role = %s, want admin", member.Role)
	}
}

func TestGetMember_NotAMember(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenant_members.*WHERE tenant_id").
		WillReturnRows(sqlmock.NewRows(memberCols))

	member, err := repo.GetMember(context.Background(), "org-1", "user-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestGetMembershipBySubdomain(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectQuery("FROM tenant_members m.*JOIN tenants t").
		WithArgs("user-1", "acme").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("org-1", "acme", "Acme Inc", "member", time.Now()))

	ms, err := repo.GetMembershipBySubdomain(context.Background(), "user-1", "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms == nil {
		t.Fatal("expected membership, got nil")
	}
	if ms.Subdomain != "acme" || ms.Role != "member" {
		t.Errorf("membership = %+v", ms)
	}
}

func TestListMemberships(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectQuery("FROM tenant_members m.*JOIN tenants t.*ORDER BY m.created_at").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("org-1", "acme", "Acme Inc", "owner", time.Now().Add(-time.Hour)).
			AddRow("org-2", "globex", "Globex", "member", time.Now()))

	memberships, err := repo.ListMemberships(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(memberships) != 2 {
		t.Fatalf("got %d memberships, want 2", len(memberships))
	}
	if memberships[0].Subdomain != "acme" {
		t.Errorf("first membership = %+v, want the oldest", memberships[0])
	}
}

func TestListMembersWithUsers(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectQuery("FROM tenant_members m.*JOIN users u").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(memberWithUserCols).
			AddRow("org-1", "user-1", "owner", "Alice", "alice@acme.test", time.Now()).
			AddRow("org-1", "user-2", "member", "Bob", "bob@acme.test", time.Now()))

	members, err := repo.ListMembersWithUsers(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[1].UserEmail != "bob@acme.test" {
		t.Errorf("members[1] = %+v", members[1])
	}
}

func TestAddMember(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectExec("INSERT INTO tenant_members").
		WithArgs("org-1", "user-2", "member").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AddMember(context.Background(), "org-1", "user-2", "member"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateRole_Applied(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectExec("UPDATE tenant_members.*SET role").
		WithArgs("admin", "org-1", "user-2", "member").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateRole(context.Background(), "org-1", "user-2", "member", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected update to apply")
	}
}

func TestUpdateRole_LostRace(t *testing.T) {
	repo, mock := newMemberRepo(t)
	// A concurrent actor already changed the role; the pinned WHERE matches
	// zero rows and the update degrades to a no-op.
	mock.ExpectExec("UPDATE tenant_members.*SET role").
		WithArgs("admin", "org-1", "user-2", "member").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateRole(context.Background(), "org-1", "user-2", "member", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected update to report zero rows")
	}
}

func TestRemoveMember(t *testing.T) {
	repo, mock := newMemberRepo(t)
	mock.ExpectExec("DELETE FROM tenant_members").
		WithArgs("org-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.RemoveMember(context.Background(), "org-1", "user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected removal to apply")
	}
}
