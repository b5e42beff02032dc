package access

import (
	"context"
	"errors"
	"testing"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domaccess "github.com/agrisage-cloud/knowd/internal/domain/access"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
)

type mockDirectory struct {
	membership    org.Membership
	membershipErr error
	grants        []org.FarmAccessGrant
	grantsErr     error
}

func (m *mockDirectory) GetMembership(_ context.Context, _, _ string) (org.Membership, error) {
	return m.membership, m.membershipErr
}

func (m *mockDirectory) ListFarmGrants(_ context.Context, _ string) ([]org.FarmAccessGrant, error) {
	return m.grants, m.grantsErr
}

type mockDocIndex struct {
	set   domaccess.Set
	err   error
	calls int
}

func (m *mockDocIndex) AccessibleIDs(_ context.Context, _, _ string) (domaccess.Set, error) {
	m.calls++
	return m.set, m.err
}

func member(t *testing.T) org.Membership {
	t.Helper()
	m, err := org.NewMembership("org-1", "user-1", org.RoleAgronomist)
	if err != nil {
		t.Fatalf("NewMembership: %v", err)
	}
	return m
}

func TestResolve_MemberGetsSet(t *testing.T) {
	dir := &mockDirectory{membership: member(t)}
	docs := &mockDocIndex{set: domaccess.NewSet("doc-1", "doc-2")}
	svc := New(dir, docs)

	set, err := svc.Resolve(context.Background(), "user-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Len() != 2 || !set.Contains("doc-1") {
		t.Fatalf("unexpected set: %v", set.IDs())
	}
}

func TestResolve_NonMemberDeniedWithoutError(t *testing.T) {
	dir := &mockDirectory{membershipErr: domain.ErrNotFound}
	docs := &mockDocIndex{set: domaccess.NewSet("doc-1")}
	svc := New(dir, docs)

	set, err := svc.Resolve(context.Background(), "stranger", "org-1")
	if err != nil {
		t.Fatalf("expected nil error for non-member, got %v", err)
	}
	if !set.IsEmpty() {
		t.Fatalf("expected empty set, got %v", set.IDs())
	}
	if docs.calls != 0 {
		t.Fatalf("document index must not be consulted for non-members, got %d calls", docs.calls)
	}
}

func TestResolve_UnknownOrgDeniedWithoutError(t *testing.T) {
	dir := &mockDirectory{membershipErr: domain.ErrOrganizationNotFound}
	svc := New(dir, &mockDocIndex{})

	set, err := svc.Resolve(context.Background(), "user-1", "org-missing")
	if err != nil {
		t.Fatalf("expected nil error for unknown org, got %v", err)
	}
	if !set.IsEmpty() {
		t.Fatal("expected empty set")
	}
}

func TestResolve_BlankIdentityDenied(t *testing.T) {
	dir := &mockDirectory{membership: member(t)}
	docs := &mockDocIndex{set: domaccess.NewSet("doc-1")}
	svc := New(dir, docs)

	for _, tc := range []struct{ user, org string }{
		{"", "org-1"},
		{"user-1", ""},
		{"", ""},
	} {
		set, err := svc.Resolve(context.Background(), tc.user, tc.org)
		if err != nil {
			t.Fatalf("(%q,%q): unexpected error: %v", tc.user, tc.org, err)
		}
		if !set.IsEmpty() {
			t.Fatalf("(%q,%q): expected empty set", tc.user, tc.org)
		}
	}
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	dir := &mockDirectory{membershipErr: errors.New("connection refused")}
	svc := New(dir, &mockDocIndex{})

	if _, err := svc.Resolve(context.Background(), "user-1", "org-1"); err == nil {
		t.Fatal("expected store error to propagate, not be masked as denial")
	}
}

func TestResolve_IndexErrorPropagates(t *testing.T) {
	dir := &mockDirectory{membership: member(t)}
	docs := &mockDocIndex{err: errors.New("index unavailable")}
	svc := New(dir, docs)

	if _, err := svc.Resolve(context.Background(), "user-1", "org-1"); err == nil {
		t.Fatal("expected index error to propagate")
	}
}

func TestResolveResources_MemberGetsGrants(t *testing.T) {
	g1, _ := org.NewFarmAccessGrant("org-1", "farm-1", org.AccessOwner)
	g2, _ := org.NewFarmAccessGrant("org-1", "farm-2", org.AccessAdvisor)
	dir := &mockDirectory{membership: member(t), grants: []org.FarmAccessGrant{g1, g2}}
	svc := New(dir, &mockDocIndex{})

	rs, err := svc.ResolveResources(context.Background(), "user-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Len() != 2 {
		t.Fatalf("expected 2 resources, got %d", rs.Len())
	}
	if at, ok := rs.Access("farm-2"); !ok || at != org.AccessAdvisor {
		t.Fatalf("expected advisor access on farm-2, got %v %v", at, ok)
	}
}

func TestResolveResources_NonMemberDenied(t *testing.T) {
	g, _ := org.NewFarmAccessGrant("org-1", "farm-1", org.AccessOwner)
	dir := &mockDirectory{membershipErr: domain.ErrNotFound, grants: []org.FarmAccessGrant{g}}
	svc := New(dir, &mockDocIndex{})

	rs, err := svc.ResolveResources(context.Background(), "stranger", "org-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !rs.IsEmpty() {
		t.Fatal("expected empty resource set for non-member")
	}
}
