// Package directory manages organizations, memberships and farm access
// grants. It is the write path behind the access resolver: retrieval never
// consults it directly, only through the read-side contracts.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agrisage-cloud/knowd/internal/domain"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
)

// Service exposes directory administration operations.
type Service struct {
	store Store
}

// New creates a directory Service.
func New(store Store) *Service {
	return &Service{store: store}
}

// CreateOrganization registers an organization. A blank id gets a generated one.
func (s *Service) CreateOrganization(ctx context.Context, id, name string) (org.Organization, error) {
	if id == "" {
		id = uuid.NewString()
	}
	o, err := org.New(id, name)
	if err != nil {
		return org.Organization{}, err
	}
	if err := s.store.CreateOrganization(ctx, o); err != nil {
		return org.Organization{}, fmt.Errorf("create organization: %w", err)
	}
	return o, nil
}

// GetOrganization fetches an organization by id.
func (s *Service) GetOrganization(ctx context.Context, id string) (org.Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// DeleteOrganization removes an organization record. Its documents are not
// cascaded here; they become unreachable through the resolver immediately.
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	return s.store.DeleteOrganization(ctx, id)
}

// UpsertMember adds a user to an organization or changes their role.
func (s *Service) UpsertMember(ctx context.Context, orgID, userID, role string) (org.Membership, error) {
	parsed, err := org.ParseRole(role)
	if err != nil {
		return org.Membership{}, err
	}
	if err := s.requireOrganization(ctx, orgID); err != nil {
		return org.Membership{}, err
	}
	m, err := org.NewMembership(orgID, userID, parsed)
	if err != nil {
		return org.Membership{}, err
	}
	if err := s.store.PutMembership(ctx, m); err != nil {
		return org.Membership{}, fmt.Errorf("put membership: %w", err)
	}
	return m, nil
}

// ListMembers lists an organization's memberships.
func (s *Service) ListMembers(ctx context.Context, orgID string) ([]org.Membership, error) {
	if err := s.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return s.store.ListMemberships(ctx, orgID)
}

// RemoveMember revokes a membership. Takes effect on the next retrieval.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	return s.store.RemoveMembership(ctx, orgID, userID)
}

// GrantFarmAccess delegates access to an external farm resource.
func (s *Service) GrantFarmAccess(ctx context.Context, orgID, resourceID, access string) (org.FarmAccessGrant, error) {
	parsed, err := org.ParseAccessType(access)
	if err != nil {
		return org.FarmAccessGrant{}, err
	}
	if err := s.requireOrganization(ctx, orgID); err != nil {
		return org.FarmAccessGrant{}, err
	}
	g, err := org.NewFarmAccessGrant(orgID, resourceID, parsed)
	if err != nil {
		return org.FarmAccessGrant{}, err
	}
	if err := s.store.PutFarmGrant(ctx, g); err != nil {
		return org.FarmAccessGrant{}, fmt.Errorf("put farm grant: %w", err)
	}
	return g, nil
}

// ListFarmGrants lists an organization's farm access grants.
func (s *Service) ListFarmGrants(ctx context.Context, orgID string) ([]org.FarmAccessGrant, error) {
	if err := s.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return s.store.ListFarmGrants(ctx, orgID)
}

// RevokeFarmAccess removes a grant.
func (s *Service) RevokeFarmAccess(ctx context.Context, orgID, resourceID string) error {
	return s.store.RemoveFarmGrant(ctx, orgID, resourceID)
}

// Membership fetches a single membership.
func (s *Service) Membership(ctx context.Context, orgID, userID string) (org.Membership, error) {
	return s.store.GetMembership(ctx, orgID, userID)
}

// AuthorizeWriter checks that the user holds a writer role in the
// organization. Non-members get ErrForbidden, not a not-found, so the caller
// never has to distinguish the two.
func (s *Service) AuthorizeWriter(ctx context.Context, orgID, userID string) error {
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrOrganizationNotFound) {
			return fmt.Errorf("user %s in organization %s: %w", userID, orgID, domain.ErrForbidden)
		}
		return fmt.Errorf("get membership: %w", err)
	}
	if !m.Role().CanWrite() {
		return fmt.Errorf("role %s cannot write: %w", m.Role(), domain.ErrForbidden)
	}
	return nil
}

// AuthorizeMember checks that the user belongs to the organization in any role.
func (s *Service) AuthorizeMember(ctx context.Context, orgID, userID string) error {
	if _, err := s.store.GetMembership(ctx, orgID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrOrganizationNotFound) {
			return fmt.Errorf("user %s in organization %s: %w", userID, orgID, domain.ErrForbidden)
		}
		return fmt.Errorf("get membership: %w", err)
	}
	return nil
}

func (s *Service) requireOrganization(ctx context.Context, orgID string) error {
	exists, err := s.store.OrganizationExists(ctx, orgID)
	if err != nil {
		return fmt.Errorf("check organization: %w", err)
	}
	if !exists {
		return fmt.Errorf("organization %s: %w", orgID, domain.ErrOrganizationNotFound)
	}
	return nil
}
