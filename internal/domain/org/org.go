package org

import (
	"fmt"

	"github.com/agrisage-cloud/knowd/internal/domain"
)

// Role is a member's role inside an organization. Roles gate write operations
// on documents; they do not widen read visibility.
type Role string

const (
	// RoleAdmin manages the organization and its documents.
	RoleAdmin Role = "admin"
	// RoleAgronomist uploads and curates documents.
	RoleAgronomist Role = "agronomist"
	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleAgronomist, RoleViewer:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q: %w", s, domain.ErrValidation)
}

// CanWrite reports whether the role may mutate documents (submit, share, delete).
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleAgronomist
}

// AccessType is the level of delegated access an organization holds on a farm
// resource. It is a separate grant concept from document sharing.
type AccessType string

const (
	// AccessOwner owns the farm resource.
	AccessOwner AccessType = "owner"
	// AccessAdvisor advises on the farm resource.
	AccessAdvisor AccessType = "advisor"
	// AccessViewer observes the farm resource.
	AccessViewer AccessType = "viewer"
)

// ParseAccessType validates an access type string.
func ParseAccessType(s string) (AccessType, error) {
	switch AccessType(s) {
	case AccessOwner, AccessAdvisor, AccessViewer:
		return AccessType(s), nil
	}
	return "", fmt.Errorf("unknown access type %q: %w", s, domain.ErrValidation)
}

// Organization is a tenant (immutable value object).
type Organization struct {
	id        string
	name      string
	createdAt int64
}

// New validates and creates an Organization.
func New(id, name string) (Organization, error) {
	if !domain.IsValidID(id) {
		return Organization{}, fmt.Errorf("invalid organization id %q: %w", id, domain.ErrValidation)
	}
	if name == "" {
		return Organization{}, fmt.Errorf("organization name is required: %w", domain.ErrValidation)
	}
	return Organization{id: id, name: name}, nil
}

// Reconstruct creates an Organization without validation (storage hydration).
func Reconstruct(id, name string, createdAt int64) Organization {
	return Organization{id: id, name: name, createdAt: createdAt}
}

// ID returns the organization identifier.
func (o *Organization) ID() string { return o.id }

// Name returns the organization display name.
func (o *Organization) Name() string { return o.name }

// CreatedAt returns the creation time in unix millis.
func (o *Organization) CreatedAt() int64 { return o.createdAt }

// Membership binds a user to an organization with a role.
// Unique per (organization, user) pair.
type Membership struct {
	orgID  string
	userID string
	role   Role
}

// NewMembership validates and creates a Membership.
func NewMembership(orgID, userID string, role Role) (Membership, error) {
	if !domain.IsValidID(orgID) {
		return Membership{}, fmt.Errorf("invalid organization id %q: %w", orgID, domain.ErrValidation)
	}
	if !domain.IsValidID(userID) {
		return Membership{}, fmt.Errorf("invalid user id %q: %w", userID, domain.ErrValidation)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return Membership{}, err
	}
	return Membership{orgID: orgID, userID: userID, role: role}, nil
}

// ReconstructMembership creates a Membership without validation.
func ReconstructMembership(orgID, userID string, role Role) Membership {
	return Membership{orgID: orgID, userID: userID, role: role}
}

// OrganizationID returns the organization identifier.
func (m *Membership) OrganizationID() string { return m.orgID }

// UserID returns the member's user identifier.
func (m *Membership) UserID() string { return m.userID }

// Role returns the member's role.
func (m *Membership) Role() Role { return m.role }

// FarmAccessGrant delegates access to a farm resource to an organization.
// Unique per (organization, resource) pair; disjoint from document sharing.
type FarmAccessGrant struct {
	orgID      string
	resourceID string
	access     AccessType
}

// NewFarmAccessGrant validates and creates a FarmAccessGrant.
func NewFarmAccessGrant(orgID, resourceID string, access AccessType) (FarmAccessGrant, error) {
	if !domain.IsValidID(orgID) {
		return FarmAccessGrant{}, fmt.Errorf("invalid organization id %q: %w", orgID, domain.ErrValidation)
	}
	if !domain.IsValidID(resourceID) {
		return FarmAccessGrant{}, fmt.Errorf("invalid resource id %q: %w", resourceID, domain.ErrValidation)
	}
	if _, err := ParseAccessType(string(access)); err != nil {
		return FarmAccessGrant{}, err
	}
	return FarmAccessGrant{orgID: orgID, resourceID: resourceID, access: access}, nil
}

// ReconstructFarmAccessGrant creates a FarmAccessGrant without validation.
func ReconstructFarmAccessGrant(orgID, resourceID string, access AccessType) FarmAccessGrant {
	return FarmAccessGrant{orgID: orgID, resourceID: resourceID, access: access}
}

// OrganizationID returns the grantee organization identifier.
func (g *FarmAccessGrant) OrganizationID() string { return g.orgID }

// ResourceID returns the farm resource identifier.
func (g *FarmAccessGrant) ResourceID() string { return g.resourceID }

// Access returns the delegated access type.
func (g *FarmAccessGrant) Access() AccessType { return g.access }
