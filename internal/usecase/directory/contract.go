package directory

import (
	"context"

	"github.com/agrisage-cloud/knowd/internal/domain/org"
)

// Store is the directory persistence the service depends on.
type Store interface {
	CreateOrganization(ctx context.Context, o org.Organization) error
	GetOrganization(ctx context.Context, id string) (org.Organization, error)
	OrganizationExists(ctx context.Context, id string) (bool, error)
	DeleteOrganization(ctx context.Context, id string) error
	PutMembership(ctx context.Context, m org.Membership) error
	GetMembership(ctx context.Context, orgID, userID string) (org.Membership, error)
	ListMemberships(ctx context.Context, orgID string) ([]org.Membership, error)
	RemoveMembership(ctx context.Context, orgID, userID string) error
	PutFarmGrant(ctx context.Context, g org.FarmAccessGrant) error
	ListFarmGrants(ctx context.Context, orgID string) ([]org.FarmAccessGrant, error)
	RemoveFarmGrant(ctx context.Context, orgID, resourceID string) error
}
