package access

import (
	"context"

	domaccess "github.com/agrisage-cloud/knowd/internal/domain/access"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
)

// Directory reads organization membership and farm grants.
type Directory interface {
	GetMembership(ctx context.Context, orgID, userID string) (org.Membership, error)
	ListFarmGrants(ctx context.Context, orgID string) ([]org.FarmAccessGrant, error)
}

// DocumentIndex computes the set of document ids an identity may read.
type DocumentIndex interface {
	AccessibleIDs(ctx context.Context, userID, orgID string) (domaccess.Set, error)
}
