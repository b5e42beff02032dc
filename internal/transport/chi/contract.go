package chi

import (
	"context"
	"time"

	domaccess "github.com/agrisage-cloud/knowd/internal/domain/access"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
	domusage "github.com/agrisage-cloud/knowd/internal/domain/usage"
	healthuc "github.com/agrisage-cloud/knowd/internal/usecase/health"
	retrievaluc "github.com/agrisage-cloud/knowd/internal/usecase/retrieval"
)

// Documents is the read and sharing surface the transport needs.
type Documents interface {
	Get(ctx context.Context, id string) (domdoc.Document, error)
	UpdateSharing(ctx context.Context, id string, sharing domdoc.Sharing) (int64, error)
}

// Ingestor accepts document lifecycle operations.
type Ingestor interface {
	Submit(ctx context.Context, orgID, uploaderID, contentRef, declaredType string,
		visibility domdoc.Visibility) (string, error)
	Resubmit(ctx context.Context, id string, force bool) error
	RemoveDocument(ctx context.Context, id string) error
}

// Retriever runs permission-filtered retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query, userID, orgID string, k int) ([]retrievaluc.Match, error)
}

// UsageReporter builds per-organization usage reports.
type UsageReporter interface {
	Report(ctx context.Context, orgID string, window time.Duration) (domusage.Report, error)
}

// AccessResolver answers the farm-scope resolution path.
type AccessResolver interface {
	ResolveResources(ctx context.Context, userID, orgID string) (domaccess.ResourceSet, error)
}

// Directory exposes directory administration and authorization checks.
type Directory interface {
	CreateOrganization(ctx context.Context, id, name string) (org.Organization, error)
	GetOrganization(ctx context.Context, id string) (org.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
	UpsertMember(ctx context.Context, orgID, userID, role string) (org.Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]org.Membership, error)
	RemoveMember(ctx context.Context, orgID, userID string) error
	GrantFarmAccess(ctx context.Context, orgID, resourceID, access string) (org.FarmAccessGrant, error)
	ListFarmGrants(ctx context.Context, orgID string) ([]org.FarmAccessGrant, error)
	RevokeFarmAccess(ctx context.Context, orgID, resourceID string) error
	AuthorizeWriter(ctx context.Context, orgID, userID string) error
	AuthorizeMember(ctx context.Context, orgID, userID string) error
}

// Health runs component health checks.
type Health interface {
	Check(ctx context.Context) healthuc.Report
}
