// Package access resolves what an identity may read, at call time, from
// current membership and sharing state. Results are never cached: a revoked
// grant is invisible to the very next retrieval.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domaccess "github.com/agrisage-cloud/knowd/internal/domain/access"
)

// Service is the access control resolver.
type Service struct {
	dir  Directory
	docs DocumentIndex
}

// New creates an access resolver.
func New(dir Directory, docs DocumentIndex) *Service {
	return &Service{dir: dir, docs: docs}
}

// Resolve returns the set of document ids the identity may read. An unknown
// organization, unknown user, or missing membership yields an empty set and no
// error: absence of proof is denial, not failure.
func (s *Service) Resolve(ctx context.Context, userID, orgID string) (domaccess.Set, error) {
	if userID == "" || orgID == "" {
		return domaccess.NewSet(), nil
	}

	if _, err := s.dir.GetMembership(ctx, orgID, userID); err != nil {
		if isDenied(err) {
			return domaccess.NewSet(), nil
		}
		return domaccess.Set{}, fmt.Errorf("resolve membership: %w", err)
	}

	set, err := s.docs.AccessibleIDs(ctx, userID, orgID)
	if err != nil {
		return domaccess.Set{}, fmt.Errorf("resolve accessible documents: %w", err)
	}
	return set, nil
}

// ResolveResources returns the farm resources visible to the identity through
// its organization, retaining the access type of each grant. The same
// fail-closed rule applies.
func (s *Service) ResolveResources(ctx context.Context, userID, orgID string) (domaccess.ResourceSet, error) {
	if userID == "" || orgID == "" {
		return domaccess.NewResourceSet(nil), nil
	}

	if _, err := s.dir.GetMembership(ctx, orgID, userID); err != nil {
		if isDenied(err) {
			return domaccess.NewResourceSet(nil), nil
		}
		return domaccess.ResourceSet{}, fmt.Errorf("resolve membership: %w", err)
	}

	grants, err := s.dir.ListFarmGrants(ctx, orgID)
	if err != nil {
		return domaccess.ResourceSet{}, fmt.Errorf("resolve farm grants: %w", err)
	}
	return domaccess.NewResourceSet(grants), nil
}

func isDenied(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrOrganizationNotFound)
}
