package access

import (
	"slices"

	"github.com/agrisage-cloud/knowd/internal/domain/org"
)

// Set is the transient result of resolving a (user, organization) pair into
// the document ids that pair may retrieve. It is recomputed on every
// retrieval call and never cached across calls, so a revoked grant is
// effective on the very next query.
type Set struct {
	ids map[string]struct{}
}

// NewSet creates a Set from document ids.
func NewSet(ids ...string) Set {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = struct{}{}
		}
	}
	return Set{ids: m}
}

// Contains reports whether the document id is accessible.
func (s Set) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of accessible documents.
func (s Set) Len() int { return len(s.ids) }

// IsEmpty reports whether nothing is accessible.
func (s Set) IsEmpty() bool { return len(s.ids) == 0 }

// IDs returns the accessible document ids, sorted. The sorted order makes the
// derived index predicate deterministic.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ResourceSet is the farm-scope counterpart of Set: the farm resources an
// organization holds grants on, retaining the access type for downstream
// write-permission checks.
type ResourceSet struct {
	access map[string]org.AccessType
}

// NewResourceSet creates a ResourceSet from grants.
func NewResourceSet(grants []org.FarmAccessGrant) ResourceSet {
	m := make(map[string]org.AccessType, len(grants))
	for _, g := range grants {
		m[g.ResourceID()] = g.Access()
	}
	return ResourceSet{access: m}
}

// Contains reports whether the resource is accessible.
func (s ResourceSet) Contains(resourceID string) bool {
	_, ok := s.access[resourceID]
	return ok
}

// Access returns the access type held on a resource.
func (s ResourceSet) Access(resourceID string) (org.AccessType, bool) {
	a, ok := s.access[resourceID]
	return a, ok
}

// Len returns the number of accessible resources.
func (s ResourceSet) Len() int { return len(s.access) }

// IsEmpty reports whether nothing is accessible.
func (s ResourceSet) IsEmpty() bool { return len(s.access) == 0 }

// Resources returns the accessible resource ids, sorted.
func (s ResourceSet) Resources() []string {
	out := make([]string, 0, len(s.access))
	for id := range s.access {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
