// Package directory persists organizations, memberships and farm access
// grants as Redis hashes. Memberships and grants are hash-field keyed, so a
// (org, user) or (org, resource) pair can hold at most one entry.
package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/agrisage-cloud/knowd/internal/domain"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
)

// store is the consumer interface for directory data (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Repo implements the directory persistence used by usecase/access and the
// admin transport.
type Repo struct {
	store store
	now   func() time.Time
}

// New creates a directory repository.
func New(s store) *Repo {
	return &Repo{store: s, now: time.Now}
}

// CreateOrganization stores a new organization.
func (r *Repo) CreateOrganization(ctx context.Context, o org.Organization) error {
	key := orgKey(o.ID())

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if exists {
		return fmt.Errorf("organization %s: %w", o.ID(), domain.ErrAlreadyExists)
	}

	createdAt := o.CreatedAt()
	if createdAt == 0 {
		createdAt = r.now().UnixMilli()
	}
	fields := map[string]string{
		"name":       o.Name(),
		"created_at": strconv.FormatInt(createdAt, 10),
	}
	if err := r.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// GetOrganization returns an organization by id.
func (r *Repo) GetOrganization(ctx context.Context, id string) (org.Organization, error) {
	key := orgKey(id)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return org.Organization{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return org.Organization{}, fmt.Errorf("organization %s: %w", id, domain.ErrOrganizationNotFound)
	}
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return org.Reconstruct(id, fields["name"], createdAt), nil
}

// OrganizationExists reports whether an organization is registered.
func (r *Repo) OrganizationExists(ctx context.Context, id string) (bool, error) {
	exists, err := r.store.Exists(ctx, orgKey(id))
	if err != nil {
		return false, fmt.Errorf("check exists %s: %w", orgKey(id), err)
	}
	return exists, nil
}

// DeleteOrganization removes an organization with its memberships and grants.
func (r *Repo) DeleteOrganization(ctx context.Context, id string) error {
	exists, err := r.store.Exists(ctx, orgKey(id))
	if err != nil {
		return fmt.Errorf("check exists %s: %w", orgKey(id), err)
	}
	if !exists {
		return fmt.Errorf("organization %s: %w", id, domain.ErrOrganizationNotFound)
	}

	for _, key := range []string{membersKey(id), farmsKey(id), orgKey(id)} {
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
	}
	return nil
}

// PutMembership creates or replaces a membership. The hash field key makes
// (org, user) unique; a second write replaces the role.
func (r *Repo) PutMembership(ctx context.Context, m org.Membership) error {
	exists, err := r.store.Exists(ctx, orgKey(m.OrganizationID()))
	if err != nil {
		return fmt.Errorf("check exists %s: %w", orgKey(m.OrganizationID()), err)
	}
	if !exists {
		return fmt.Errorf("organization %s: %w", m.OrganizationID(), domain.ErrOrganizationNotFound)
	}

	key := membersKey(m.OrganizationID())
	if err := r.store.HSet(ctx, key, map[string]string{m.UserID(): string(m.Role())}); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// GetMembership returns the membership of a user in an organization.
// Non-members yield domain.ErrNotFound.
func (r *Repo) GetMembership(ctx context.Context, orgID, userID string) (org.Membership, error) {
	key := membersKey(orgID)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return org.Membership{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	roleStr, ok := fields[userID]
	if !ok {
		return org.Membership{}, fmt.Errorf("membership %s/%s: %w", orgID, userID, domain.ErrNotFound)
	}
	role, err := org.ParseRole(roleStr)
	if err != nil {
		return org.Membership{}, fmt.Errorf("membership %s/%s: %w", orgID, userID, err)
	}
	return org.ReconstructMembership(orgID, userID, role), nil
}

// ListMemberships returns all memberships of an organization.
func (r *Repo) ListMemberships(ctx context.Context, orgID string) ([]org.Membership, error) {
	key := membersKey(orgID)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	members := make([]org.Membership, 0, len(fields))
	for userID, roleStr := range fields {
		role, err := org.ParseRole(roleStr)
		if err != nil {
			continue // skip corrupt entries rather than failing the listing
		}
		members = append(members, org.ReconstructMembership(orgID, userID, role))
	}
	return members, nil
}

// RemoveMembership deletes a membership.
func (r *Repo) RemoveMembership(ctx context.Context, orgID, userID string) error {
	key := membersKey(orgID)
	if err := r.store.HDel(ctx, key, userID); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

// PutFarmGrant creates or replaces a farm access grant.
func (r *Repo) PutFarmGrant(ctx context.Context, g org.FarmAccessGrant) error {
	exists, err := r.store.Exists(ctx, orgKey(g.OrganizationID()))
	if err != nil {
		return fmt.Errorf("check exists %s: %w", orgKey(g.OrganizationID()), err)
	}
	if !exists {
		return fmt.Errorf("organization %s: %w", g.OrganizationID(), domain.ErrOrganizationNotFound)
	}

	key := farmsKey(g.OrganizationID())
	if err := r.store.HSet(ctx, key, map[string]string{g.ResourceID(): string(g.Access())}); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// ListFarmGrants returns all farm grants of an organization.
func (r *Repo) ListFarmGrants(ctx context.Context, orgID string) ([]org.FarmAccessGrant, error) {
	key := farmsKey(orgID)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	grants := make([]org.FarmAccessGrant, 0, len(fields))
	for resourceID, accessStr := range fields {
		access, err := org.ParseAccessType(accessStr)
		if err != nil {
			continue
		}
		grants = append(grants, org.ReconstructFarmAccessGrant(orgID, resourceID, access))
	}
	return grants, nil
}

// RemoveFarmGrant deletes a farm access grant.
func (r *Repo) RemoveFarmGrant(ctx context.Context, orgID, resourceID string) error {
	key := farmsKey(orgID)
	if err := r.store.HDel(ctx, key, resourceID); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func orgKey(id string) string {
	return domain.KeyPrefix + "org:" + id
}

func membersKey(id string) string {
	return orgKey(id) + ":members"
}

func farmsKey(id string) string {
	return orgKey(id) + ":farms"
}
