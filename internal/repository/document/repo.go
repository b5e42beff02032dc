// Package document persists knowledge documents as Redis hashes indexed for
// permission-filtered lookups.
package document

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agrisage-cloud/knowd/internal/db"
	"github.com/agrisage-cloud/knowd/internal/domain"
	"github.com/agrisage-cloud/knowd/internal/domain/access"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	"github.com/agrisage-cloud/knowd/internal/domain/search/filter"
)

// maxAccessibleDocs bounds a single accessible-set resolution.
const maxAccessibleDocs = 10000

// store is the consumer interface for documents (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HSetIfEquals(ctx context.Context, key, guardField, expected string, fields map[string]string) (bool, error)
	HSetVersioned(ctx context.Context, key string, fields map[string]string, versionField string) (int64, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	Search(ctx context.Context, q *db.FilterQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, q *db.FilterQuery) (int, error)
}

// Repo implements document persistence for the ingestion, retrieval and
// access-resolution use cases.
type Repo struct {
	store store
	now   func() time.Time
}

// New creates a document repository.
func New(s store) *Repo {
	return &Repo{store: s, now: time.Now}
}

// EnsureIndex creates the document FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def := db.NewIndex(indexName()).
		Prefix(keyPrefix()).
		Tag(fieldOwnerOrg).
		Tag(fieldUploader).
		Tag(fieldVisibility).
		Tag(fieldState).
		TagWithOpts(fieldSharedOrgs, tagListSep, false).
		TagWithOpts(fieldSharedUsers, tagListSep, false).
		Numeric(fieldUpdatedAt).
		Numeric(fieldQueryCount).
		MustBuild()

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", indexName(), err)
	}
	return nil
}

// Create stores a new document record.
func (r *Repo) Create(ctx context.Context, doc *domdoc.Document) error {
	key := docKey(doc.ID())

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if exists {
		return fmt.Errorf("document %s: %w", doc.ID(), domain.ErrAlreadyExists)
	}

	now := r.now().UnixMilli()
	fields := buildHashFields(doc)
	fields[fieldCreatedAt] = strconv.FormatInt(now, 10)
	fields[fieldUpdatedAt] = strconv.FormatInt(now, 10)

	if err := r.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// Get returns a document by id.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	key := docKey(id)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	return parseHashFields(id, fields), nil
}

// GetMulti returns documents by id in one round-trip, skipping missing ones.
func (r *Repo) GetMulti(ctx context.Context, ids []string) ([]domdoc.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi: %w", err)
	}
	docs := make([]domdoc.Document, 0, len(ids))
	for i, m := range maps {
		if len(m) == 0 {
			continue
		}
		docs = append(docs, parseHashFields(ids[i], m))
	}
	return docs, nil
}

// Claim atomically transitions a pending document to processing and bumps the
// attempt counter. Exactly one concurrent claimer wins; losers get a
// ClaimConflictError carrying the state they observed.
func (r *Repo) Claim(ctx context.Context, id string) (domdoc.Document, error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return domdoc.Document{}, err
	}
	if doc.Inconsistent() {
		return domdoc.Document{}, domain.NewClaimConflict(id, "inconsistent")
	}

	fields := map[string]string{
		fieldState:    string(domdoc.StateProcessing),
		fieldAttempts: strconv.Itoa(doc.Attempts() + 1),
	}
	won, err := r.store.HSetIfEquals(ctx, docKey(id), fieldState, string(domdoc.StatePending), fields)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("claim %s: %w", id, err)
	}
	if !won {
		current, getErr := r.Get(ctx, id)
		state := "unknown"
		if getErr == nil {
			state = string(current.State())
		}
		return domdoc.Document{}, domain.NewClaimConflict(id, state)
	}

	return r.Get(ctx, id)
}

// MarkCompleted finalizes a successful ingestion attempt. The updated_at bump
// is monotonic so retrieval tie-breaking always prefers the fresher content.
func (r *Repo) MarkCompleted(ctx context.Context, id string, chunkCount int, contentHash string) error {
	fields := map[string]string{
		fieldState:       string(domdoc.StateCompleted),
		fieldChunkCount:  strconv.Itoa(chunkCount),
		fieldContentHash: contentHash,
	}
	if _, err := r.store.HSetVersioned(ctx, docKey(id), fields, fieldUpdatedAt); err != nil {
		return fmt.Errorf("mark completed %s: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed ingestion attempt.
func (r *Repo) MarkFailed(ctx context.Context, id string) error {
	fields := map[string]string{
		fieldState:      string(domdoc.StateFailed),
		fieldChunkCount: "0",
	}
	if err := r.store.HSet(ctx, docKey(id), fields); err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// SetInconsistent flags a document whose rollback failed. Flagged documents
// reject further claims until an operator intervenes.
func (r *Repo) SetInconsistent(ctx context.Context, id string) error {
	fields := map[string]string{
		fieldState:        string(domdoc.StateFailed),
		fieldInconsistent: "1",
	}
	if err := r.store.HSet(ctx, docKey(id), fields); err != nil {
		return fmt.Errorf("set inconsistent %s: %w", id, err)
	}
	return nil
}

// UpdateSharing replaces the sharing policy and bumps updated_at. Returns the
// new version in unix millis.
func (r *Repo) UpdateSharing(ctx context.Context, id string, sharing domdoc.Sharing) (int64, error) {
	key := docKey(id)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return 0, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}

	fields := map[string]string{
		fieldVisibility:  string(sharing.Visibility()),
		fieldSharedOrgs:  strings.Join(sharing.Organizations(), tagListSep),
		fieldSharedUsers: strings.Join(sharing.Users(), tagListSep),
	}
	version, err := r.store.HSetVersioned(ctx, key, fields, fieldUpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("update sharing %s: %w", id, err)
	}
	return version, nil
}

// CASState transitions the document state only from the expected one,
// applying extra fields atomically with the transition.
func (r *Repo) CASState(ctx context.Context, id string, from, to domdoc.State, extra map[string]string) (bool, error) {
	fields := map[string]string{fieldState: string(to)}
	for k, v := range extra {
		fields[k] = v
	}
	won, err := r.store.HSetIfEquals(ctx, docKey(id), fieldState, string(from), fields)
	if err != nil {
		return false, fmt.Errorf("cas state %s %s->%s: %w", id, from, to, err)
	}
	return won, nil
}

// Requeue returns a document to pending from the given state, resetting the
// attempt counter and clearing the inconsistency flag. This is the
// resubmission path.
func (r *Repo) Requeue(ctx context.Context, id string, from domdoc.State) (bool, error) {
	return r.CASState(ctx, id, from, domdoc.StatePending, map[string]string{
		fieldAttempts:     "0",
		fieldInconsistent: "0",
	})
}

// Release returns a processing document to pending, keeping the attempt
// counter. This is the path between retry attempts.
func (r *Repo) Release(ctx context.Context, id string) (bool, error) {
	return r.CASState(ctx, id, domdoc.StateProcessing, domdoc.StatePending, nil)
}

// Delete removes the document record. Chunk cleanup happens before this call.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := docKey(id)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// IncrQueryCount bumps the retrieval counter of a document.
func (r *Repo) IncrQueryCount(ctx context.Context, id string) error {
	if _, err := r.store.HIncrBy(ctx, docKey(id), fieldQueryCount, 1); err != nil {
		return fmt.Errorf("incr query count %s: %w", id, err)
	}
	return nil
}

// TouchAccessed records the last retrieval time.
func (r *Repo) TouchAccessed(ctx context.Context, id string, at int64) error {
	fields := map[string]string{fieldLastAccessedAt: strconv.FormatInt(at, 10)}
	if err := r.store.HSet(ctx, docKey(id), fields); err != nil {
		return fmt.Errorf("touch accessed %s: %w", id, err)
	}
	return nil
}

// AccessibleIDs resolves the set of completed documents the (user, org) pair
// may read, in a single index query: completed state is mandatory, and at
// least one of ownership, an explicit grant, or public visibility must hold.
func (r *Repo) AccessibleIDs(ctx context.Context, userID, orgID string) (access.Set, error) {
	mustState, err := filter.NewMatch(fieldState, string(domdoc.StateCompleted))
	if err != nil {
		return access.Set{}, fmt.Errorf("build state condition: %w", err)
	}

	var should []filter.Condition
	if orgID != "" {
		owned, err := filter.NewMatch(fieldOwnerOrg, orgID)
		if err != nil {
			return access.Set{}, fmt.Errorf("build owner condition: %w", err)
		}
		shared, err := filter.NewMatch(fieldSharedOrgs, orgID)
		if err != nil {
			return access.Set{}, fmt.Errorf("build shared-org condition: %w", err)
		}
		should = append(should, owned, shared)
	}
	if userID != "" {
		sharedUser, err := filter.NewMatch(fieldSharedUsers, userID)
		if err != nil {
			return access.Set{}, fmt.Errorf("build shared-user condition: %w", err)
		}
		should = append(should, sharedUser)
	}
	public, err := filter.NewMatch(fieldVisibility, string(domdoc.VisibilityPublic))
	if err != nil {
		return access.Set{}, fmt.Errorf("build public condition: %w", err)
	}
	should = append(should, public)

	expr, err := filter.NewExpression([]filter.Condition{mustState}, should, nil)
	if err != nil {
		return access.Set{}, fmt.Errorf("build expression: %w", err)
	}

	result, err := r.store.Search(ctx, &db.FilterQuery{
		IndexName: indexName(),
		Filters:   expr,
		Limit:     maxAccessibleDocs,
		IDsOnly:   true,
	})
	if err != nil {
		return access.Set{}, fmt.Errorf("resolve accessible ids: %w", err)
	}

	ids := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		ids = append(ids, docIDFromKey(entry.Key))
	}
	return access.NewSet(ids...), nil
}

// MostQueried returns an organization's own documents ordered by retrieval
// count, highest first.
func (r *Repo) MostQueried(ctx context.Context, orgID string, limit int) ([]domdoc.Document, error) {
	owned, err := filter.NewMatch(fieldOwnerOrg, orgID)
	if err != nil {
		return nil, fmt.Errorf("build owner condition: %w", err)
	}
	expr, err := filter.NewExpression([]filter.Condition{owned}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}

	result, err := r.store.Search(ctx, &db.FilterQuery{
		IndexName: indexName(),
		Filters:   expr,
		Limit:     limit,
		SortBy:    fieldQueryCount,
		SortDesc:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("search most queried: %w", err)
	}

	docs := make([]domdoc.Document, 0, len(result.Entries))
	for _, entry := range result.Entries {
		docs = append(docs, parseHashFields(docIDFromKey(entry.Key), entry.Fields))
	}
	return docs, nil
}

// CountByOrg returns the number of documents owned by an organization.
func (r *Repo) CountByOrg(ctx context.Context, orgID string) (int, error) {
	owned, err := filter.NewMatch(fieldOwnerOrg, orgID)
	if err != nil {
		return 0, fmt.Errorf("build owner condition: %w", err)
	}
	expr, err := filter.NewExpression([]filter.Condition{owned}, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("build expression: %w", err)
	}
	n, err := r.store.SearchCount(ctx, &db.FilterQuery{IndexName: indexName(), Filters: expr})
	if err != nil {
		return 0, fmt.Errorf("count by org: %w", err)
	}
	return n, nil
}

func keyPrefix() string {
	return domain.KeyPrefix + "doc:"
}

func docKey(id string) string {
	return keyPrefix() + id
}

func indexName() string {
	return domain.KeyPrefix + "doc:idx"
}

func docIDFromKey(key string) string {
	return strings.TrimPrefix(key, keyPrefix())
}
