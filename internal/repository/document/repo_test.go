package document

import (
	"context"
	"errors"
	"testing"

	"github.com/agrisage-cloud/knowd/internal/db/memory"
	"github.com/agrisage-cloud/knowd/internal/domain"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo := New(memory.NewStore())
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	return repo
}

func newDoc(t *testing.T, id, ownerOrg string, visibility domdoc.Visibility) domdoc.Document {
	t.Helper()
	doc, err := domdoc.New(id, ownerOrg, "uploader-1", "content/"+id, "text/plain", visibility)
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	return doc
}

// createCompleted creates a document and walks it to completed state.
func createCompleted(t *testing.T, repo *Repo, id, ownerOrg string, visibility domdoc.Visibility) {
	t.Helper()
	ctx := context.Background()
	doc := newDoc(t, id, ownerOrg, visibility)
	if err := repo.Create(ctx, &doc); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	if _, err := repo.Claim(ctx, id); err != nil {
		t.Fatalf("claim %s: %v", id, err)
	}
	if err := repo.MarkCompleted(ctx, id, 3, "hash-"+id); err != nil {
		t.Fatalf("complete %s: %v", id, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDoc(t, "doc-1", "org-a", domdoc.VisibilityInternal)
	if err := repo.Create(ctx, &doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerOrg() != "org-a" || got.State() != domdoc.StatePending {
		t.Errorf("unexpected document: org=%s state=%s", got.OwnerOrg(), got.State())
	}
	if got.CreatedAt() == 0 || got.UpdatedAt() == 0 {
		t.Error("expected timestamps to be stamped")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDoc(t, "doc-1", "org-a", domdoc.VisibilityInternal)
	_ = repo.Create(ctx, &doc)
	err := repo.Create(ctx, &doc)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestClaim_ExactlyOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDoc(t, "doc-1", "org-a", domdoc.VisibilityInternal)
	_ = repo.Create(ctx, &doc)

	claimed, err := repo.Claim(ctx, "doc-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claimed.State() != domdoc.StateProcessing {
		t.Errorf("expected processing, got %s", claimed.State())
	}
	if claimed.Attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", claimed.Attempts())
	}

	_, err = repo.Claim(ctx, "doc-1")
	if !errors.Is(err, domain.ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict, got %v", err)
	}
	var conflict *domain.ClaimConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ClaimConflictError, got %T", err)
	}
	if conflict.State != string(domdoc.StateProcessing) {
		t.Errorf("unexpected conflict state: %s", conflict.State)
	}
}

func TestClaim_InconsistentRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDoc(t, "doc-1", "org-a", domdoc.VisibilityInternal)
	_ = repo.Create(ctx, &doc)
	if err := repo.SetInconsistent(ctx, "doc-1"); err != nil {
		t.Fatalf("set inconsistent: %v", err)
	}

	_, err := repo.Claim(ctx, "doc-1")
	if !errors.Is(err, domain.ErrClaimConflict) {
		t.Errorf("expected ErrClaimConflict for inconsistent doc, got %v", err)
	}
}

func TestMarkCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "doc-1", "org-a", domdoc.VisibilityInternal)

	got, err := repo.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State() != domdoc.StateCompleted {
		t.Errorf("expected completed, got %s", got.State())
	}
	if got.ChunkCount() != 3 {
		t.Errorf("expected 3 chunks, got %d", got.ChunkCount())
	}
	if got.ContentHash() != "hash-doc-1" {
		t.Errorf("unexpected content hash: %s", got.ContentHash())
	}
}

func TestUpdateSharing_BumpsVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "doc-1", "org-a", domdoc.VisibilityInternal)
	before, _ := repo.Get(ctx, "doc-1")

	sharing, err := domdoc.NewSharing(domdoc.VisibilityShared, []string{"org-b"}, []string{"user-9"})
	if err != nil {
		t.Fatalf("new sharing: %v", err)
	}
	v1, err := repo.UpdateSharing(ctx, "doc-1", sharing)
	if err != nil {
		t.Fatalf("update sharing: %v", err)
	}
	if v1 <= before.UpdatedAt() {
		t.Errorf("version not bumped: %d <= %d", v1, before.UpdatedAt())
	}

	v2, err := repo.UpdateSharing(ctx, "doc-1", sharing)
	if err != nil {
		t.Fatalf("update sharing again: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("version not monotonic: %d <= %d", v2, v1)
	}

	got, _ := repo.Get(ctx, "doc-1")
	if got.Visibility() != domdoc.VisibilityShared {
		t.Errorf("unexpected visibility: %s", got.Visibility())
	}
	stored := got.Sharing()
	if len(stored.Organizations()) != 1 || stored.Organizations()[0] != "org-b" {
		t.Errorf("unexpected shared orgs: %v", stored.Organizations())
	}
}

func TestUpdateSharing_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	sharing, _ := domdoc.NewSharing(domdoc.VisibilityInternal, nil, nil)
	_, err := repo.UpdateSharing(context.Background(), "missing", sharing)
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestCASState_Resubmission(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDoc(t, "doc-1", "org-a", domdoc.VisibilityInternal)
	_ = repo.Create(ctx, &doc)
	_, _ = repo.Claim(ctx, "doc-1")
	_ = repo.MarkFailed(ctx, "doc-1")

	won, err := repo.CASState(ctx, "doc-1", domdoc.StateFailed, domdoc.StatePending,
		map[string]string{fieldAttempts: "0"})
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !won {
		t.Fatal("expected failed->pending to win")
	}

	got, _ := repo.Get(ctx, "doc-1")
	if got.State() != domdoc.StatePending || got.Attempts() != 0 {
		t.Errorf("unexpected state after resubmit: %s attempts=%d", got.State(), got.Attempts())
	}

	// the same transition cannot apply twice
	won, err = repo.CASState(ctx, "doc-1", domdoc.StateFailed, domdoc.StatePending, nil)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if won {
		t.Error("expected second cas to lose")
	}
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDoc(t, "doc-1", "org-a", domdoc.VisibilityInternal)
	_ = repo.Create(ctx, &doc)

	if err := repo.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "doc-1"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := repo.Delete(ctx, "doc-1"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound on double delete, got %v", err)
	}
}

func TestIncrQueryCountAndTouch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "doc-1", "org-a", domdoc.VisibilityInternal)

	_ = repo.IncrQueryCount(ctx, "doc-1")
	_ = repo.IncrQueryCount(ctx, "doc-1")
	_ = repo.TouchAccessed(ctx, "doc-1", 1700000000000)

	got, _ := repo.Get(ctx, "doc-1")
	if got.QueryCount() != 2 {
		t.Errorf("expected query count 2, got %d", got.QueryCount())
	}
	if got.LastAccessedAt() != 1700000000000 {
		t.Errorf("unexpected last accessed: %d", got.LastAccessedAt())
	}
}

func TestAccessibleIDs_DisjunctiveGroups(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "own", "org-a", domdoc.VisibilityInternal)
	createCompleted(t, repo, "foreign", "org-b", domdoc.VisibilityInternal)
	createCompleted(t, repo, "pub", "org-b", domdoc.VisibilityPublic)
	createCompleted(t, repo, "org-share", "org-b", domdoc.VisibilityShared)
	createCompleted(t, repo, "user-share", "org-b", domdoc.VisibilityShared)

	orgShare, _ := domdoc.NewSharing(domdoc.VisibilityShared, []string{"org-a"}, nil)
	if _, err := repo.UpdateSharing(ctx, "org-share", orgShare); err != nil {
		t.Fatalf("share to org: %v", err)
	}
	userShare, _ := domdoc.NewSharing(domdoc.VisibilityShared, nil, []string{"user-1"})
	if _, err := repo.UpdateSharing(ctx, "user-share", userShare); err != nil {
		t.Fatalf("share to user: %v", err)
	}

	// pending documents never resolve
	pending := newDoc(t, "pending-doc", "org-a", domdoc.VisibilityInternal)
	_ = repo.Create(ctx, &pending)

	set, err := repo.AccessibleIDs(ctx, "user-1", "org-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, want := range []string{"own", "pub", "org-share", "user-share"} {
		if !set.Contains(want) {
			t.Errorf("expected %s in set %v", want, set.IDs())
		}
	}
	for _, unwanted := range []string{"foreign", "pending-doc"} {
		if set.Contains(unwanted) {
			t.Errorf("did not expect %s in set %v", unwanted, set.IDs())
		}
	}
}

func TestAccessibleIDs_PublicOnlyForStranger(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "pub", "org-a", domdoc.VisibilityPublic)
	createCompleted(t, repo, "priv", "org-a", domdoc.VisibilityInternal)

	set, err := repo.AccessibleIDs(ctx, "stranger", "org-z")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !set.Contains("pub") || set.Contains("priv") {
		t.Errorf("unexpected set: %v", set.IDs())
	}
}

func TestMostQueried_Ordering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "cold", "org-a", domdoc.VisibilityInternal)
	createCompleted(t, repo, "warm", "org-a", domdoc.VisibilityInternal)
	createCompleted(t, repo, "hot", "org-a", domdoc.VisibilityInternal)
	createCompleted(t, repo, "other", "org-b", domdoc.VisibilityInternal)

	for range 5 {
		_ = repo.IncrQueryCount(ctx, "hot")
	}
	for range 2 {
		_ = repo.IncrQueryCount(ctx, "warm")
	}

	docs, err := repo.MostQueried(ctx, "org-a", 2)
	if err != nil {
		t.Fatalf("most queried: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].ID() != "hot" || docs[1].ID() != "warm" {
		t.Errorf("unexpected order: %s, %s", docs[0].ID(), docs[1].ID())
	}
}

func TestCountByOrg(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	createCompleted(t, repo, "a", "org-a", domdoc.VisibilityInternal)
	createCompleted(t, repo, "b", "org-a", domdoc.VisibilityInternal)
	createCompleted(t, repo, "c", "org-b", domdoc.VisibilityInternal)

	n, err := repo.CountByOrg(ctx, "org-a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}
